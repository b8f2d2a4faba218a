package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/autobot/internal/events"
	"github.com/BradenHooton/autobot/internal/models"
	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// NetworkClient is the remote client the session manager drives
type NetworkClient interface {
	SignIn(ctx context.Context, details models.SignInDetails) error
	LogOff(ctx context.Context) error
	RequestWebLogin(ctx context.Context) error
	Subscribe(kinds ...events.Kind) *events.Subscription
	Limitations() *models.AccountLimitations
	WebCookies() []string
}

// SessionListener receives push notifications from the session manager
type SessionListener interface {
	OnReady()
	OnLoginThrottled(wait time.Duration)
	OnLoginAttemptsChanged(attempts []time.Time)
	OnLoginKey(loginKey string)
	OnSessionCookies(cookies []string)
}

// Stopper is asked to stop the process when the session cannot continue
type Stopper interface {
	Stop(err error)
}

// CodeGenerator derives two-factor codes and confirmation keys
type CodeGenerator interface {
	GenerateAuthCode(sharedSecret string, at time.Time) (string, error)
	ConfirmationKey(identitySecret string, at time.Time, tag string) (string, error)
}

// SessionConfig holds the account credentials and lifecycle limits
type SessionConfig struct {
	AccountName      string
	Password         string
	SharedSecret     string
	IdentitySecret   string
	RememberPassword bool
	LogonID          int

	SignInTimeout      time.Duration
	WebSessionTimeout  time.Duration
	LimitationsTimeout time.Duration

	// MaxSessionReplacements is how many forced replacements are tolerated
	// before the session is considered to be in a reconnect loop.
	MaxSessionReplacements int
	// SettlePeriod is how long a session must stay signed in before the
	// replacement counter starts over.
	SettlePeriod time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.SignInTimeout <= 0 {
		c.SignInTimeout = 60 * time.Second
	}
	if c.WebSessionTimeout <= 0 {
		c.WebSessionTimeout = 10 * time.Second
	}
	if c.LimitationsTimeout <= 0 {
		c.LimitationsTimeout = 10 * time.Second
	}
	if c.SettlePeriod <= 0 {
		c.SettlePeriod = 5 * time.Minute
	}
	if c.MaxSessionReplacements < 0 {
		c.MaxSessionReplacements = 0
	}
}

// SessionManager owns the authenticated session of the remote client: it signs
// in, reacts to forced logoffs and session replacements, answers two-factor
// requests and exposes the readiness flag.
type SessionManager struct {
	cfg      SessionConfig
	client   NetworkClient
	throttle *LoginThrottle
	offsets  *TimeOffsetService
	codes    CodeGenerator
	listener SessionListener
	stopper  Stopper
	clock    clock.Clock
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger

	ready atomic.Bool

	// signInMu keeps a single sign-in in flight
	signInMu sync.Mutex

	mu           sync.Mutex
	state        models.SessionState
	identity     string
	cookies      []string
	limitations  *models.AccountLimitations
	loginKey     string
	replaceCount int
	signedInAt   time.Time
	err          error

	startOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// NewSessionManager creates a new SessionManager
func NewSessionManager(
	cfg SessionConfig,
	client NetworkClient,
	throttle *LoginThrottle,
	offsets *TimeOffsetService,
	codes CodeGenerator,
	listener SessionListener,
	stopper Stopper,
	clk clock.Clock,
	logger *slog.Logger,
) *SessionManager {
	cfg.applyDefaults()
	if listener == nil {
		listener = NopSessionListener{}
	}

	return &SessionManager{
		cfg:      cfg,
		client:   client,
		throttle: throttle,
		offsets:  offsets,
		codes:    codes,
		listener: listener,
		stopper:  stopper,
		clock:    clk,
		logger:   logger,
		audit:    pkglogger.NewAuditLogger(logger),
		state:    models.SessionSignedOut,
		done:     make(chan struct{}),
	}
}

// Start subscribes to the client's lifecycle events. The subscriptions are
// registered before Start returns so no event published afterwards is missed.
func (m *SessionManager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		guard := m.client.Subscribe(events.KindTwoFactorRequested, events.KindConfirmationKeyNeeded)
		lifecycle := m.client.Subscribe(
			events.KindLoggedInElsewhere,
			events.KindSessionReplaced,
			events.KindDisconnected,
			events.KindWebSessionExpired,
			events.KindWebSession,
			events.KindLoginKey,
		)

		// Two-factor requests are served on their own goroutine because the
		// lifecycle loop blocks while it signs in again.
		go m.serveCodes(ctx, guard)
		go m.watchSession(ctx, lifecycle)
	})
}

// SignIn signs in with the login key if one is given. A rejected key falls
// back to the password exactly once.
func (m *SessionManager) SignIn(ctx context.Context, loginKey string) error {
	return m.signIn(ctx, loginKey, false)
}

func (m *SessionManager) signIn(ctx context.Context, loginKey string, replaced bool) error {
	m.signInMu.Lock()
	defer m.signInMu.Unlock()

	if loginKey == "" {
		return m.attempt(ctx, models.SignInModePassword, "", replaced)
	}

	m.setLoginKey(loginKey)
	err := m.attempt(ctx, models.SignInModeLoginKey, loginKey, replaced)
	if err == nil || !errors.Is(err, models.ErrCredential) {
		return err
	}

	m.logger.Warn("failed to sign in with login key, retrying with password",
		slog.String("account", m.cfg.AccountName),
		slog.Any("error", err),
	)
	m.setLoginKey("")

	return m.attempt(ctx, models.SignInModePassword, "", replaced)
}

// attempt runs a single throttled sign-in call and waits for its outcome
func (m *SessionManager) attempt(ctx context.Context, mode models.SignInMode, loginKey string, replaced bool) error {
	if err := m.Err(); err != nil {
		return err
	}

	if wait := m.throttle.ComputeWait(); wait > 0 {
		m.logger.Warn("login attempt throttled", slog.Duration("wait", wait))
		m.listener.OnLoginThrottled(wait)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}

	details := models.SignInDetails{
		AttemptID:        uuid.New().String(),
		AccountName:      m.cfg.AccountName,
		Mode:             mode,
		RememberPassword: m.cfg.RememberPassword,
		LogonID:          m.cfg.LogonID,
	}
	if mode == models.SignInModeLoginKey {
		details.LoginKey = loginKey
	} else {
		details.Password = m.cfg.Password
	}

	// Subscribe before the call so a fast reply cannot be missed
	sub := m.client.Subscribe(events.KindSignedOn, events.KindSignInFailed)
	defer sub.Close()

	m.setState(models.SessionSigningIn)
	m.listener.OnLoginAttemptsChanged(m.throttle.RecordAttempt())

	m.logger.Debug("signing in", slog.String("mode", string(mode)), slog.String("attempt_id", details.AttemptID))

	if err := m.client.SignIn(ctx, details); err != nil {
		return m.failAttempt(details, &models.LoginFailedError{Reason: "sign-in call failed", Err: err})
	}

	timer := m.clock.NewTimer(m.cfg.SignInTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return m.failAttempt(details, &models.LoginFailedError{Reason: "event stream closed"})
			}
			if ev.AttemptID != "" && ev.AttemptID != details.AttemptID {
				m.logger.Debug("ignoring reply to an earlier sign-in attempt", slog.String("attempt_id", ev.AttemptID))
				continue
			}
			if ev.Kind == events.KindSignedOn {
				m.signedOn(ev.Identity, replaced)
				m.audit.LogSignIn(pkglogger.AuditEvent{
					EventType:   "sign_in",
					AccountName: m.cfg.AccountName,
					AttemptID:   details.AttemptID,
					Mode:        string(mode),
					Success:     true,
				})
				m.logger.Info("signed in", slog.String("identity", ev.Identity), slog.String("mode", string(mode)))
				return nil
			}
			return m.failAttempt(details, &models.LoginFailedError{
				Reason: "remote rejected sign-in",
				Result: ev.Result,
				Err:    classifyResult(ev.Result, ev.Err),
			})
		case <-timer.C():
			return m.failAttempt(details, &models.LoginFailedError{
				Reason: "no login response (the remote service might be down)",
				Err:    &models.TimeoutError{Op: "sign in", After: m.cfg.SignInTimeout},
			})
		case <-ctx.Done():
			m.setState(models.SessionSignedOut)
			return ctx.Err()
		case <-m.done:
			return &models.LoginFailedError{Reason: "session terminated", Err: m.Err()}
		}
	}
}

func (m *SessionManager) failAttempt(details models.SignInDetails, err *models.LoginFailedError) error {
	m.setState(models.SessionSignedOut)
	m.audit.LogSignIn(pkglogger.AuditEvent{
		EventType:     "sign_in",
		AccountName:   details.AccountName,
		AttemptID:     details.AttemptID,
		Mode:          string(details.Mode),
		Success:       false,
		FailureReason: err.Error(),
	})
	return err
}

// classifyResult maps a remote result code onto the error taxonomy
func classifyResult(result models.ResultCode, cause error) error {
	switch {
	case result == models.ResultInvalidPassword:
		return models.ErrCredential
	case result == models.ResultLoggedInElsewhere:
		return models.ErrPolicyViolation
	case result.Transient():
		return models.ErrTransientNetwork
	case cause != nil:
		return cause
	}
	return fmt.Errorf("remote returned %s", result)
}

func (m *SessionManager) signedOn(identity string, replaced bool) {
	m.mu.Lock()
	if m.state != models.SessionTerminated {
		m.state = models.SessionSignedIn
	}
	m.identity = identity
	m.signedInAt = m.clock.Now()
	if !replaced {
		m.replaceCount = 0
	}
	m.mu.Unlock()

	m.throttle.ResetTwoFactor()
}

func (m *SessionManager) serveCodes(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindTwoFactorRequested:
				m.answerTwoFactor(ctx, ev.TwoFactor)
			case events.KindConfirmationKeyNeeded:
				m.answerConfirmation(ctx, ev.Confirmation)
			}
		}
	}
}

func (m *SessionManager) answerTwoFactor(ctx context.Context, req *events.TwoFactorRequest) {
	if req == nil {
		return
	}
	m.logger.Debug("two-factor code requested", slog.Bool("last_code_wrong", req.LastCodeWrong))

	if err := m.throttle.ReportTwoFactorResult(req.LastCodeWrong); err != nil {
		m.terminate(err)
		return
	}

	if wait := m.throttle.ComputeWait(); wait > 0 {
		m.listener.OnLoginThrottled(wait)
		if err := m.sleep(ctx, wait); err != nil {
			return
		}
	}

	code, err := m.GenerateAuthCode(ctx)
	if err != nil {
		m.logger.Error("failed to generate two-factor code", slog.Any("error", err))
		return
	}

	m.listener.OnLoginAttemptsChanged(m.throttle.RecordAttempt())
	req.Respond(code)
}

func (m *SessionManager) answerConfirmation(ctx context.Context, req *events.ConfirmationRequest) {
	if req == nil {
		return
	}

	now := m.authoritativeNow(ctx)
	key, err := m.codes.ConfirmationKey(m.cfg.IdentitySecret, now, req.Tag)
	req.Respond(now, key, err)
}

// GenerateAuthCode returns the two-factor code for the authoritative time.
// If the time offset cannot be resolved the local time is used.
func (m *SessionManager) GenerateAuthCode(ctx context.Context) (string, error) {
	return m.codes.GenerateAuthCode(m.cfg.SharedSecret, m.authoritativeNow(ctx))
}

func (m *SessionManager) authoritativeNow(ctx context.Context) time.Time {
	now, err := m.offsets.Now(ctx)
	if err != nil {
		m.logger.Warn("using local time, time offset unavailable", slog.Any("error", err))
	}
	return now
}

func (m *SessionManager) watchSession(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			m.handleLifecycle(ctx, ev)
		}
	}
}

func (m *SessionManager) handleLifecycle(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindLoggedInElsewhere:
		m.logger.Warn("signed in elsewhere, stopping the bot")
		m.terminate(models.ErrPolicyViolation)

	case events.KindSessionReplaced:
		m.onSessionReplaced(ctx)

	case events.KindDisconnected:
		if m.State() != models.SessionSignedIn {
			return
		}
		m.setState(models.SessionDisconnected)
		m.logger.Warn("disconnected from remote service, signing in again", slog.String("result", ev.Result.String()))
		if err := m.signIn(ctx, m.currentLoginKey(), false); err != nil {
			m.terminate(err)
		}

	case events.KindWebSessionExpired:
		m.logger.Debug("web session has expired")
		m.mu.Lock()
		m.cookies = nil
		m.mu.Unlock()
		if err := m.client.RequestWebLogin(ctx); err != nil {
			m.logger.Error("failed to request new web session", slog.Any("error", err))
		}

	case events.KindWebSession:
		m.logger.Debug("new web session", slog.Any("cookies", pkglogger.CookieNames(ev.Cookies)))
		m.storeCookies(ev.Cookies)
		if m.IsReady() {
			m.listener.OnSessionCookies(m.CurrentSessionCookies())
		}

	case events.KindLoginKey:
		m.setLoginKey(ev.LoginKey)
		m.listener.OnLoginKey(ev.LoginKey)
	}
}

func (m *SessionManager) onSessionReplaced(ctx context.Context) {
	m.mu.Lock()
	if m.state == models.SessionSignedIn && m.clock.Since(m.signedInAt) >= m.cfg.SettlePeriod {
		m.replaceCount = 0
	}
	m.replaceCount++
	count := m.replaceCount
	if m.state != models.SessionTerminated {
		m.state = models.SessionReplacedElsewhere
	}
	m.mu.Unlock()

	if count > m.cfg.MaxSessionReplacements {
		m.logger.Warn("detected login session replace loop, stopping the bot", slog.Int("replacements", count))
		m.terminate(models.ErrReconnectLoop)
		return
	}

	m.logger.Warn("login session replaced, signing in again", slog.Int("replacements", count))
	if err := m.signIn(ctx, "", true); err != nil {
		m.terminate(err)
	}
}

// AcquireWebSession returns the web session cookies. Cached cookies are returned
// unless eventOnly is set; otherwise a web login is requested and the
// resulting event is awaited.
func (m *SessionManager) AcquireWebSession(ctx context.Context, eventOnly bool) ([]string, error) {
	sub := m.client.Subscribe(events.KindWebSession)
	defer sub.Close()

	if !eventOnly {
		if cookies := m.CurrentSessionCookies(); len(cookies) > 0 {
			return cookies, nil
		}
	}

	if err := m.client.RequestWebLogin(ctx); err != nil {
		return nil, fmt.Errorf("failed to request web session: %w", err)
	}

	timer := m.clock.NewTimer(m.cfg.WebSessionTimeout)
	defer timer.Stop()

	select {
	case ev, ok := <-sub.C():
		if !ok {
			return nil, fmt.Errorf("web session subscription closed")
		}
		m.storeCookies(ev.Cookies)
		return m.CurrentSessionCookies(), nil
	case <-timer.C():
		return nil, &models.TimeoutError{Op: "web session", After: m.cfg.WebSessionTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AccountLimitations returns the limitations reported by the remote service,
// waiting for them if they have not arrived yet.
func (m *SessionManager) AccountLimitations(ctx context.Context) (*models.AccountLimitations, error) {
	sub := m.client.Subscribe(events.KindAccountLimitations)
	defer sub.Close()

	if l := m.cachedLimitations(); l != nil {
		return l, nil
	}

	timer := m.clock.NewTimer(m.cfg.LimitationsTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("account limitations subscription closed")
			}
			if ev.Limitations == nil {
				continue
			}
			l := *ev.Limitations
			m.mu.Lock()
			m.limitations = &l
			m.mu.Unlock()
			return &l, nil
		case <-timer.C():
			return nil, &models.TimeoutError{Op: "account limitations", After: m.cfg.LimitationsTimeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CheckEligibility fails with an IneligibleAccountError if the account is
// limited, community banned or locked.
func (m *SessionManager) CheckEligibility(ctx context.Context) error {
	l, err := m.AccountLimitations(ctx)
	if err != nil {
		return fmt.Errorf("could not get account limitations: %w", err)
	}
	return l.Eligibility()
}

func (m *SessionManager) cachedLimitations() *models.AccountLimitations {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limitations == nil {
		if l := m.client.Limitations(); l != nil {
			cp := *l
			m.limitations = &cp
		}
	}
	if m.limitations == nil {
		return nil
	}
	cp := *m.limitations
	return &cp
}

// MarkReady sets the readiness flag. It never goes back to false.
func (m *SessionManager) MarkReady() {
	if m.ready.CompareAndSwap(false, true) {
		m.logger.Info("session ready")
		m.listener.OnReady()
	}
}

// IsReady reports whether startup has completed
func (m *SessionManager) IsReady() bool {
	return m.ready.Load()
}

// Identity returns the identity reported by the last successful sign-in
func (m *SessionManager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// State returns the current session state
func (m *SessionManager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentSessionCookies returns a copy of the web session cookies
func (m *SessionManager) CurrentSessionCookies() []string {
	m.mu.Lock()
	cookies := m.cookies
	m.mu.Unlock()

	if len(cookies) == 0 {
		cookies = m.client.WebCookies()
	}

	out := make([]string, len(cookies))
	copy(out, cookies)
	return out
}

// RestoreLoginAttempts seeds the throttle with persisted attempts
func (m *SessionManager) RestoreLoginAttempts(attempts []time.Time) {
	m.throttle.SetAttempts(attempts)
}

// Status returns a snapshot for the status endpoint
func (m *SessionManager) Status() models.SessionStatus {
	m.mu.Lock()
	status := models.SessionStatus{
		State:               m.state,
		Identity:            m.identity,
		SessionReplaceCount: m.replaceCount,
	}
	if !m.signedInAt.IsZero() {
		at := m.signedInAt
		status.SignedInAt = &at
	}
	m.mu.Unlock()

	status.Ready = m.IsReady()
	status.LoginAttempts = m.throttle.Attempts()
	status.ConsecutiveWrongCodes = m.throttle.ConsecutiveWrongCodes()
	if offset, ok := m.offsets.Cached(); ok {
		status.TimeOffsetSeconds = &offset
	}
	return status
}

// LogOff signs the client out of the remote service
func (m *SessionManager) LogOff(ctx context.Context) error {
	if err := m.client.LogOff(ctx); err != nil {
		return fmt.Errorf("failed to log off: %w", err)
	}
	m.setState(models.SessionSignedOut)
	return nil
}

// Done is closed when the session is terminated
func (m *SessionManager) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that terminated the session, if any
func (m *SessionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *SessionManager) terminate(err error) {
	m.doneOnce.Do(func() {
		m.mu.Lock()
		m.state = models.SessionTerminated
		m.err = err
		m.mu.Unlock()
		close(m.done)

		m.audit.LogTermination(m.cfg.AccountName, err.Error())
		if m.stopper != nil {
			m.stopper.Stop(err)
		}
	})
}

func (m *SessionManager) setState(state models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.SessionTerminated {
		m.state = state
	}
}

func (m *SessionManager) setLoginKey(key string) {
	m.mu.Lock()
	m.loginKey = key
	m.mu.Unlock()
}

func (m *SessionManager) currentLoginKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginKey
}

func (m *SessionManager) storeCookies(cookies []string) {
	cp := make([]string, len(cookies))
	copy(cp, cookies)

	m.mu.Lock()
	m.cookies = cp
	m.mu.Unlock()
}

// sleep waits on the injected clock; it returns early if ctx is cancelled or
// the session is terminated.
func (m *SessionManager) sleep(ctx context.Context, d time.Duration) error {
	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return m.Err()
	}
}

// NopSessionListener ignores every notification
type NopSessionListener struct{}

func (NopSessionListener) OnReady() {}

func (NopSessionListener) OnLoginThrottled(time.Duration) {}

func (NopSessionListener) OnLoginAttemptsChanged([]time.Time) {}

func (NopSessionListener) OnLoginKey(string) {}

func (NopSessionListener) OnSessionCookies([]string) {}
