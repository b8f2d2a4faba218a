package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BradenHooton/autobot/internal/auth"
	"github.com/BradenHooton/autobot/internal/events"
	"github.com/BradenHooton/autobot/internal/models"
	testingclock "k8s.io/utils/clock/testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// fakeClient implements NetworkClient on top of a real bus. Hooks run
// synchronously inside the call and may publish replies.
type fakeClient struct {
	bus *events.Bus

	mu          sync.Mutex
	signIns     []models.SignInDetails
	webLogins   int
	logoffs     int
	limitations *models.AccountLimitations
	cookies     []string

	OnSignIn    func(details models.SignInDetails, n int)
	OnWebLogin  func(n int)
	OnSubscribe func(kinds []events.Kind)
	SignInErr   error
	WebLoginErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{bus: events.NewBus()}
}

func (c *fakeClient) SignIn(ctx context.Context, details models.SignInDetails) error {
	c.mu.Lock()
	c.signIns = append(c.signIns, details)
	n := len(c.signIns)
	hook := c.OnSignIn
	err := c.SignInErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(details, n)
	}
	return nil
}

func (c *fakeClient) LogOff(ctx context.Context) error {
	c.mu.Lock()
	c.logoffs++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) RequestWebLogin(ctx context.Context) error {
	c.mu.Lock()
	c.webLogins++
	n := c.webLogins
	hook := c.OnWebLogin
	err := c.WebLoginErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *fakeClient) Subscribe(kinds ...events.Kind) *events.Subscription {
	sub := c.bus.Subscribe(kinds...)
	if c.OnSubscribe != nil {
		c.OnSubscribe(kinds)
	}
	return sub
}

func (c *fakeClient) Limitations() *models.AccountLimitations {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limitations
}

func (c *fakeClient) WebCookies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookies
}

func (c *fakeClient) SignInCalls() []models.SignInDetails {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SignInDetails, len(c.signIns))
	copy(out, c.signIns)
	return out
}

func (c *fakeClient) WebLogins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webLogins
}

func (c *fakeClient) Logoffs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoffs
}

// acceptSignIns makes every sign-in succeed with the given identity
func (c *fakeClient) acceptSignIns(identity string) {
	c.OnSignIn = func(details models.SignInDetails, n int) {
		c.bus.Publish(events.Event{Kind: events.KindSignedOn, Identity: identity})
	}
}

// rejectSignIns makes every sign-in fail with the given result
func (c *fakeClient) rejectSignIns(result models.ResultCode) {
	c.OnSignIn = func(details models.SignInDetails, n int) {
		c.bus.Publish(events.Event{Kind: events.KindSignInFailed, Result: result})
	}
}

// recordingListener records every SessionListener notification
type recordingListener struct {
	mu        sync.Mutex
	ready     int
	throttled []time.Duration
	attempts  [][]time.Time
	loginKeys []string
	cookies   [][]string
}

func (l *recordingListener) OnReady() {
	l.mu.Lock()
	l.ready++
	l.mu.Unlock()
}

func (l *recordingListener) OnLoginThrottled(wait time.Duration) {
	l.mu.Lock()
	l.throttled = append(l.throttled, wait)
	l.mu.Unlock()
}

func (l *recordingListener) OnLoginAttemptsChanged(attempts []time.Time) {
	l.mu.Lock()
	l.attempts = append(l.attempts, attempts)
	l.mu.Unlock()
}

func (l *recordingListener) OnLoginKey(loginKey string) {
	l.mu.Lock()
	l.loginKeys = append(l.loginKeys, loginKey)
	l.mu.Unlock()
}

func (l *recordingListener) OnSessionCookies(cookies []string) {
	l.mu.Lock()
	l.cookies = append(l.cookies, cookies)
	l.mu.Unlock()
}

func (l *recordingListener) Throttled() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.throttled...)
}

func (l *recordingListener) Ready() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *recordingListener) LoginKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loginKeys...)
}

func (l *recordingListener) Cookies() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.cookies...)
}

func (l *recordingListener) AttemptUpdates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// sessionFixture wires a SessionManager to fakes and a fake clock
type sessionFixture struct {
	clock    *testingclock.FakeClock
	client   *fakeClient
	listener *recordingListener
	stop     *StopSignal
	codes    *auth.TOTPManager
	manager  *SessionManager
}

const testSharedSecret = "cnOgv/KdpLoP6Nbh0GMkXkPXALQ="

func newSessionFixture(cfg SessionConfig) *sessionFixture {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	client := newFakeClient()
	listener := &recordingListener{}
	stop := NewStopSignal()
	codes, _ := auth.NewTOTPManager(auth.CodeFormatSteam)
	offsets := NewTimeOffsetService(&blockingAuthority{server: clk.Now()}, clk, time.Second, newTestLogger())

	if cfg.AccountName == "" {
		cfg.AccountName = "bot-account"
	}
	if cfg.Password == "" {
		cfg.Password = "hunter2"
	}
	if cfg.SharedSecret == "" {
		cfg.SharedSecret = testSharedSecret
	}
	if cfg.IdentitySecret == "" {
		cfg.IdentitySecret = testSharedSecret
	}

	throttle := NewLoginThrottle(DefaultThrottleConfig(), clk)
	manager := NewSessionManager(cfg, client, throttle, offsets, codes, listener, stop, clk, newTestLogger())

	return &sessionFixture{
		clock:    clk,
		client:   client,
		listener: listener,
		stop:     stop,
		codes:    codes,
		manager:  manager,
	}
}

// memoryStore implements RunStateStore in memory
type memoryStore struct {
	mu       sync.Mutex
	states   map[string]*models.RunState
	loadErr  error
	saveErr  error
	keySaves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]*models.RunState)}
}

func (s *memoryStore) Load(ctx context.Context, accountName string) (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	state, ok := s.states[accountName]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (s *memoryStore) SaveLoginAttempts(ctx context.Context, accountName string, attempts []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.stateLocked(accountName).LoginAttempts = append([]time.Time(nil), attempts...)
	return nil
}

func (s *memoryStore) SaveLoginKey(ctx context.Context, accountName, loginKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.keySaves++
	s.stateLocked(accountName).LoginKey = loginKey
	return nil
}

func (s *memoryStore) stateLocked(accountName string) *models.RunState {
	state, ok := s.states[accountName]
	if !ok {
		state = &models.RunState{AccountName: accountName}
		s.states[accountName] = state
	}
	return state
}

func (s *memoryStore) get(accountName string) models.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stateLocked(accountName)
}

// recordingNotifier records notifications
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	cats     []Category
}

func (n *recordingNotifier) Notify(ctx context.Context, category Category, message string) {
	n.mu.Lock()
	n.cats = append(n.cats, category)
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) Categories() []Category {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Category(nil), n.cats...)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// cookieJar records cookies handed to a CookieSink
type cookieJar struct {
	mu      sync.Mutex
	cookies []string
	sets    int
}

func (j *cookieJar) SetCookies(cookies []string) {
	j.mu.Lock()
	j.cookies = append([]string(nil), cookies...)
	j.sets++
	j.mu.Unlock()
}

func (j *cookieJar) Get() ([]string, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.cookies...), j.sets
}
