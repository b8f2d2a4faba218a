package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/autobot/internal/events"
	"github.com/BradenHooton/autobot/internal/models"
	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
	"k8s.io/utils/clock"
)

// wireEvent is an event as reported by the gateway's event feed
type wireEvent struct {
	ID            int64                      `json:"id"`
	Kind          events.Kind                `json:"kind"`
	AttemptID     string                     `json:"attempt_id,omitempty"`
	Result        models.ResultCode          `json:"result,omitempty"`
	Error         string                     `json:"error,omitempty"`
	Identity      string                     `json:"identity,omitempty"`
	SessionID     string                     `json:"session_id,omitempty"`
	Cookies       []string                   `json:"cookies,omitempty"`
	LoginKey      string                     `json:"login_key,omitempty"`
	Limitations   *models.AccountLimitations `json:"limitations,omitempty"`
	LastCodeWrong bool                       `json:"last_code_wrong,omitempty"`
	Tag           string                     `json:"tag,omitempty"`
	RequestID     string                     `json:"request_id,omitempty"`
}

type eventBatch struct {
	Events []wireEvent `json:"events"`
}

type twoFactorAnswer struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
}

type confirmationAnswer struct {
	RequestID string `json:"request_id"`
	Time      int64  `json:"time"`
	Key       string `json:"key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GatewayConfig configures a Gateway
type GatewayConfig struct {
	BaseURL       string
	PollTimeout   time.Duration
	RetryInterval time.Duration
	AnswerTimeout time.Duration
}

// Gateway is the network client backed by the gateway sidecar. Calls are
// plain JSON requests; events are read from a long-poll feed by Run and
// published on the bus.
type Gateway struct {
	client *jsonClient
	bus    *events.Bus
	clock  clock.Clock
	logger *slog.Logger
	cfg    GatewayConfig

	mu          sync.RWMutex
	cursor      int64
	limitations *models.AccountLimitations
	cookies     []string
}

// NewGateway creates a new Gateway. httpClient must not time out before PollTimeout.
func NewGateway(cfg GatewayConfig, httpClient *http.Client, bus *events.Bus, clk clock.Clock, logger *slog.Logger) *Gateway {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 10 * time.Second
	}
	return &Gateway{
		client: newJSONClient(cfg.BaseURL, httpClient, logger),
		bus:    bus,
		clock:  clk,
		logger: logger,
		cfg:    cfg,
	}
}

// SignIn sends the credentials. The outcome arrives as a signed_on or
// sign_in_failed event.
func (g *Gateway) SignIn(ctx context.Context, details models.SignInDetails) error {
	return g.client.do(ctx, http.MethodPost, "/session/signin", details, nil)
}

// LogOff ends the session
func (g *Gateway) LogOff(ctx context.Context) error {
	return g.client.do(ctx, http.MethodPost, "/session/logoff", nil, nil)
}

// RequestWebLogin asks for web session cookies. They arrive as a web_session event.
func (g *Gateway) RequestWebLogin(ctx context.Context) error {
	return g.client.do(ctx, http.MethodPost, "/session/weblogin", nil, nil)
}

// Subscribe implements the network client contract on top of the bus
func (g *Gateway) Subscribe(kinds ...events.Kind) *events.Subscription {
	return g.bus.Subscribe(kinds...)
}

// Limitations returns the last reported account limitations, or nil
func (g *Gateway) Limitations() *models.AccountLimitations {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limitations
}

// WebCookies returns the last web session cookies, or nil
func (g *Gateway) WebCookies() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cookies
}

// Run reads the event feed until ctx is done
func (g *Gateway) Run(ctx context.Context) {
	g.logger.Info("gateway event feed started")
	for {
		err := g.poll(ctx)
		if ctx.Err() != nil {
			g.logger.Info("gateway event feed stopped")
			return
		}
		if err == nil {
			continue
		}

		g.logger.Warn("gateway event feed failed, retrying",
			slog.Any("error", err),
			slog.Duration("retry_in", g.cfg.RetryInterval),
		)
		select {
		case <-ctx.Done():
			g.logger.Info("gateway event feed stopped")
			return
		case <-g.clock.After(g.cfg.RetryInterval):
		}
	}
}

func (g *Gateway) poll(ctx context.Context) error {
	g.mu.RLock()
	after := g.cursor
	g.mu.RUnlock()

	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("timeout", strconv.Itoa(int(g.cfg.PollTimeout/time.Second)))

	var batch eventBatch
	if err := g.client.do(ctx, http.MethodGet, "/session/events?"+q.Encode(), nil, &batch); err != nil {
		return err
	}

	for _, we := range batch.Events {
		if we.ID <= after {
			continue
		}
		g.dispatch(we)
		after = we.ID
	}

	g.mu.Lock()
	g.cursor = after
	g.mu.Unlock()
	return nil
}

// dispatch updates the caches and publishes the translated event
func (g *Gateway) dispatch(we wireEvent) {
	ev := events.Event{
		Kind:        we.Kind,
		AttemptID:   we.AttemptID,
		Result:      we.Result,
		Identity:    we.Identity,
		SessionID:   we.SessionID,
		Cookies:     we.Cookies,
		LoginKey:    we.LoginKey,
		Limitations: we.Limitations,
	}
	if we.Error != "" {
		ev.Err = errors.New(we.Error)
	}

	switch we.Kind {
	case events.KindAccountLimitations:
		g.mu.Lock()
		g.limitations = we.Limitations
		g.mu.Unlock()
	case events.KindWebSession:
		g.mu.Lock()
		g.cookies = append([]string(nil), we.Cookies...)
		g.mu.Unlock()
		g.client.setCookies(we.Cookies)
	case events.KindWebSessionExpired:
		g.mu.Lock()
		g.cookies = nil
		g.mu.Unlock()
	case events.KindTwoFactorRequested:
		requestID := we.RequestID
		ev.TwoFactor = &events.TwoFactorRequest{
			LastCodeWrong: we.LastCodeWrong,
			Respond: func(code string) {
				g.answer("/session/twofactor", twoFactorAnswer{RequestID: requestID, Code: code})
			},
		}
	case events.KindConfirmationKeyNeeded:
		requestID := we.RequestID
		ev.Confirmation = &events.ConfirmationRequest{
			Tag: we.Tag,
			Respond: func(at time.Time, key string, err error) {
				a := confirmationAnswer{RequestID: requestID, Time: at.Unix(), Key: key}
				if err != nil {
					a.Error = err.Error()
					a.Key = ""
				}
				g.answer("/session/confirmation", a)
			},
		}
	}

	attrs := []any{slog.String("kind", string(we.Kind)), slog.Int64("id", we.ID)}
	if we.LoginKey != "" {
		attrs = append(attrs, slog.String("login_key", pkglogger.MaskSecret(we.LoginKey)))
	}
	if len(we.Cookies) > 0 {
		attrs = append(attrs, slog.Any("cookies", pkglogger.CookieNames(we.Cookies)))
	}
	g.logger.Debug("gateway event", attrs...)

	if delivered := g.bus.Publish(ev); delivered == 0 {
		g.logger.Debug("gateway event had no subscribers", slog.String("kind", string(we.Kind)))
	}
}

func (g *Gateway) answer(path string, body any) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.AnswerTimeout)
	defer cancel()

	if err := g.client.do(ctx, http.MethodPost, path, body, nil); err != nil {
		g.logger.Error("failed to answer gateway request",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}
