package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
)

// LifecycleHandler reacts to session notifications: it persists login
// attempts and keys, alerts the admins and hands refreshed cookies to the
// dependent clients.
type LifecycleHandler struct {
	accountName  string
	store        RunStateStore
	sealer       SecretSealer
	notifier     Notifier
	logger       *slog.Logger
	storeTimeout time.Duration

	mu    sync.RWMutex
	sinks []CookieSink
}

// NewLifecycleHandler creates a new LifecycleHandler. sealer may be nil, in
// which case login keys are stored as is.
func NewLifecycleHandler(accountName string, store RunStateStore, sealer SecretSealer, notifier Notifier, logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		accountName:  accountName,
		store:        store,
		sealer:       sealer,
		notifier:     notifier,
		logger:       logger,
		storeTimeout: 5 * time.Second,
	}
}

// AddCookieSink registers a client that needs the web session cookies
func (h *LifecycleHandler) AddCookieSink(sink CookieSink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// OnReady implements SessionListener
func (h *LifecycleHandler) OnReady() {
	h.logger.Info("session is ready", slog.String("account", h.accountName))
	h.notifier.Notify(context.Background(), CategoryReady, fmt.Sprintf("%s is ready", h.accountName))
}

// OnLoginThrottled implements SessionListener
func (h *LifecycleHandler) OnLoginThrottled(wait time.Duration) {
	h.logger.Warn("login attempt has been throttled", slog.Duration("wait", wait))
	h.notifier.Notify(context.Background(), CategoryThrottle,
		fmt.Sprintf("Login attempt has been throttled, waiting %s before signing in", wait.Round(time.Second)))
}

// OnLoginAttemptsChanged implements SessionListener
func (h *LifecycleHandler) OnLoginAttemptsChanged(attempts []time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	if err := h.store.SaveLoginAttempts(ctx, h.accountName, attempts); err != nil {
		h.logger.Error("failed to save login attempts", slog.Any("error", err))
	}
}

// OnLoginKey implements SessionListener
func (h *LifecycleHandler) OnLoginKey(loginKey string) {
	h.logger.Debug("new login key", slog.String("login_key", pkglogger.MaskSecret(loginKey)))

	stored := loginKey
	if h.sealer != nil {
		sealed, err := h.sealer.Seal(loginKey)
		if err != nil {
			h.logger.Error("failed to seal login key", slog.Any("error", err))
			return
		}
		stored = sealed
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	if err := h.store.SaveLoginKey(ctx, h.accountName, stored); err != nil {
		h.logger.Error("failed to save login key", slog.Any("error", err))
	}
}

// OnSessionCookies implements SessionListener
func (h *LifecycleHandler) OnSessionCookies(cookies []string) {
	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()

	for _, sink := range sinks {
		sink.SetCookies(cookies)
	}
}

// OnStop reports why the bot is stopping
func (h *LifecycleHandler) OnStop(err error) {
	if err == nil {
		h.logger.Info("bot is stopping")
		return
	}
	h.logger.Error("bot is stopping", slog.Any("error", err))
	h.notifier.Notify(context.Background(), CategoryError, fmt.Sprintf("%s is stopping: %v", h.accountName, err))
}
