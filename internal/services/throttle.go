package services

import (
	"sync"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	"k8s.io/utils/clock"
)

// ThrottleConfig bounds how often the bot may try to sign in
type ThrottleConfig struct {
	Window           time.Duration
	MaxAttempts      int
	TwoFactorPenalty time.Duration
}

// DefaultThrottleConfig allows 3 attempts per minute and backs off 30s per wrong code
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Window:           60 * time.Second,
		MaxAttempts:      3,
		TwoFactorPenalty: 30 * time.Second,
	}
}

// LoginThrottle is a sliding window over login attempts plus a streak
// counter for rejected two-factor codes.
type LoginThrottle struct {
	mu         sync.Mutex
	cfg        ThrottleConfig
	clock      clock.Clock
	attempts   []time.Time
	wrongCodes int
}

// NewLoginThrottle creates a new LoginThrottle
func NewLoginThrottle(cfg ThrottleConfig, clk clock.Clock) *LoginThrottle {
	def := DefaultThrottleConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TwoFactorPenalty <= 0 {
		cfg.TwoFactorPenalty = def.TwoFactorPenalty
	}

	return &LoginThrottle{
		cfg:   cfg,
		clock: clk,
	}
}

// RecordAttempt appends the current time and returns the pruned attempts for persistence
func (t *LoginThrottle) RecordAttempt() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.attempts = append(t.attempts, now)
	t.pruneLocked(now)

	return t.copyLocked()
}

// ComputeWait returns how long to wait before the next attempt may be made
func (t *LoginThrottle) ComputeWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.pruneLocked(now)

	var wait time.Duration
	if len(t.attempts) >= t.cfg.MaxAttempts {
		wait = t.attempts[0].Add(t.cfg.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
	}

	if t.wrongCodes > 1 {
		penalty := t.cfg.TwoFactorPenalty * time.Duration(t.wrongCodes)
		if penalty > wait {
			wait = penalty
		}
	}

	return wait
}

// ReportTwoFactorResult updates the wrong code streak. More than one
// consecutive mismatch returns ErrTwoFactorExhausted.
func (t *LoginThrottle) ReportTwoFactorResult(lastCodeWrong bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !lastCodeWrong {
		t.wrongCodes = 0
		return nil
	}

	t.wrongCodes++
	if t.wrongCodes > 1 {
		return models.ErrTwoFactorExhausted
	}
	return nil
}

// ResetTwoFactor clears the wrong code streak
func (t *LoginThrottle) ResetTwoFactor() {
	t.mu.Lock()
	t.wrongCodes = 0
	t.mu.Unlock()
}

// SetAttempts replaces the attempt history with previously persisted timestamps
func (t *LoginThrottle) SetAttempts(attempts []time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts = append(t.attempts[:0], attempts...)
	t.pruneLocked(t.clock.Now())
}

// Attempts returns the attempts still inside the window
func (t *LoginThrottle) Attempts() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(t.clock.Now())
	return t.copyLocked()
}

// ConsecutiveWrongCodes returns the current wrong code streak
func (t *LoginThrottle) ConsecutiveWrongCodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrongCodes
}

func (t *LoginThrottle) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	keep := 0
	for _, at := range t.attempts {
		if at.After(cutoff) {
			t.attempts[keep] = at
			keep++
		}
	}
	t.attempts = t.attempts[:keep]
}

func (t *LoginThrottle) copyLocked() []time.Time {
	out := make([]time.Time, len(t.attempts))
	copy(out, t.attempts)
	return out
}
