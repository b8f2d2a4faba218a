// Package events carries notifications from the remote client to the session manager.
//
// Every wait on a remote event goes through a Subscription that the waiter
// closes on all exit paths, so a timed out wait never leaves a listener behind.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
)

// Kind identifies an event emitted by the remote client
type Kind string

const (
	KindSignedOn              Kind = "signed_on"
	KindSignInFailed          Kind = "sign_in_failed"
	KindWebSession            Kind = "web_session"
	KindWebSessionExpired     Kind = "web_session_expired"
	KindTwoFactorRequested    Kind = "two_factor_requested"
	KindConfirmationKeyNeeded Kind = "confirmation_key_needed"
	KindLoggedInElsewhere     Kind = "logged_in_elsewhere"
	KindSessionReplaced       Kind = "session_replaced"
	KindDisconnected          Kind = "disconnected"
	KindAccountLimitations    Kind = "account_limitations"
	KindLoginKey              Kind = "login_key"
)

// TwoFactorRequest asks for a two-factor code. Respond must be called at most once.
type TwoFactorRequest struct {
	LastCodeWrong bool
	Respond       func(code string)
}

// ConfirmationRequest asks for a confirmation key for the given tag
type ConfirmationRequest struct {
	Tag     string
	Respond func(at time.Time, key string, err error)
}

// Event is a single notification. Only the fields relevant to Kind are set.
// AttemptID echoes the sign-in attempt a signed_on or sign_in_failed replies to.
type Event struct {
	Kind         Kind
	AttemptID    string
	Result       models.ResultCode
	Err          error
	Identity     string
	SessionID    string
	Cookies      []string
	LoginKey     string
	Limitations  *models.AccountLimitations
	TwoFactor    *TwoFactorRequest
	Confirmation *ConfirmationRequest
}

const defaultBuffer = 8

// Bus fans events out to subscriptions. Publishing never blocks: a subscriber
// whose buffer is full misses the event and the miss is logged.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	dropped atomic.Uint64
	logger  *slog.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger dropped deliveries are reported to
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription receives the events of the kinds it was created with
type Subscription struct {
	bus   *Bus
	id    uint64
	kinds map[Kind]struct{}
	ch    chan Event
	once  sync.Once
}

// Subscribe registers a subscription for the given kinds. An empty list matches every kind.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:   b,
		id:    b.nextID,
		kinds: set,
		ch:    make(chan Event, defaultBuffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every matching subscription and returns how many received it
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.matches(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber buffer is full",
				slog.String("kind", string(ev.Kind)),
				slog.Uint64("subscription", sub.id),
			)
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// C returns the channel events are delivered on
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}

func (s *Subscription) matches(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}
