package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
)

// RunStateStore persists what the bot needs to carry between runs
type RunStateStore interface {
	Load(ctx context.Context, accountName string) (*models.RunState, error)
	SaveLoginAttempts(ctx context.Context, accountName string, attempts []time.Time) error
	SaveLoginKey(ctx context.Context, accountName, loginKey string) error
}

// SecretSealer encrypts secrets before they are persisted
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(token string) (string, error)
}

// Pricelist prepares the pricing baseline
type Pricelist interface {
	Initialize(ctx context.Context) error
}

// TradeEngine is the trade offer manager
type TradeEngine interface {
	RestorePollData(ctx context.Context, pollData json.RawMessage) error
	ExchangeCookies(ctx context.Context, cookies []string) (apiKey string, err error)
	EnablePolling(ctx context.Context, interval time.Duration) error
}

// Inventory fetches the bot's current inventory
type Inventory interface {
	Fetch(ctx context.Context, identity string) error
}

// ListingClient manages the outward-facing listings
type ListingClient interface {
	Initialize(ctx context.Context, token, identity string) error
	RedoListings(ctx context.Context) error
}

// ProfileClient updates profile visibility
type ProfileClient interface {
	UpdateProfileSettings(ctx context.Context, settings models.ProfileSettings) error
}

// CredentialProvisioner obtains listing service credentials that were not configured
type CredentialProvisioner interface {
	ProvisionCredentials(ctx context.Context, existing models.APICredentials) (models.APICredentials, error)
}

// SocialClient queries platform imposed social limits
type SocialClient interface {
	FriendCapacity(ctx context.Context) (int, error)
}

// CookieSink receives web session cookies
type CookieSink interface {
	SetCookies(cookies []string)
}

// UpdateChecker runs the periodic update check until ctx is done
type UpdateChecker interface {
	Start(ctx context.Context)
}

// BotOptions toggles optional startup stages
type BotOptions struct {
	AccountName                string
	Credentials                models.APICredentials
	SkipAccountLimitations     bool
	SkipUpdateProfileSettings  bool
	SkipCredentialProvisioning bool
	PollInterval               time.Duration
}

// BotDeps are the collaborators of a Bot
type BotDeps struct {
	Session     *SessionManager
	Store       RunStateStore
	Sealer      SecretSealer
	Pricelist   Pricelist
	Trade       TradeEngine
	Inventory   Inventory
	Listings    ListingClient
	Profile     ProfileClient
	Provisioner CredentialProvisioner
	Social      SocialClient
	CookieSinks []CookieSink
	Updates     UpdateChecker
	Stop        *StopSignal
	Logger      *slog.Logger
}

// Bot runs the startup sequence that brings the session and its dependent
// subsystems up, then marks the session ready.
type Bot struct {
	BotDeps
	opts BotOptions
}

// NewBot creates a new Bot
func NewBot(deps BotDeps, opts BotOptions) *Bot {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Bot{BotDeps: deps, opts: opts}
}

// Stages returns the startup stages in execution order
func (b *Bot) Stages() []Stage {
	return []Stage{
		{Name: "restore run state", Run: b.restoreRunState},
		{Name: "pricelist", Run: func(ctx context.Context, sc *StartupContext) error {
			b.Logger.Info("setting up pricelist")
			return b.Pricelist.Initialize(ctx)
		}},
		Skippable(Stage{Name: "account limitations", Run: b.checkAccountLimitations}, b.opts.SkipAccountLimitations),
		{Name: "sign in", Run: b.signIn},
		{Name: "web session", Run: b.acquireWebSession},
		Skippable(Stage{Name: "api credentials", Run: b.provisionCredentials}, b.opts.SkipCredentialProvisioning),
		Parallel("inventory, listings and profile",
			Stage{Name: "inventory", Run: func(ctx context.Context, sc *StartupContext) error {
				return b.Inventory.Fetch(ctx, sc.Identity)
			}},
			Stage{Name: "listings", Run: func(ctx context.Context, sc *StartupContext) error {
				return b.Listings.Initialize(ctx, sc.Credentials.AccessToken, sc.Identity)
			}},
			Skippable(Stage{Name: "profile settings", Run: func(ctx context.Context, sc *StartupContext) error {
				return b.Profile.UpdateProfileSettings(ctx, models.PublicProfileSettings())
			}}, b.opts.SkipUpdateProfileSettings),
		),
		{Name: "api key", Run: func(ctx context.Context, sc *StartupContext) error {
			b.Logger.Info("getting API key")
			apiKey, err := b.Trade.ExchangeCookies(ctx, sc.Cookies)
			if err != nil {
				return err
			}
			sc.APIKey = apiKey
			return nil
		}},
		{Name: "friend capacity", Run: func(ctx context.Context, sc *StartupContext) error {
			capacity, err := b.Social.FriendCapacity(ctx)
			if err != nil {
				return err
			}
			sc.FriendCapacity = capacity
			return nil
		}},
		{Name: "redo listings", Run: func(ctx context.Context, sc *StartupContext) error {
			return b.Listings.RedoListings(ctx)
		}},
	}
}

// Start runs the startup sequence. On completion trade polling is enabled,
// the session is marked ready and the update checker starts. A fatal stage
// failure also requests a stop.
func (b *Bot) Start(ctx context.Context) (Outcome, *StartupContext, error) {
	b.Session.Start(ctx)

	sc := &StartupContext{}
	outcome, err := NewOrchestrator(b.Stages(), b.Stop, b.Logger).Run(ctx, sc)

	switch outcome {
	case OutcomeFailed:
		if models.IsFatal(err) && b.Stop != nil {
			b.Stop.Stop(err)
		}
		return outcome, sc, err
	case OutcomeCancelled:
		b.Logger.Warn("startup cancelled")
		return outcome, sc, nil
	}

	if err := b.Trade.EnablePolling(ctx, b.opts.PollInterval); err != nil {
		return OutcomeFailed, sc, fmt.Errorf("failed to enable trade polling: %w", err)
	}

	b.Session.MarkReady()

	if b.Updates != nil {
		go b.Updates.Start(ctx)
	}

	b.Logger.Info("bot is ready", slog.String("identity", sc.Identity))
	return OutcomeCompleted, sc, nil
}

func (b *Bot) restoreRunState(ctx context.Context, sc *StartupContext) error {
	sc.Credentials = b.opts.Credentials

	state, err := b.Store.Load(ctx, b.opts.AccountName)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to load run state: %w", err)
		}
		state = &models.RunState{AccountName: b.opts.AccountName}
	}
	sc.RunState = state

	if len(state.PollData) > 0 {
		b.Logger.Debug("setting poll data")
		if err := b.Trade.RestorePollData(ctx, state.PollData); err != nil {
			return fmt.Errorf("failed to restore poll data: %w", err)
		}
		sc.PollData = state.PollData
	}

	if len(state.LoginAttempts) > 0 {
		b.Logger.Debug("setting login attempts", slog.Int("count", len(state.LoginAttempts)))
		b.Session.RestoreLoginAttempts(state.LoginAttempts)
	}

	if state.LoginKey != "" {
		key := state.LoginKey
		if b.Sealer != nil {
			key, err = b.Sealer.Open(key)
			if err != nil {
				// An unreadable key only costs a password sign-in
				b.Logger.Warn("failed to open stored login key, signing in with password", slog.Any("error", err))
				key = ""
			}
		}
		sc.LoginKey = key
	}

	return nil
}

func (b *Bot) checkAccountLimitations(ctx context.Context, sc *StartupContext) error {
	b.Logger.Warn("checking account limitations, disable this with SKIP_ACCOUNT_LIMITATIONS=true")
	if err := b.Session.CheckEligibility(ctx); err != nil {
		return err
	}
	b.Logger.Debug("account limitations check completed")
	return nil
}

func (b *Bot) signIn(ctx context.Context, sc *StartupContext) error {
	b.Logger.Info("signing in")
	if err := b.Session.SignIn(ctx, sc.LoginKey); err != nil {
		return err
	}
	sc.Identity = b.Session.Identity()
	return nil
}

func (b *Bot) acquireWebSession(ctx context.Context, sc *StartupContext) error {
	b.Logger.Debug("waiting for web session")
	cookies, err := b.Session.AcquireWebSession(ctx, false)
	if err != nil {
		return err
	}

	sc.Cookies = cookies
	for _, sink := range b.CookieSinks {
		sink.SetCookies(cookies)
	}
	return nil
}

func (b *Bot) provisionCredentials(ctx context.Context, sc *StartupContext) error {
	if sc.Credentials.Complete() {
		return nil
	}

	b.Logger.Warn("listing service API key or access token is not configured, provisioning")
	creds, err := b.Provisioner.ProvisionCredentials(ctx, sc.Credentials)
	if err != nil {
		return err
	}
	sc.Credentials = creds
	return nil
}
