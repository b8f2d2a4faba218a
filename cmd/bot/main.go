package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/autobot/internal/auth"
	"github.com/BradenHooton/autobot/internal/background"
	"github.com/BradenHooton/autobot/internal/config"
	"github.com/BradenHooton/autobot/internal/database"
	"github.com/BradenHooton/autobot/internal/events"
	"github.com/BradenHooton/autobot/internal/handlers"
	middlewareCustom "github.com/BradenHooton/autobot/internal/middleware"
	"github.com/BradenHooton/autobot/internal/models"
	"github.com/BradenHooton/autobot/internal/remote"
	"github.com/BradenHooton/autobot/internal/repositories"
	"github.com/BradenHooton/autobot/internal/routes"
	"github.com/BradenHooton/autobot/internal/services"
	pkghttp "github.com/BradenHooton/autobot/pkg/http"
	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"k8s.io/utils/clock"
)

// version is set at build time with -ldflags "-X main.version=v1.2.3"
var version = "dev"

// runStateBackend is a run state store that can also keep the trade poll data
type runStateBackend interface {
	services.RunStateStore
	SavePollData(ctx context.Context, accountName string, pollData json.RawMessage) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("version", version),
		slog.String("account", cfg.Account.Name),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}
	stop := services.NewStopSignal()
	bus := events.NewBus(events.WithLogger(logger))

	// Initialize run state storage
	store, closeStore, err := openRunStateStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open run state store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	var sealer services.SecretSealer
	if cfg.Storage.SealPassphrase != "" {
		s, err := auth.NewSecretSealer(cfg.Storage.SealPassphrase)
		if err != nil {
			logger.Error("failed to initialize secret sealer", slog.Any("error", err))
			os.Exit(1)
		}
		sealer = s
	}

	notifier, err := buildNotifier(cfg, clk, logger)
	if err != nil {
		logger.Error("failed to initialize notifications", slog.Any("error", err))
		os.Exit(1)
	}

	lifecycle := services.NewLifecycleHandler(cfg.Account.Name, store, sealer, notifier, logger)

	// Remote clients
	gateway := remote.NewGateway(remote.GatewayConfig{
		BaseURL:       cfg.Remote.GatewayURL,
		PollTimeout:   cfg.Remote.PollTimeout,
		RetryInterval: cfg.Remote.RetryInterval,
	}, &http.Client{Timeout: cfg.Remote.PollTimeout + 10*time.Second}, bus, clk, logger)
	web := remote.NewWebClient(cfg.Remote.WebURL, &http.Client{Timeout: cfg.Remote.HTTPTimeout}, logger)
	lifecycle.AddCookieSink(web)

	// Session
	codes, err := auth.NewTOTPManager(auth.CodeFormat(cfg.Session.TwoFactorFormat))
	if err != nil {
		logger.Error("failed to initialize two-factor codes", slog.Any("error", err))
		os.Exit(1)
	}

	throttle := services.NewLoginThrottle(services.ThrottleConfig{
		Window:           cfg.Session.ThrottleWindow,
		MaxAttempts:      cfg.Session.ThrottleMaxAttempts,
		TwoFactorPenalty: cfg.Session.TwoFactorPenalty,
	}, clk)

	offsets := services.NewTimeOffsetService(
		services.NewHTTPTimeAuthority(cfg.Session.TimeAuthorityURL, &http.Client{Timeout: cfg.Session.TimeOffsetTimeout}),
		clk,
		cfg.Session.TimeOffsetTimeout,
		logger,
	)

	session := services.NewSessionManager(services.SessionConfig{
		AccountName:            cfg.Account.Name,
		Password:               cfg.Account.Password,
		SharedSecret:           cfg.Account.SharedSecret,
		IdentitySecret:         cfg.Account.IdentitySecret,
		RememberPassword:       cfg.Account.RememberPassword,
		LogonID:                cfg.Account.LogonID,
		SignInTimeout:          cfg.Session.SignInTimeout,
		WebSessionTimeout:      cfg.Session.WebSessionTimeout,
		LimitationsTimeout:     cfg.Session.LimitationsTimeout,
		MaxSessionReplacements: cfg.Session.MaxSessionReplacements,
		SettlePeriod:           cfg.Session.SettlePeriod,
	}, gateway, throttle, offsets, codes, lifecycle, stop, clk, logger)

	var (
		updates       services.UpdateChecker
		updateChecker *background.UpdateChecker
	)
	if cfg.Update.Enabled {
		updateChecker = background.NewUpdateChecker(
			version,
			background.NewHTTPVersionSource(cfg.Update.URL, nil),
			notifier,
			clk,
			logger,
			cfg.Update.Interval,
		)
		updates = updateChecker
	}

	bot := services.NewBot(services.BotDeps{
		Session:     session,
		Store:       store,
		Sealer:      sealer,
		Pricelist:   web.Pricelist(),
		Trade:       web,
		Inventory:   web,
		Listings:    web.Listings(),
		Profile:     web,
		Provisioner: web,
		Social:      web,
		CookieSinks: []services.CookieSink{web},
		Updates:     updates,
		Stop:        stop,
		Logger:      logger,
	}, services.BotOptions{
		AccountName: cfg.Account.Name,
		Credentials: models.APICredentials{
			APIKey:      cfg.Startup.ListingAPIKey,
			AccessToken: cfg.Startup.ListingAccessToken,
		},
		SkipAccountLimitations:     cfg.Startup.SkipAccountLimitations,
		SkipUpdateProfileSettings:  cfg.Startup.SkipUpdateProfileSettings,
		SkipCredentialProvisioning: cfg.Startup.SkipCredentialProvisioning,
		PollInterval:               cfg.Startup.PollInterval,
	})

	// HTTP surface
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxies", slog.Any("error", err))
		os.Exit(1)
	}
	tokenManager := auth.NewTokenManager(cfg.Auth.OperatorSecret, cfg.Auth.OperatorTokenExpiry)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.APIHeaders)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(40 * time.Second))

	routes.RegisterRoutes(router,
		handlers.NewStatusHandler(session, version),
		handlers.NewAdminHandler(session, stop, pkglogger.NewAuditLogger(logger), ipConfig),
		tokenManager,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop.Stop(err)
		}
	}()

	go gateway.Run(ctx)

	// Startup
	go func() {
		outcome, _, err := bot.Start(ctx)
		switch outcome {
		case services.OutcomeFailed:
			logger.Error("startup failed", slog.Any("error", err))
			stop.Stop(err)
		case services.OutcomeCancelled:
			logger.Info("startup cancelled by stop request")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stop.Stop(nil)
	case <-stop.Done():
	}

	lifecycle.OnStop(stop.Err())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if session.IsReady() {
		savePollData(shutdownCtx, web, store, cfg.Account.Name, logger)
	}

	if err := session.LogOff(shutdownCtx); err != nil {
		logger.Warn("failed to log off", slog.Any("error", err))
	}

	if updateChecker != nil {
		updateChecker.Stop()
	}
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	if n, ok := notifier.(interface{ Wait() }); ok {
		n.Wait()
	}

	logger.Info("bot stopped")
	if stop.Err() != nil {
		closeStore()
		os.Exit(1)
	}
}

func openRunStateStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runStateBackend, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.NewConnection(&cfg.Storage.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repositories.NewRunStateRepository(db), db.Close, nil
	default:
		store, err := repositories.NewBoltRunStateStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close run state store", slog.Any("error", err))
			}
		}
		return store, closeFn, nil
	}
}

// waitingNotifier flushes in-flight webhook and e-mail deliveries on shutdown
type waitingNotifier struct {
	services.Notifier
	pending []interface{ Wait() }
}

func (n waitingNotifier) Wait() {
	for _, p := range n.pending {
		p.Wait()
	}
}

func buildNotifier(cfg *config.Config, clk clock.PassiveClock, logger *slog.Logger) (services.Notifier, error) {
	sinks := services.MultiNotifier{services.NewLogNotifier(logger)}
	var pending []interface{ Wait() }

	if cfg.Notify.WebhookURL != "" {
		webhook := services.NewWebhookNotifier(
			cfg.Notify.WebhookURL,
			cfg.Notify.WebhookUsername,
			cfg.Notify.WebhookPerMinute,
			cfg.Notify.WebhookBurst,
			nil,
			clk,
			logger,
		)
		sinks = append(sinks, webhook)
		pending = append(pending, webhook)
	}

	if len(cfg.Notify.AdminEmails) > 0 {
		ses, err := services.NewSESNotifier(cfg.Notify.SESRegion, cfg.Notify.SESFromAddress, cfg.Notify.AdminEmails, cfg.Account.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SES notifications: %w", err)
		}
		sinks = append(sinks, ses)
		pending = append(pending, ses)
	}

	return waitingNotifier{
		Notifier: services.NewFilterNotifier(sinks, cfg.Notify.Alerts),
		pending:  pending,
	}, nil
}

func savePollData(ctx context.Context, web *remote.WebClient, store runStateBackend, accountName string, logger *slog.Logger) {
	pollData, err := web.PollData(ctx)
	if err != nil {
		logger.Warn("failed to read poll data", slog.Any("error", err))
		return
	}
	if err := store.SavePollData(ctx, accountName, pollData); err != nil {
		logger.Warn("failed to save poll data", slog.Any("error", err))
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
