package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Account AccountConfig
	Session SessionConfig
	Startup StartupConfig
	Storage StorageConfig
	Notify  NotifyConfig
	Remote  RemoteConfig
	Update  UpdateConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Port           string `validate:"required"`
	Env            string `validate:"oneof=development production"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
}

type AccountConfig struct {
	Name             string `validate:"required"`
	Password         string `validate:"required"`
	SharedSecret     string
	IdentitySecret   string
	RememberPassword bool
	LogonID          int `validate:"gte=0"`
}

type SessionConfig struct {
	TwoFactorFormat        string `validate:"oneof=steam rfc6238"`
	TimeAuthorityURL       string `validate:"required,url"`
	TimeOffsetTimeout      time.Duration
	SignInTimeout          time.Duration
	WebSessionTimeout      time.Duration
	LimitationsTimeout     time.Duration
	MaxSessionReplacements int `validate:"gte=0"`
	SettlePeriod           time.Duration
	ThrottleWindow         time.Duration
	ThrottleMaxAttempts    int `validate:"gte=1"`
	TwoFactorPenalty       time.Duration
}

type StartupConfig struct {
	SkipAccountLimitations     bool
	SkipUpdateProfileSettings  bool
	SkipCredentialProvisioning bool
	ListingAPIKey              string
	ListingAccessToken         string
	PollInterval               time.Duration
}

type StorageConfig struct {
	Driver         string `validate:"oneof=bolt postgres"`
	BoltPath       string
	SealPassphrase string `validate:"omitempty,min=16"`
	Database       DatabaseConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type NotifyConfig struct {
	Alerts           []string `validate:"dive,oneof=ready throttle error update"`
	WebhookURL       string   `validate:"omitempty,url"`
	WebhookUsername  string
	WebhookPerMinute int `validate:"gte=0"`
	WebhookBurst     int `validate:"gte=0"`
	SESRegion        string
	SESFromAddress   string   `validate:"omitempty,email"`
	AdminEmails      []string `validate:"dive,email"`
}

type RemoteConfig struct {
	GatewayURL    string `validate:"required,url"`
	WebURL        string `validate:"required,url"`
	PollTimeout   time.Duration
	RetryInterval time.Duration
	HTTPTimeout   time.Duration
}

type UpdateConfig struct {
	Enabled  bool
	URL      string `validate:"omitempty,url"`
	Interval time.Duration
}

type AuthConfig struct {
	OperatorSecret      string
	OperatorTokenExpiry time.Duration
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	operatorSecret := getEnv("OPERATOR_JWT_SECRET", "")
	if operatorSecret == "" {
		return nil, fmt.Errorf("OPERATOR_JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 45*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
		},
		Account: AccountConfig{
			Name:             getEnv("ACCOUNT_NAME", ""),
			Password:         getEnv("ACCOUNT_PASSWORD", ""),
			SharedSecret:     getEnv("SHARED_SECRET", ""),
			IdentitySecret:   getEnv("IDENTITY_SECRET", ""),
			RememberPassword: getEnvAsBool("REMEMBER_PASSWORD", true),
			LogonID:          getEnvAsInt("LOGON_ID", 0),
		},
		Session: SessionConfig{
			TwoFactorFormat:        getEnv("TWO_FACTOR_FORMAT", "steam"),
			TimeAuthorityURL:       getEnv("TIME_AUTHORITY_URL", "https://api.steampowered.com/ITwoFactorService/QueryTime/v1/"),
			TimeOffsetTimeout:      getEnvAsDuration("TIME_OFFSET_TIMEOUT", 10*time.Second),
			SignInTimeout:          getEnvAsDuration("SIGN_IN_TIMEOUT", 60*time.Second),
			WebSessionTimeout:      getEnvAsDuration("WEB_SESSION_TIMEOUT", 10*time.Second),
			LimitationsTimeout:     getEnvAsDuration("LIMITATIONS_TIMEOUT", 10*time.Second),
			MaxSessionReplacements: getEnvAsInt("MAX_SESSION_REPLACEMENTS", 0),
			SettlePeriod:           getEnvAsDuration("SESSION_SETTLE_PERIOD", 5*time.Minute),
			ThrottleWindow:         getEnvAsDuration("LOGIN_THROTTLE_WINDOW", 60*time.Second),
			ThrottleMaxAttempts:    getEnvAsInt("LOGIN_THROTTLE_MAX_ATTEMPTS", 3),
			TwoFactorPenalty:       getEnvAsDuration("TWO_FACTOR_PENALTY", 30*time.Second),
		},
		Startup: StartupConfig{
			SkipAccountLimitations:     getEnvAsBool("SKIP_ACCOUNT_LIMITATIONS", false),
			SkipUpdateProfileSettings:  getEnvAsBool("SKIP_UPDATE_PROFILE_SETTINGS", false),
			SkipCredentialProvisioning: getEnvAsBool("SKIP_CREDENTIAL_PROVISIONING", false),
			ListingAPIKey:              getEnv("LISTING_API_KEY", ""),
			ListingAccessToken:         getEnv("LISTING_ACCESS_TOKEN", ""),
			PollInterval:               getEnvAsDuration("TRADE_POLL_INTERVAL", 1*time.Second),
		},
		Storage: StorageConfig{
			Driver:         getEnv("STORAGE_DRIVER", "bolt"),
			BoltPath:       getEnv("BOLT_PATH", "autobot.db"),
			SealPassphrase: getEnv("SEAL_PASSPHRASE", ""),
			Database: DatabaseConfig{
				Host:              getEnv("DB_HOST", "localhost"),
				Port:              getEnvAsInt("DB_PORT", 5432),
				User:              getEnv("DB_USER", "postgres"),
				Password:          getEnv("DB_PASSWORD", ""),
				Name:              getEnv("DB_NAME", "autobot"),
				SSLMode:           getEnv("DB_SSLMODE", "disable"),
				MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 5)),
				MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 1)),
				MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
				MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
				HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			},
		},
		Notify: NotifyConfig{
			Alerts:           getEnvAsList("ALERTS", nil),
			WebhookURL:       getEnv("WEBHOOK_URL", ""),
			WebhookUsername:  getEnv("WEBHOOK_USERNAME", "autobot"),
			WebhookPerMinute: getEnvAsInt("WEBHOOK_PER_MINUTE", 30),
			WebhookBurst:     getEnvAsInt("WEBHOOK_BURST", 5),
			SESRegion:        getEnv("AWS_REGION", "us-east-1"),
			SESFromAddress:   getEnv("SES_FROM_ADDRESS", ""),
			AdminEmails:      getEnvAsList("ADMIN_EMAILS", nil),
		},
		Remote: RemoteConfig{
			GatewayURL:    getEnv("GATEWAY_URL", "http://localhost:7000"),
			WebURL:        getEnv("WEB_URL", "http://localhost:7001"),
			PollTimeout:   getEnvAsDuration("GATEWAY_POLL_TIMEOUT", 30*time.Second),
			RetryInterval: getEnvAsDuration("GATEWAY_RETRY_INTERVAL", 5*time.Second),
			HTTPTimeout:   getEnvAsDuration("WEB_HTTP_TIMEOUT", 30*time.Second),
		},
		Update: UpdateConfig{
			Enabled:  getEnvAsBool("UPDATE_CHECK_ENABLED", true),
			URL:      getEnv("UPDATE_CHECK_URL", ""),
			Interval: getEnvAsDuration("UPDATE_CHECK_INTERVAL", 10*time.Minute),
		},
		Auth: AuthConfig{
			OperatorSecret:      operatorSecret,
			OperatorTokenExpiry: getEnvAsDuration("OPERATOR_TOKEN_EXPIRY", 24*time.Hour),
		},
	}

	// No release feed configured means nothing to check against
	if cfg.Update.URL == "" {
		cfg.Update.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and the rules that span fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("invalid configuration: %s failed %q", ve[0].Namespace(), ve[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Storage.Driver == "postgres" && c.Storage.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when STORAGE_DRIVER is postgres")
	}
	if c.Storage.Driver == "bolt" && c.Storage.BoltPath == "" {
		return fmt.Errorf("BOLT_PATH is required when STORAGE_DRIVER is bolt")
	}
	if len(c.Notify.AdminEmails) > 0 && c.Notify.SESFromAddress == "" {
		return fmt.Errorf("SES_FROM_ADDRESS is required when ADMIN_EMAILS is set")
	}
	return validateOperatorSecret(c.Auth.OperatorSecret, c.Server.Env)
}

// validateOperatorSecret enforces minimum security standards for the operator token secret
func validateOperatorSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("OPERATOR_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("OPERATOR_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
