package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPERATOR_JWT_SECRET", "operator-secret-32-characters-long")
	t.Setenv("ACCOUNT_NAME", "bot-account")
	t.Setenv("ACCOUNT_PASSWORD", "hunter2")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "bot-account", cfg.Account.Name)
	assert.True(t, cfg.Account.RememberPassword)
	assert.Equal(t, "steam", cfg.Session.TwoFactorFormat)

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"SignInTimeout", cfg.Session.SignInTimeout, 60 * time.Second},
		{"WebSessionTimeout", cfg.Session.WebSessionTimeout, 10 * time.Second},
		{"LimitationsTimeout", cfg.Session.LimitationsTimeout, 10 * time.Second},
		{"TimeOffsetTimeout", cfg.Session.TimeOffsetTimeout, 10 * time.Second},
		{"ThrottleWindow", cfg.Session.ThrottleWindow, 60 * time.Second},
		{"TwoFactorPenalty", cfg.Session.TwoFactorPenalty, 30 * time.Second},
		{"SettlePeriod", cfg.Session.SettlePeriod, 5 * time.Minute},
		{"PollInterval", cfg.Startup.PollInterval, time.Second},
		{"UpdateInterval", cfg.Update.Interval, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.actual, tt.name)
	}

	assert.Equal(t, 3, cfg.Session.ThrottleMaxAttempts)
	assert.Zero(t, cfg.Session.MaxSessionReplacements)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.False(t, cfg.Update.Enabled, "update checks need a URL")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIGN_IN_TIMEOUT", "90s")
	t.Setenv("MAX_SESSION_REPLACEMENTS", "2")
	t.Setenv("SKIP_ACCOUNT_LIMITATIONS", "true")
	t.Setenv("ALERTS", "throttle, error,")
	t.Setenv("UPDATE_CHECK_URL", "https://example.com/latest.json")
	t.Setenv("TWO_FACTOR_FORMAT", "rfc6238")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Session.SignInTimeout)
	assert.Equal(t, 2, cfg.Session.MaxSessionReplacements)
	assert.True(t, cfg.Startup.SkipAccountLimitations)
	assert.Equal(t, []string{"throttle", "error"}, cfg.Notify.Alerts)
	assert.True(t, cfg.Update.Enabled)
	assert.Equal(t, "rfc6238", cfg.Session.TwoFactorFormat)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIGN_IN_TIMEOUT", "not-a-duration")
	t.Setenv("LOGIN_THROTTLE_MAX_ATTEMPTS", "many")
	t.Setenv("REMEMBER_PASSWORD", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Session.SignInTimeout)
	assert.Equal(t, 3, cfg.Session.ThrottleMaxAttempts)
	assert.True(t, cfg.Account.RememberPassword)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing account name", map[string]string{"ACCOUNT_NAME": ""}, "Account.Name"},
		{"unknown storage driver", map[string]string{"STORAGE_DRIVER": "sqlite"}, "Storage.Driver"},
		{"short seal passphrase", map[string]string{"SEAL_PASSPHRASE": "short"}, "Storage.SealPassphrase"},
		{"unknown alert", map[string]string{"ALERTS": "ready,gossip"}, "Notify.Alerts"},
		{"bad admin email", map[string]string{"ADMIN_EMAILS": "not-an-email", "SES_FROM_ADDRESS": "bot@example.com"}, "Notify.AdminEmails"},
		{"admin emails without sender", map[string]string{"ADMIN_EMAILS": "admin@example.com"}, "SES_FROM_ADDRESS"},
		{"postgres without password", map[string]string{"STORAGE_DRIVER": "postgres"}, "DB_PASSWORD"},
		{"unknown code format", map[string]string{"TWO_FACTOR_FORMAT": "sms"}, "Session.TwoFactorFormat"},
		{"zero throttle attempts", map[string]string{"LOGIN_THROTTLE_MAX_ATTEMPTS": "0"}, "Session.ThrottleMaxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_OperatorSecret(t *testing.T) {
	t.Setenv("ACCOUNT_NAME", "bot-account")
	t.Setenv("ACCOUNT_PASSWORD", "hunter2")

	_, err := Load()
	assert.EqualError(t, err, "OPERATOR_JWT_SECRET is required")

	t.Setenv("OPERATOR_JWT_SECRET", "too-short")
	_, err = Load()
	assert.ErrorContains(t, err, "at least 16 characters")

	t.Setenv("ENV", "production")
	t.Setenv("OPERATOR_JWT_SECRET", "twenty-characters-xx")
	_, err = Load()
	assert.ErrorContains(t, err, "at least 32 characters in production")
}

func TestValidateOperatorSecret_WeakValues(t *testing.T) {
	assert.Error(t, validateOperatorSecret("changeme", "development"))
	assert.NoError(t, validateOperatorSecret("a-reasonably-long-random-value", "development"))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "bot", Password: "pw", Name: "autobot", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=bot password=pw dbname=autobot sslmode=require", c.DSN())
}
