package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("APP_URL", "https://app.example.com/")
	t.Setenv("CALENDLY_CLIENT_ID", "client-id")
	t.Setenv("CALENDLY_CLIENT_SECRET", "client-secret")
	t.Setenv("CALENDLY_WEBHOOK_SIGNING_KEY", "signing-key")
	t.Setenv("TOKEN_ENCRYPTION_KEY", testKeyHex)
}

func TestFromEnv_Valid(t *testing.T) {
	setValidEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.AppURL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "https://app.example.com/api/calendly/callback", cfg.Calendly.RedirectURL)
	assert.Equal(t, "https://app.example.com/api/webhooks/calendly", cfg.Calendly.WebhookURL)
	assert.Equal(t, "https://auth.calendly.com", cfg.Calendly.AuthBaseURL)
	assert.Equal(t, "https://api.calendly.com", cfg.Calendly.APIBaseURL)
	assert.Equal(t, "/profile", cfg.ProfilePagePath)
	assert.False(t, cfg.NotifyAllowPrivate)
	assert.True(t, cfg.IsProduction())
}

func TestFromEnv_FatalConditions(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"missing client id", "CALENDLY_CLIENT_ID", "", "CALENDLY_CLIENT_ID"},
		{"missing client secret", "CALENDLY_CLIENT_SECRET", "", "CALENDLY_CLIENT_SECRET"},
		{"missing signing key", "CALENDLY_WEBHOOK_SIGNING_KEY", "", "CALENDLY_WEBHOOK_SIGNING_KEY"},
		{"missing encryption key", "TOKEN_ENCRYPTION_KEY", "", "TOKEN_ENCRYPTION_KEY"},
		{"short encryption key", "TOKEN_ENCRYPTION_KEY", testKeyHex[:32], "TOKEN_ENCRYPTION_KEY"},
		{"non hex encryption key", "TOKEN_ENCRYPTION_KEY", strings.Repeat("g", 64), "TOKEN_ENCRYPTION_KEY"},
		{"short jwt secret", "JWT_SECRET", "tooshort", "JWT_SECRET"},
		{"unsupported database", "DATABASE_TYPE", "mysql", "unsupported database type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestFromEnv_DevelopmentDefaults(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_URL", "")
	t.Setenv("PORT", "9090")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://localhost:9090/api/calendly/callback", cfg.Calendly.RedirectURL)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnv_NotifySettings(t *testing.T) {
	setValidEnv(t)
	t.Setenv("BOOKING_NOTIFY_WEBHOOK_URL", "http://notifier.internal/hook")
	t.Setenv("BOOKING_NOTIFY_ALLOW_PRIVATE", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://notifier.internal/hook", cfg.NotifyWebhook)
	assert.True(t, cfg.NotifyAllowPrivate)
}
