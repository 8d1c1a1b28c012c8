package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_ENCRYPTION_KEY", "c2VjcmV0")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("DATABASE_URL", "")
	for _, key := range []string{"PORT", "CURRENCY", "RATE_LIMIT_PER_MINUTE", "WEBHOOK_TIMEOUT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "fake", cfg.PaymentProvider)
	assert.Equal(t, "GBP", cfg.Currency)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
	assert.Equal(t, 5*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=ticketledger sslmode=disable", cfg.ConnString())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_ENCRYPTION_KEY", "c2VjcmV0")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("PAYMENT_PROVIDER", "STRIPE")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/ledger")
	t.Setenv("PUBLIC_BASE_URL", "https://tickets.example.com/")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("WEBHOOK_TIMEOUT", "250ms")
	t.Setenv("CURRENCY", "eur")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stripe", cfg.PaymentProvider)
	assert.Equal(t, "postgres://u:p@db/ledger", cfg.ConnString())
	assert.Equal(t, "https://tickets.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, 250*time.Millisecond, cfg.WebhookTimeout)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:        "development",
			EncryptionKey:      "k",
			PaymentProvider:    "fake",
			RateLimitPerMinute: 10,
			Currency:           "GBP",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing key", func(c *Config) { c.EncryptionKey = "" }, "DB_ENCRYPTION_KEY"},
		{"admin token in production", func(c *Config) {
			c.Environment = "production"
			c.PaymentProvider = "stripe"
			c.StripeSecretKey = "sk"
			c.StripeWebhookSecret = "wh"
		}, "ADMIN_TOKEN"},
		{"fake outside development", func(c *Config) {
			c.Environment = "production"
			c.AdminToken = "a"
		}, "only allowed in development"},
		{"stripe without key", func(c *Config) { c.PaymentProvider = "stripe" }, "STRIPE_SECRET_KEY"},
		{"stripe without webhook secret", func(c *Config) {
			c.PaymentProvider = "stripe"
			c.StripeSecretKey = "sk"
		}, "STRIPE_WEBHOOK_SECRET"},
		{"unknown provider", func(c *Config) { c.PaymentProvider = "paypal" }, "unsupported"},
		{"bad rate", func(c *Config) { c.RateLimitPerMinute = 0 }, "RATE_LIMIT_PER_MINUTE"},
		{"bad currency", func(c *Config) { c.Currency = "POUNDS" }, "CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
