// Package config loads runtime settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the ledger service reads at start-up.
type Config struct {
	// Server
	Port          string
	Environment   string
	LogLevel      string
	PublicBaseURL string
	AdminToken    string

	// Database
	DatabaseURL string
	DB          DBConfig

	// Encryption master secret (base64, 32 bytes).
	EncryptionKey string

	// Payments
	Currency            string
	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBase       string

	// Rate limiting
	RedisURL           string
	RateLimitPerMinute int

	// Notifications
	PubNubPublishKey   string
	PubNubSubscribeKey string
	WebhookTimeout     time.Duration
}

// DBConfig holds discrete PostgreSQL connection settings, used when
// DATABASE_URL is not set.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// ConnString returns DATABASE_URL when set and the discrete DSN otherwise.
func (c *Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DB.DSN()
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ticketledger"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		EncryptionKey: os.Getenv("DB_ENCRYPTION_KEY"),

		Currency:            strings.ToUpper(getEnv("CURRENCY", "GBP")),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "fake")),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeAPIBase:       getEnv("STRIPE_API_BASE", "https://api.stripe.com"),

		RedisURL:           os.Getenv("REDIS_URL"),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		PubNubPublishKey:   os.Getenv("PUBNUB_PUBLISH_KEY"),
		PubNubSubscribeKey: os.Getenv("PUBNUB_SUBSCRIBE_KEY"),
		WebhookTimeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", "5s"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("DB_ENCRYPTION_KEY is required")
	}
	if c.AdminToken == "" && !c.IsDevelopment() {
		return fmt.Errorf("ADMIN_TOKEN is required outside development")
	}
	switch c.PaymentProvider {
	case "stripe":
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
	case "fake":
		if !c.IsDevelopment() {
			return fmt.Errorf("PAYMENT_PROVIDER=fake is only allowed in development")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three-letter code")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key, fallback string) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, fallback)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
