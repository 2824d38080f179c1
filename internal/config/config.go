// Package config loads relay configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultPort          = 3000
	defaultForwardSecret = "change-me-in-production"
	defaultLogLevel      = "info"
)

// Config holds every runtime setting of the relay.
type Config struct {
	// StripeSecretKey authenticates calls to the Stripe API (required).
	StripeSecretKey string

	// StripeWebhookSecret verifies webhook signatures. The relay starts
	// without it but answers webhooks with 503 until it is set.
	StripeWebhookSecret string

	// ForwardBaseURL is the downstream backend base URL. Forwarding is
	// disabled when empty.
	ForwardBaseURL string

	// ForwardSecret is sent as X-Webhook-Secret on forwarded snapshots.
	ForwardSecret string

	// AppBaseURL is where checkout and portal sessions redirect back to.
	AppBaseURL string

	// Port is the HTTP listen port.
	Port int

	// DatabaseURL selects the postgres snapshot store when set.
	DatabaseURL string

	// RedisURL selects the redis snapshot store when set and DatabaseURL
	// is not. Postgres wins when both are configured.
	RedisURL string

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; a missing file is not an error.
func Load() (*Config, error) {
	// Real environment variables take precedence over .env values.
	_ = godotenv.Load()

	cfg := &Config{
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ForwardBaseURL:      os.Getenv("FORWARD_BASE_URL"),
		ForwardSecret:       getEnv("FORWARD_SECRET", defaultForwardSecret),
		AppBaseURL:          os.Getenv("APP_BASE_URL"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		LogLevel:            getEnv("LOG_LEVEL", defaultLogLevel),
	}

	port, err := getEnvInt("PORT", defaultPort)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ForwardingEnabled reports whether snapshots should be pushed downstream.
func (c *Config) ForwardingEnabled() bool {
	return c.ForwardBaseURL != ""
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, val)
	}
	return n, nil
}
