package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the entitlement service.
type Config struct {
	BindAddress string
	Port        int

	ClerkSecretKey     string
	ClerkWebhookSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string // optional; empty falls back to an inline ad-hoc price
	ProductName         string

	AppBaseURL string // browser app origin for redirect URLs and CORS

	AdminKey      string // optional; gates /metrics when PublicMetrics is off
	PublicMetrics bool

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PORT", 3000)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BindAddress:         envOrDefault("BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		ClerkSecretKey:      strings.TrimSpace(os.Getenv("CLERK_SECRET_KEY")),
		ClerkWebhookSecret:  strings.TrimSpace(os.Getenv("CLERK_WEBHOOK_SECRET")),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
		ProductName:         envOrDefault("PRODUCT_NAME", "Chat Mockup Studio Pro"),
		AppBaseURL:          strings.TrimSpace(os.Getenv("APP_BASE_URL")),
		AdminKey:            strings.TrimSpace(os.Getenv("ADMIN_KEY")),
		PublicMetrics:       publicMetrics,
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.ClerkSecretKey == "" {
		missing = append(missing, "CLERK_SECRET_KEY")
	}
	if c.ClerkWebhookSecret == "" {
		missing = append(missing, "CLERK_WEBHOOK_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.AppBaseURL == "" {
		missing = append(missing, "APP_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	parsedBaseURL, err := url.Parse(c.AppBaseURL)
	if err != nil {
		return fmt.Errorf("APP_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("APP_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("APP_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}
