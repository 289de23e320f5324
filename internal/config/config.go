package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL  string
	Port         string
	TokenSecret  string
	Issuer       string
	SessionTTL   time.Duration
	PendingTTL   time.Duration
	ChallengeTTL time.Duration
	StepUpMaxAge time.Duration
	DevMode      bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:         "8080",
		Issuer:       "Stepgate",
		SessionTTL:   7 * 24 * time.Hour,
		PendingTTL:   10 * time.Minute,
		ChallengeTTL: 15 * time.Minute,
		StepUpMaxAge: 2 * time.Hour,
	}

	// DATABASE_URL (required)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	// TOKEN_SECRET (required): HMAC key for the signed client-side channels
	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET environment variable is required")
	}
	cfg.TokenSecret = tokenSecret

	// PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// ISSUER (optional): label in otpauth:// provisioning URLs
	if issuer := os.Getenv("ISSUER"); issuer != "" {
		cfg.Issuer = issuer
	}

	// Durations (optional, Go duration syntax, e.g. "168h", "10m")
	for _, d := range []struct {
		env  string
		dest *time.Duration
	}{
		{"SESSION_TTL", &cfg.SessionTTL},
		{"PENDING_TTL", &cfg.PendingTTL},
		{"CHALLENGE_TTL", &cfg.ChallengeTTL},
		{"STEP_UP_MAX_AGE", &cfg.StepUpMaxAge},
	} {
		if raw := os.Getenv(d.env); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", d.env, err)
			}
			*d.dest = parsed
		}
	}

	// DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}
