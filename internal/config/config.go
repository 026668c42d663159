package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string

	// PublicBaseURL is the externally reachable base URL used to build
	// provider webhook callback addresses.
	PublicBaseURL string

	SweepInterval time.Duration

	HeyGenAPIKey        string
	HeyGenBaseURL       string
	HeyGenWebhookSecret string

	DIDAPIKey  string
	DIDBaseURL string
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:          fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:   parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "http://localhost:3000")),
		PublicBaseURL: strings.TrimRight(fallback(os.Getenv("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),

		HeyGenAPIKey:        strings.TrimSpace(os.Getenv("HEYGEN_API_KEY")),
		HeyGenBaseURL:       fallback(os.Getenv("HEYGEN_BASE_URL"), "https://api.heygen.com"),
		HeyGenWebhookSecret: strings.TrimSpace(os.Getenv("HEYGEN_WEBHOOK_SECRET")),

		DIDAPIKey:  strings.TrimSpace(os.Getenv("DID_API_KEY")),
		DIDBaseURL: fallback(os.Getenv("DID_BASE_URL"), "https://api.d-id.com"),
	}

	seconds := fallback(os.Getenv("SWEEP_INTERVAL_SECONDS"), "30")
	if n, err := strconv.Atoi(seconds); err == nil && n > 0 {
		cfg.SweepInterval = time.Duration(n) * time.Second
	} else {
		cfg.SweepInterval = 30 * time.Second
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf("0.0.0.0:%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
