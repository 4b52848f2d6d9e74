// Package config loads environment-based configuration for the Wahoo
// connector.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/glemaitre/gravly-sub000/internal/wahoo"
)

// Config holds all environment-based configuration.
type Config struct {
	// Wahoo OAuth application registration.
	WahooClientID     string `env:"WAHOO_CLIENT_ID"`
	WahooClientSecret string `env:"WAHOO_CLIENT_SECRET"`
	WahooRedirectURL  string `env:"WAHOO_REDIRECT_URL"`

	// Scopes requested during authorization, comma-separated.
	WahooScopes []string `env:"WAHOO_SCOPES" envSeparator:"," envDefault:"user_read,routes_read,routes_write"`

	// Remote-account identifier the token set is stored under. A web
	// deployment derives this per user; the CLI uses one fixed id.
	AccountID string `env:"WAHOO_ACCOUNT_ID" envDefault:"default"`

	// Path to the bbolt state database. Empty means ~/.gravly/state.db.
	StateDB string `env:"STATE_DB"`

	// Outbound pacing against the Wahoo quota (200 requests per 5 minutes
	// per user on the hourly window, so the defaults stay well under it).
	RateLimitPerSecond float64 `env:"WAHOO_RATE_LIMIT_RPS" envDefault:"0.5"`
	RateLimitBurst     int     `env:"WAHOO_RATE_LIMIT_BURST" envDefault:"10"`

	// SilenceCredentialWarnings suppresses the missing-credential warning,
	// for test and CI contexts that never reach the live API.
	SilenceCredentialWarnings bool `env:"SILENCE_CREDENTIAL_WARNINGS" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has overly
// permissive permissions. On Unix systems, group or world readable files
// risk exposing client secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("WAHOO_RATE_LIMIT_RPS must be positive")
	}

	if c.RateLimitBurst < 1 {
		return fmt.Errorf("WAHOO_RATE_LIMIT_BURST must be at least 1")
	}

	if c.AccountID == "" {
		return fmt.Errorf("WAHOO_ACCOUNT_ID must not be empty")
	}

	// Missing credentials are a warning, not an error: token exchange and
	// refresh need them, but reading an already-stored token does not, and
	// tests run without any registration at all.
	if (c.WahooClientID == "" || c.WahooClientSecret == "") && !c.SilenceCredentialWarnings {
		log.Printf("WARNING: WAHOO_CLIENT_ID/WAHOO_CLIENT_SECRET not set; token exchange and refresh will fail (set SILENCE_CREDENTIAL_WARNINGS=true to hide this)")
	}

	return nil
}

// Credentials maps the configuration onto the client's credential type.
func (c *Config) Credentials() wahoo.Credentials {
	return wahoo.Credentials{
		ClientID:     c.WahooClientID,
		ClientSecret: c.WahooClientSecret,
		RedirectURL:  c.WahooRedirectURL,
		Scopes:       c.WahooScopes,
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
