// Package config loads client configuration from env and an optional .env
// file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the client needs to reach the hosted backend and
// keep a session on disk or in Redis.
type Config struct {
	// DocsBaseURL is the document API base, up to and including the
	// project's documents root (".../documents").
	DocsBaseURL string `mapstructure:"DOCS_BASE_URL"`
	// AuthBaseURL is the identity endpoint base for sign-in, sign-up and
	// token refresh.
	AuthBaseURL string `mapstructure:"AUTH_BASE_URL"`
	// APIKey is the public project key appended to identity requests.
	APIKey string `mapstructure:"API_KEY"`

	// SessionFile is the encrypted session file path. Ignored when
	// SESSION_REDIS_URL is set.
	SessionFile string `mapstructure:"SESSION_FILE"`
	// SessionPassphrase encrypts the session file. Required with SESSION_FILE.
	SessionPassphrase string `mapstructure:"SESSION_PASSPHRASE"`
	// SessionRedisURL, when set, stores the session in Redis instead of a file.
	SessionRedisURL string `mapstructure:"SESSION_REDIS_URL"`
	// SessionKey names the session slot when several clients share a store.
	SessionKey string `mapstructure:"SESSION_KEY"`

	// RequestTimeout is the per-request HTTP timeout (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// WatchInterval is the live-query poll interval (e.g. "3s").
	WatchInterval string `mapstructure:"WATCH_INTERVAL"`
	// RateLimit caps outgoing document requests per second. 0 disables it.
	RateLimit float64 `mapstructure:"RATE_LIMIT"`

	// MetricsAddr, when set, serves Prometheus metrics (e.g. ":9091").
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DOCS_BASE_URL", "")
	v.SetDefault("AUTH_BASE_URL", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("SESSION_FILE", ".roomledger-session")
	v.SetDefault("SESSION_PASSPHRASE", "")
	v.SetDefault("SESSION_REDIS_URL", "")
	v.SetDefault("SESSION_KEY", "default")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("WATCH_INTERVAL", "3s")
	v.SetDefault("RATE_LIMIT", 0.0)
	v.SetDefault("METRICS_ADDR", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DocsBaseURL == "" {
		return nil, errors.New("config: DOCS_BASE_URL must be set")
	}
	if cfg.AuthBaseURL == "" {
		return nil, errors.New("config: AUTH_BASE_URL must be set")
	}
	if cfg.SessionRedisURL == "" && cfg.SessionPassphrase == "" {
		return nil, errors.New("config: SESSION_PASSPHRASE must be set when the session is stored on disk")
	}

	return &cfg, nil
}

// Timeout parses RequestTimeout. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// PollInterval parses WatchInterval. Returns 3s if unset or invalid.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.WatchInterval)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}
