// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package config loads GymKeeper configuration from defaults, an optional
// YAML file, the environment and command-line flags, in increasing order of
// precedence.
package config

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/internal/auth"
	"github.com/gymkeeper/gymkeeper/internal/captcha"
	"github.com/gymkeeper/gymkeeper/internal/logging"
	"github.com/gymkeeper/gymkeeper/internal/store"
)

// Config is the complete runtime configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server" json:"server" yaml:"server"`
	Database      DatabaseConfig      `koanf:"database" json:"database" yaml:"database"`
	Auth          AuthConfig          `koanf:"auth" json:"auth" yaml:"auth"`
	Captcha       CaptchaConfig       `koanf:"captcha" json:"captcha" yaml:"captcha"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`
}

// ServerConfig configures the API listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" json:"addr" yaml:"addr" jsonschema:"description=API listen address"`
	AllowedOrigins  []string      `koanf:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins" jsonschema:"description=CORS origin glob patterns"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout" jsonschema:"type=string,description=Graceful shutdown limit such as 10s"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	URL            string `koanf:"url" json:"url" yaml:"url" jsonschema:"description=postgres:// or sqlite3:// URL"`
	ConnectRetries uint64 `koanf:"connect_retries" json:"connect_retries" yaml:"connect_retries" jsonschema:"description=Startup ping retries"`
	AutoMigrate    bool   `koanf:"auto_migrate" json:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig configures hashing, tokens and lockout.
type AuthConfig struct {
	JWTSecret        string        `koanf:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret" jsonschema:"description=HS256 signing secret"`
	TokenTTL         time.Duration `koanf:"token_ttl" json:"token_ttl" yaml:"token_ttl" jsonschema:"type=string"`
	TokenIssuer      string        `koanf:"token_issuer" json:"token_issuer" yaml:"token_issuer"`
	BcryptCost       int           `koanf:"bcrypt_cost" json:"bcrypt_cost" yaml:"bcrypt_cost" jsonschema:"minimum=4,maximum=31"`
	LockoutThreshold int           `koanf:"lockout_threshold" json:"lockout_threshold" yaml:"lockout_threshold" jsonschema:"minimum=0,description=Failed logins before lockout; 0 disables"`
	LockoutDuration  time.Duration `koanf:"lockout_duration" json:"lockout_duration" yaml:"lockout_duration" jsonschema:"type=string"`
}

// CaptchaConfig configures challenge issuance.
type CaptchaConfig struct {
	TTL       time.Duration `koanf:"ttl" json:"ttl" yaml:"ttl" jsonschema:"type=string"`
	Length    int           `koanf:"length" json:"length" yaml:"length" jsonschema:"minimum=4,maximum=10"`
	RateLimit float64       `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit" jsonschema:"description=Challenges per second per client IP"`
	RateBurst int           `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst" jsonschema:"minimum=1"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Format string `koanf:"format" json:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// ObservabilityConfig configures the metrics and health listener.
type ObservabilityConfig struct {
	Addr string `koanf:"addr" json:"addr" yaml:"addr" jsonschema:"description=Metrics listen address; empty disables"`
}

// Default values.
const (
	DefaultServerAddr        = ":3001"
	DefaultObservabilityAddr = "127.0.0.1:9100"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultCaptchaRateLimit  = 1.0
	DefaultCaptchaRateBurst  = 10
	DefaultLogFormat         = "json"
	DefaultLogLevel          = "info"
	DefaultTokenIssuer       = "gymkeeper"
)

// DefaultAllowedOrigins matches the local development front-end.
var DefaultAllowedOrigins = []string{"http://localhost:517?", "http://127.0.0.1:517?"}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":              DefaultServerAddr,
		"server.allowed_origins":   DefaultAllowedOrigins,
		"server.shutdown_timeout":  DefaultShutdownTimeout,
		"database.url":             "",
		"database.connect_retries": store.DefaultRetryConfig().Retries,
		"database.auto_migrate":    false,
		"auth.jwt_secret":          "",
		"auth.token_ttl":           auth.SessionTokenExpiry,
		"auth.token_issuer":        DefaultTokenIssuer,
		"auth.bcrypt_cost":         auth.DefaultBcryptCost,
		"auth.lockout_threshold":   auth.LockoutThreshold,
		"auth.lockout_duration":    auth.LockoutDuration,
		"captcha.ttl":              captcha.DefaultTTL,
		"captcha.length":           captcha.DefaultAnswerLength,
		"captcha.rate_limit":       DefaultCaptchaRateLimit,
		"captcha.rate_burst":       DefaultCaptchaRateBurst,
		"log.format":               DefaultLogFormat,
		"log.level":                DefaultLogLevel,
		"observability.addr":       DefaultObservabilityAddr,
	}
}

// Validate checks formats and ranges. A missing JWT secret is allowed;
// token operations then fail per request.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "must not be empty")
	}
	for _, pattern := range c.Server.AllowedOrigins {
		if _, err := glob.Compile(pattern); err != nil {
			return oops.Code("CONFIG_INVALID").
				With("field", "server.allowed_origins").
				With("pattern", pattern).
				Wrapf(err, "invalid origin pattern")
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "must be positive")
	}

	if c.Database.URL == "" {
		return invalid("database.url", "must not be empty")
	}
	if _, err := store.DialectFromURL(c.Database.URL); err != nil {
		return invalid("database.url", "must use the postgres:// or sqlite3:// scheme")
	}

	if c.Auth.TokenTTL <= 0 {
		return invalid("auth.token_ttl", "must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return invalid("auth.bcrypt_cost", "must be between 4 and 31")
	}
	if c.Auth.LockoutThreshold < 0 {
		return invalid("auth.lockout_threshold", "must not be negative")
	}
	if c.Auth.LockoutThreshold > 0 && c.Auth.LockoutDuration <= 0 {
		return invalid("auth.lockout_duration", "must be positive when lockout is enabled")
	}

	if c.Captcha.TTL <= 0 {
		return invalid("captcha.ttl", "must be positive")
	}
	if c.Captcha.Length < 4 || c.Captcha.Length > 10 {
		return invalid("captcha.length", "must be between 4 and 10")
	}
	if c.Captcha.RateLimit <= 0 {
		return invalid("captcha.rate_limit", "must be positive")
	}
	if c.Captcha.RateBurst < 1 {
		return invalid("captcha.rate_burst", "must be at least 1")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	return nil
}

func invalid(field, msg string) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf("%s %s", field, msg)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "********"
	}
	return out
}

// LockoutPolicy returns the configured lockout policy.
func (c *Config) LockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{Threshold: c.Auth.LockoutThreshold, Duration: c.Auth.LockoutDuration}
}

// RetryConfig returns the startup connection retry settings.
func (c *Config) RetryConfig() store.RetryConfig {
	rc := store.DefaultRetryConfig()
	rc.Retries = c.Database.ConnectRetries
	return rc
}
