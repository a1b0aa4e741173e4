// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Package config loads and validates service configuration with
// Koanf v2, layered as struct defaults, then an optional YAML file,
// then ROLEGATE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root service configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Auth   AuthConfig   `koanf:"auth"`
	Source SourceConfig `koanf:"source"`
	Cache  CacheConfig  `koanf:"cache"`
	Audit  AuditConfig  `koanf:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8484".
	Addr string `koanf:"addr"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AdminRateLimit caps admin endpoint requests per minute per IP.
	AdminRateLimit int `koanf:"admin_rate_limit"`

	// CORSAllowedOrigins lists browser origins allowed to call the
	// API. Empty (the default) disables CORS.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format: json or console.
	Format string `koanf:"format"`
}

// AuthConfig configures caller identity extraction.
type AuthConfig struct {
	// TokenSecret is the HS256 secret for bearer tokens. Required.
	TokenSecret string `koanf:"token_secret"`
}

// Source modes.
const (
	SourceModeHTTP   = "http"
	SourceModeMemory = "memory"
)

// SourceConfig configures the external record source client.
type SourceConfig struct {
	// Mode is "http" for the real source or "memory" for dev mode.
	Mode string `koanf:"mode"`

	// BaseURL is the access-control service root (http mode).
	BaseURL string `koanf:"base_url"`

	// Token authenticates against the source (http mode, optional).
	Token string `koanf:"token"`

	// Timeout bounds every source call.
	Timeout time.Duration `koanf:"timeout"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// CacheConfig configures the role cache and guard.
type CacheConfig struct {
	// TTL bounds how long a resolved role is reused.
	TTL time.Duration `koanf:"ttl"`

	// GraceWindow optionally lets a recently expired role survive a
	// source outage. Zero disables it.
	GraceWindow time.Duration `koanf:"grace_window"`

	// CleanupInterval is how often the janitor sweeps expired entries.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// WarmStart preloads the cache from the source's active set at
	// boot.
	WarmStart bool `koanf:"warm_start"`
}

// AuditConfig configures audit logging and persistence.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`

	// Persist stores events in badger in addition to the structured
	// log.
	Persist   bool          `koanf:"persist"`
	Path      string        `koanf:"path"`
	Retention time.Duration `koanf:"retention"`
}

// defaultConfig returns a Config with all default values. Defaults
// are applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8484",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AdminRateLimit:  30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			TokenSecret: "",
		},
		Source: SourceConfig{
			Mode:                    SourceModeHTTP,
			BaseURL:                 "",
			Timeout:                 3 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			GraceWindow:     0,
			CleanupInterval: 5 * time.Minute,
			WarmStart:       false,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1000,
			Persist:    false,
			Path:       "/data/rolegate/audit",
			Retention:  90 * 24 * time.Hour,
		},
	}
}

// Validate checks invariants that the loader cannot express.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Auth.TokenSecret == "" {
		return errors.New("auth.token_secret is required")
	}
	switch c.Source.Mode {
	case SourceModeHTTP:
		if c.Source.BaseURL == "" {
			return errors.New("source.base_url is required in http mode")
		}
	case SourceModeMemory:
		// Dev/test mode, no source settings needed.
	default:
		return fmt.Errorf("unknown source.mode %q", c.Source.Mode)
	}
	if c.Source.Timeout <= 0 {
		return errors.New("source.timeout must be positive")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Cache.GraceWindow < 0 {
		return errors.New("cache.grace_window must not be negative")
	}
	if c.Audit.Persist && c.Audit.Path == "" {
		return errors.New("audit.path is required when audit.persist is set")
	}
	return nil
}
