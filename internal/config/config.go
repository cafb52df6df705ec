// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package config loads POSSync configuration from defaults, an optional YAML
// file, a .env file and environment variables, in increasing precedence.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Sync        SyncConfig        `koanf:"sync"`
	Security    SecurityConfig    `koanf:"security"`
	Logging     LoggingConfig     `koanf:"logging"`
	Events      EventsConfig      `koanf:"events"`
	Preferences PreferencesConfig `koanf:"preferences"`
	Adapters    AdaptersConfig    `koanf:"adapters"`
	Tenant      TenantConfig      `koanf:"tenant"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the durable store.
type DatabaseConfig struct {
	// Driver is one of duckdb, postgres or memory.
	Driver string `koanf:"driver"`

	// Path is the DuckDB database file.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`

	// DSN is the Postgres connection string.
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	LogLevel        string        `koanf:"log_level"`

	// GuardFailureThreshold is the number of consecutive store errors before
	// store calls fail fast; GuardTimeout is how long they keep failing fast.
	GuardFailureThreshold uint32        `koanf:"guard_failure_threshold"`
	GuardTimeout          time.Duration `koanf:"guard_timeout"`
}

// SyncConfig holds the reliability engine's tuning. The defaults are the
// production values and the tests depend on them.
type SyncConfig struct {
	MaxConsecutiveFailures int           `koanf:"max_consecutive_failures"`
	BaseBackoff            time.Duration `koanf:"base_backoff"`
	MaxBackoff             time.Duration `koanf:"max_backoff"`
	MaxRetriesPerOp        int           `koanf:"max_retries_per_op"`

	// StaleAttemptGrace is how long an attempt may stay in flight before it
	// is reconciled as failed.
	StaleAttemptGrace time.Duration `koanf:"stale_attempt_grace"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`

	// DispatchInterval is how often due retries are re-run.
	DispatchInterval  time.Duration `koanf:"dispatch_interval"`
	DispatchBatchSize int           `koanf:"dispatch_batch_size"`
	DispatchEnabled   bool          `koanf:"dispatch_enabled"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`

	// AuthzPolicyPath replaces the embedded Casbin policy when set.
	AuthzPolicyPath string `koanf:"authz_policy_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	// Backend is memory (watermill gochannel) or nats.
	Backend  string `koanf:"backend"`
	NATSURL  string `koanf:"nats_url"`
	Embedded bool   `koanf:"embedded"`
	StoreDir string `koanf:"store_dir"`
}

// PreferencesConfig configures the BadgerDB store of confirmed active locations.
type PreferencesConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// TenantConfig sizes the tenant context cache. A zero CacheTTL keeps entries
// until they are invalidated or evicted.
type TenantConfig struct {
	CacheCapacity int           `koanf:"cache_capacity"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
}

// AdaptersConfig points POS types at external adapter services.
type AdaptersConfig struct {
	// Endpoints maps a POS type (e.g. "square") to its adapter URL.
	Endpoints map[string]string `koanf:"endpoints"`
	Timeout   time.Duration     `koanf:"timeout"`
	// RateLimit is requests per second per adapter; Burst the bucket size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// Load reads the configuration. It is an alias of LoadWithKoanf kept so
// callers do not depend on the loader implementation.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
