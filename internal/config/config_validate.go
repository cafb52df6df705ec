// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// MinJWTSecretLength is the minimum accepted HMAC secret length.
const MinJWTSecretLength = 32

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateAdapters(); err != nil {
		return err
	}
	if c.Tenant.CacheCapacity < 1 || c.Tenant.CacheTTL < 0 {
		return fmt.Errorf("TENANT_CACHE_CAPACITY must be at least 1 and TENANT_CACHE_TTL not negative")
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when DB_DRIVER=duckdb")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be duckdb, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Database.GuardFailureThreshold == 0 {
		return fmt.Errorf("DB_GUARD_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("SYNC_MAX_CONSECUTIVE_FAILURES must be at least 1, got %d", s.MaxConsecutiveFailures)
	}
	if s.BaseBackoff <= 0 {
		return fmt.Errorf("SYNC_BASE_BACKOFF must be positive")
	}
	if s.MaxBackoff < s.BaseBackoff {
		return fmt.Errorf("SYNC_MAX_BACKOFF (%v) must not be less than SYNC_BASE_BACKOFF (%v)", s.MaxBackoff, s.BaseBackoff)
	}
	if s.MaxRetriesPerOp < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES_PER_OP must not be negative")
	}
	if s.StaleAttemptGrace <= 0 {
		return fmt.Errorf("SYNC_STALE_ATTEMPT_GRACE must be positive")
	}
	if s.SweepInterval <= 0 || s.DispatchInterval <= 0 {
		return fmt.Errorf("sync sweep and dispatch intervals must be positive")
	}
	if s.DispatchBatchSize < 1 {
		return fmt.Errorf("SYNC_DISPATCH_BATCH_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1 unless rate limiting is disabled")
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid CORS origin %q", origin)
		}
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Backend {
	case "memory":
		return nil
	case "nats":
		if c.Events.NATSURL == "" && !c.Events.Embedded {
			return fmt.Errorf("NATS_URL is required when EVENTS_BACKEND=nats without an embedded server")
		}
		return nil
	default:
		return fmt.Errorf("EVENTS_BACKEND must be memory or nats, got %q", c.Events.Backend)
	}
}

func (c *Config) validateAdapters() error {
	for posType, endpoint := range c.Adapters.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("adapter endpoint for %q must be an http(s) URL, got %q", posType, endpoint)
		}
	}
	if len(c.Adapters.Endpoints) > 0 && c.Adapters.RateLimit <= 0 {
		return fmt.Errorf("ADAPTER_RATE_LIMIT must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
