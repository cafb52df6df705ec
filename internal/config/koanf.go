// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/possync/config.yaml",
	"/etc/possync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DotEnvPathEnvVar overrides the .env file path.
const DotEnvPathEnvVar = "POSSYNC_DOTENV"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8470,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:                "duckdb",
			Path:                  "/data/possync.duckdb",
			MaxMemory:             "1GB",
			Threads:               0,
			MaxOpenConns:          20,
			MaxIdleConns:          5,
			ConnMaxLifetime:       time.Hour,
			LogLevel:              "warn",
			GuardFailureThreshold: 5,
			GuardTimeout:          30 * time.Second,
		},
		Sync: SyncConfig{
			MaxConsecutiveFailures: 3,
			BaseBackoff:            30 * time.Second,
			MaxBackoff:             3600 * time.Second,
			MaxRetriesPerOp:        5,
			StaleAttemptGrace:      15 * time.Minute,
			SweepInterval:          time.Minute,
			DispatchInterval:       30 * time.Second,
			DispatchBatchSize:      100,
			DispatchEnabled:        true,
		},
		Security: SecurityConfig{
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Events: EventsConfig{
			Backend:  "memory",
			NATSURL:  "nats://127.0.0.1:4222",
			StoreDir: "/data/nats",
		},
		Preferences: PreferencesConfig{
			Path: "/data/preferences",
		},
		Adapters: AdaptersConfig{
			Endpoints: map[string]string{},
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     10,
		},
		Tenant: TenantConfig{
			CacheCapacity: 10000,
			CacheTTL:      0,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Optional .env file (never overrides variables already set)
//  4. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv preloads a .env file into the process environment. A missing
// default file is not an error; a missing explicitly named one is.
func loadDotEnv() error {
	path := os.Getenv(DotEnvPathEnvVar)
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"db_driver":                  "database.driver",
	"duckdb_path":                "database.path",
	"duckdb_max_memory":          "database.max_memory",
	"duckdb_threads":             "database.threads",
	"database_url":               "database.dsn",
	"db_max_open_conns":          "database.max_open_conns",
	"db_max_idle_conns":          "database.max_idle_conns",
	"db_conn_max_lifetime":       "database.conn_max_lifetime",
	"db_log_level":               "database.log_level",
	"db_guard_failure_threshold": "database.guard_failure_threshold",
	"db_guard_timeout":           "database.guard_timeout",

	"sync_max_consecutive_failures": "sync.max_consecutive_failures",
	"sync_base_backoff":             "sync.base_backoff",
	"sync_max_backoff":              "sync.max_backoff",
	"sync_max_retries_per_op":       "sync.max_retries_per_op",
	"sync_stale_attempt_grace":      "sync.stale_attempt_grace",
	"sync_sweep_interval":           "sync.sweep_interval",
	"sync_dispatch_interval":        "sync.dispatch_interval",
	"sync_dispatch_batch_size":      "sync.dispatch_batch_size",
	"sync_dispatch_enabled":         "sync.dispatch_enabled",

	"jwt_secret":          "security.jwt_secret",
	"jwt_token_ttl":       "security.token_ttl",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",
	"authz_policy_path":   "security.authz_policy_path",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"events_backend": "events.backend",
	"nats_url":       "events.nats_url",
	"nats_embedded":  "events.embedded",
	"nats_store_dir": "events.store_dir",

	"preferences_path":      "preferences.path",
	"preferences_in_memory": "preferences.in_memory",

	"adapter_timeout":    "adapters.timeout",
	"adapter_rate_limit": "adapters.rate_limit",
	"adapter_burst":      "adapters.burst",

	"tenant_cache_capacity": "tenant.cache_capacity",
	"tenant_cache_ttl":      "tenant.cache_ttl",
}

// envTransformFunc maps environment variable names to koanf paths.
//
//   - DUCKDB_PATH -> database.path
//   - SYNC_MAX_BACKOFF -> sync.max_backoff
//   - ADAPTER_URL_SQUARE -> adapters.endpoints.square
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	if posType, ok := strings.CutPrefix(key, "adapter_url_"); ok && posType != "" {
		return "adapters.endpoints." + posType
	}
	return ""
}
