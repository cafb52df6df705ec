// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// isolateEnv points the loader away from any config or .env file on disk.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv(DotEnvPathEnvVar, "")
	t.Setenv("JWT_SECRET", testSecret)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Sync.MaxConsecutiveFailures != 3 {
		t.Errorf("Sync.MaxConsecutiveFailures = %d, want 3", cfg.Sync.MaxConsecutiveFailures)
	}
	if cfg.Sync.BaseBackoff != 30*time.Second {
		t.Errorf("Sync.BaseBackoff = %v, want 30s", cfg.Sync.BaseBackoff)
	}
	if cfg.Sync.MaxBackoff != time.Hour {
		t.Errorf("Sync.MaxBackoff = %v, want 1h", cfg.Sync.MaxBackoff)
	}
	if cfg.Sync.MaxRetriesPerOp != 5 {
		t.Errorf("Sync.MaxRetriesPerOp = %d, want 5", cfg.Sync.MaxRetriesPerOp)
	}
	if cfg.Database.Driver != "duckdb" {
		t.Errorf("Database.Driver = %q, want duckdb", cfg.Database.Driver)
	}
	if cfg.Events.Backend != "memory" {
		t.Errorf("Events.Backend = %q, want memory", cfg.Events.Backend)
	}
	if cfg.Server.Port != 8470 {
		t.Errorf("Server.Port = %d, want 8470", cfg.Server.Port)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"DUCKDB_PATH", "database.path"},
		{"SYNC_MAX_BACKOFF", "sync.max_backoff"},
		{"JWT_SECRET", "security.jwt_secret"},
		{"ADAPTER_URL_SQUARE", "adapters.endpoints.square"},
		{"ADAPTER_URL_", ""},
		{"HOME", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SYNC_BASE_BACKOFF", "10s")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("CORS_ORIGINS", "https://console.example.com, https://ops.example.com")
	t.Setenv("ADAPTER_URL_SQUARE", "http://square-adapter:8080/sync")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sync.BaseBackoff != 10*time.Second {
		t.Errorf("Sync.BaseBackoff = %v, want 10s", cfg.Sync.BaseBackoff)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %q, want memory", cfg.Database.Driver)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://ops.example.com" {
		t.Errorf("Security.CORSOrigins = %v", cfg.Security.CORSOrigins)
	}
	if got := cfg.Adapters.Endpoints["square"]; got != "http://square-adapter:8080/sync" {
		t.Errorf("Adapters.Endpoints[square] = %q", got)
	}
	if cfg.Sync.MaxBackoff != time.Hour {
		t.Errorf("Sync.MaxBackoff = %v, want default 1h", cfg.Sync.MaxBackoff)
	}
}

func TestLoadWithKoanfConfigFile(t *testing.T) {
	isolateEnv(t)

	content := `
server:
  port: 8888
database:
  driver: postgres
  dsn: "postgres://possync@localhost:5432/possync?sslmode=disable"
sync:
  stale_attempt_grace: 5m
logging:
  level: warn
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "7000")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000 (env overrides file)", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Sync.StaleAttemptGrace != 5*time.Minute {
		t.Errorf("Sync.StaleAttemptGrace = %v, want 5m", cfg.Sync.StaleAttemptGrace)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadWithKoanfDotEnv(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LOG_FORMAT=console\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv(DotEnvPathEnvVar, path)
	t.Cleanup(func() { _ = os.Unsetenv("LOG_FORMAT") })

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want console from .env", cfg.Logging.Format)
	}
}

func TestLoadWithKoanfMissingExplicitDotEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv(DotEnvPathEnvVar, filepath.Join(t.TempDir(), "nope.env"))

	if _, err := LoadWithKoanf(); err == nil {
		t.Fatal("expected error for missing explicit .env file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short secret", func(c *Config) { c.Security.JWTSecret = "short" }, "JWT_SECRET"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "DATABASE_URL"},
		{"zero threshold", func(c *Config) { c.Sync.MaxConsecutiveFailures = 0 }, "SYNC_MAX_CONSECUTIVE_FAILURES"},
		{"max below base", func(c *Config) { c.Sync.MaxBackoff = time.Second }, "SYNC_MAX_BACKOFF"},
		{"bad events backend", func(c *Config) { c.Events.Backend = "kafka" }, "EVENTS_BACKEND"},
		{"bad adapter url", func(c *Config) { c.Adapters.Endpoints = map[string]string{"square": "ftp://x"} }, "adapter endpoint"},
		{"bad cors origin", func(c *Config) { c.Security.CORSOrigins = []string{"not a url"} }, "CORS"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWTSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
