// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package database provides the durable stores behind the sync engine and
// the tenant resolver.
//
// Two relations back the sync engine: sync_attempts (append, then patched
// exactly once) and tenant_sync_status (one row per tenant, updated with an
// optimistic compare-and-swap on its version column). The groups, locations
// and user_profiles relations are read-only from the core's point of view;
// the only write is a user's stored default location.
//
// Three implementations exist: MemoryStore (tests and single-process demos),
// DuckDBStore (embedded default) and PostgresStore (GORM, shared deployments).
// GuardedStore wraps any SyncStore with a circuit breaker so an unreachable
// database fails fast instead of stalling every sync.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/models"
)

// Default and maximum page sizes for ListAttempts.
const (
	DefaultAttemptLimit = 50
	MaxAttemptLimit     = 500
)

// AttemptFilter selects rows for ListAttempts.
type AttemptFilter struct {
	TenantID string
	Status   *models.AttemptStatus
	Limit    int
}

// NormalizedLimit applies the default and the cap.
func (f AttemptFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultAttemptLimit
	case f.Limit > MaxAttemptLimit:
		return MaxAttemptLimit
	default:
		return f.Limit
	}
}

// SyncStore persists sync attempts and per-tenant breaker status.
type SyncStore interface {
	// InsertAttempt appends a new in-flight attempt.
	InsertAttempt(ctx context.Context, a *models.SyncAttempt) error

	// GetAttempt returns ErrNotFound when id is unknown.
	GetAttempt(ctx context.Context, id string) (*models.SyncAttempt, error)

	// CompleteAttempt patches an in-flight attempt. It returns
	// ErrAttemptCompleted when the attempt already has a completion.
	CompleteAttempt(ctx context.Context, id string, c models.AttemptCompletion) error

	// ListAttempts returns a tenant's attempts, newest first.
	ListAttempts(ctx context.Context, f AttemptFilter) ([]models.SyncAttempt, error)

	// LatestCompletedAttempt returns the most recent completed attempt for
	// tenantID and op, or nil when there is none.
	LatestCompletedAttempt(ctx context.Context, tenantID string, op models.Operation) (*models.SyncAttempt, error)

	// ListInFlight returns attempts without completion that started before
	// the cutoff. An empty tenantID matches every tenant.
	ListInFlight(ctx context.Context, tenantID string, startedBefore time.Time) ([]models.SyncAttempt, error)

	// ListDueRetries returns, per (tenant, operation), the latest attempt when
	// it ended in status retry and its NextRetryAt is not after now.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SyncAttempt, error)

	// GetStatus returns ErrNotFound when the tenant has never synced.
	GetStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error)

	// SaveStatus writes s if the stored version equals expectedVersion
	// (0 means "row must not exist yet"). On success s.Version is
	// expectedVersion+1; on a lost race it returns ErrVersionConflict.
	SaveStatus(ctx context.Context, s *models.TenantSyncStatus, expectedVersion int64) error

	Ping(ctx context.Context) error
	Close() error
}

// Directory exposes groups, locations and user profiles.
type Directory interface {
	// GetUserProfile returns ErrNotFound for unknown users.
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)

	// GetGroup returns ErrNotFound for unknown groups.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListLocations returns the group's locations ordered by sort key, then ID.
	ListLocations(ctx context.Context, groupID string) ([]models.Location, error)

	// SetDefaultLocation stores the user's default location.
	SetDefaultLocation(ctx context.Context, userID, locationID string) error
}

// DirectoryWriter seeds the directory. It is used by provisioning and tests,
// never by the resolver.
type DirectoryWriter interface {
	UpsertGroup(ctx context.Context, g models.Group) error
	UpsertLocation(ctx context.Context, l models.Location) error
	UpsertUserProfile(ctx context.Context, p models.UserProfile) error
}

// Store is implemented by every backend.
type Store interface {
	SyncStore
	Directory
	DirectoryWriter
}

// Open returns the store selected by cfg.Driver with its schema applied.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "duckdb":
		return NewDuckDBStore(ctx, cfg)
	case "postgres":
		return NewPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
