// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// GuardSettings configures GuardedStore.
type GuardSettings struct {
	Name string

	// FailureThreshold is the number of consecutive store errors that open
	// the guard. Domain outcomes (not found, version conflict) never count.
	FailureThreshold uint32

	// Timeout is how long the guard stays open before letting one probe through.
	Timeout time.Duration
}

// GuardedStore wraps a Store with a gobreaker circuit breaker. While open,
// every SyncStore call returns ErrStoreUnavailable without touching the
// database. Directory calls pass through unguarded.
type GuardedStore struct {
	Store
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// NewGuardedStore wraps inner.
func NewGuardedStore(inner Store, s GuardSettings) *GuardedStore {
	if s.Name == "" {
		s.Name = "sync-store"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= threshold
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[STORE GUARD] Opening circuit")
			}
			return trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDomainError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("[STORE GUARD] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &GuardedStore{Store: inner, cb: cb, name: s.Name}
}

// State returns the guard state as closed, half-open or open.
func (g *GuardedStore) State() string {
	return stateToString(g.cb.State())
}

func (g *GuardedStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := g.cb.Execute(fn)

	switch {
	case err == nil || IsDomainError(err):
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "success").Inc()
		metrics.RecordStoreOperation(op, time.Since(start), nil)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "rejected").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "failure").Inc()
		metrics.RecordStoreOperation(op, time.Since(start), err)
	}
	return result, err
}

func (g *GuardedStore) run(op string, fn func() error) error {
	_, err := g.execute(op, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("store guard: unexpected result type %T", result)
	}
	return typed, nil
}

// InsertAttempt implements SyncStore.
func (g *GuardedStore) InsertAttempt(ctx context.Context, a *models.SyncAttempt) error {
	return g.run("insert_attempt", func() error { return g.Store.InsertAttempt(ctx, a) })
}

// GetAttempt implements SyncStore.
func (g *GuardedStore) GetAttempt(ctx context.Context, id string) (*models.SyncAttempt, error) {
	return castResult[*models.SyncAttempt](g.execute("get_attempt", func() (interface{}, error) {
		return g.Store.GetAttempt(ctx, id)
	}))
}

// CompleteAttempt implements SyncStore.
func (g *GuardedStore) CompleteAttempt(ctx context.Context, id string, c models.AttemptCompletion) error {
	return g.run("complete_attempt", func() error { return g.Store.CompleteAttempt(ctx, id, c) })
}

// ListAttempts implements SyncStore.
func (g *GuardedStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]models.SyncAttempt, error) {
	return castResult[[]models.SyncAttempt](g.execute("list_attempts", func() (interface{}, error) {
		return g.Store.ListAttempts(ctx, f)
	}))
}

// LatestCompletedAttempt implements SyncStore.
func (g *GuardedStore) LatestCompletedAttempt(ctx context.Context, tenantID string, op models.Operation) (*models.SyncAttempt, error) {
	return castResult[*models.SyncAttempt](g.execute("latest_completed_attempt", func() (interface{}, error) {
		return g.Store.LatestCompletedAttempt(ctx, tenantID, op)
	}))
}

// ListInFlight implements SyncStore.
func (g *GuardedStore) ListInFlight(ctx context.Context, tenantID string, startedBefore time.Time) ([]models.SyncAttempt, error) {
	return castResult[[]models.SyncAttempt](g.execute("list_in_flight", func() (interface{}, error) {
		return g.Store.ListInFlight(ctx, tenantID, startedBefore)
	}))
}

// ListDueRetries implements SyncStore.
func (g *GuardedStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SyncAttempt, error) {
	return castResult[[]models.SyncAttempt](g.execute("list_due_retries", func() (interface{}, error) {
		return g.Store.ListDueRetries(ctx, now, limit)
	}))
}

// GetStatus implements SyncStore.
func (g *GuardedStore) GetStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	return castResult[*models.TenantSyncStatus](g.execute("get_status", func() (interface{}, error) {
		return g.Store.GetStatus(ctx, tenantID)
	}))
}

// SaveStatus implements SyncStore.
func (g *GuardedStore) SaveStatus(ctx context.Context, s *models.TenantSyncStatus, expectedVersion int64) error {
	return g.run("save_status", func() error { return g.Store.SaveStatus(ctx, s, expectedVersion) })
}

// Ping bypasses the guard so health checks see the real database state.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.Store.Ping(ctx)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var _ Store = (*GuardedStore)(nil)
