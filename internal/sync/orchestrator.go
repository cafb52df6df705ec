// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package sync is the POS synchronization reliability engine.
//
// Every sync goes through the Orchestrator: stale in-flight attempts of the
// tenant are reconciled, the per-tenant CircuitBreaker decides whether the
// integration may be called, the Recorder appends the attempt, the
// registered ActionProvider does the work and the outcome is classified
// into success, retry with exponential backoff, or terminal error.
//
// All state is persisted through database.SyncStore. Retries are not
// scheduled in process: the engine only records NextRetryAt and an external
// invoker (the retry dispatcher) re-runs due tenants.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// SyncResult is the outcome of RunSync. Attempt failures are reported here,
// never as the returned error.
type SyncResult struct {
	Allowed       bool       `json:"allowed"`
	Reason        string     `json:"reason,omitempty"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`

	AttemptID           string               `json:"attempt_id,omitempty"`
	Status              models.AttemptStatus `json:"status,omitempty"`
	Counts              models.SyncCounts    `json:"counts"`
	DurationMs          int64                `json:"duration_ms"`
	ErrorKind           ErrorKind            `json:"error_kind,omitempty"`
	ErrorCode           string               `json:"error_code,omitempty"`
	ErrorMessage        string               `json:"error_message,omitempty"`
	ShouldRetry         bool                 `json:"should_retry"`
	NextRetryAt         *time.Time           `json:"next_retry_at,omitempty"`
	IsPaused            bool                 `json:"is_paused"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

// Options configures New.
type Options struct {
	Policy            BackoffPolicy
	Threshold         int
	Cooldown          time.Duration
	StaleAttemptGrace time.Duration
	Clock             func() time.Time
	Publisher         events.Publisher
	NewID             func() string
}

// OptionsFromConfig maps the sync config section.
func OptionsFromConfig(cfg *config.SyncConfig) Options {
	bc := BreakerConfigFromConfig(cfg)
	opts := Options{
		Policy:    BackoffPolicyFromConfig(cfg),
		Threshold: bc.Threshold,
		Cooldown:  bc.Cooldown,
	}
	if cfg != nil {
		opts.StaleAttemptGrace = cfg.StaleAttemptGrace
	}
	return opts
}

// Orchestrator is the engine's entry point.
type Orchestrator struct {
	breaker   *CircuitBreaker
	recorder  *Recorder
	providers *ProviderRegistry
}

// New wires a breaker and recorder over store.
func New(store database.SyncStore, providers *ProviderRegistry, opts Options) *Orchestrator {
	breaker := NewCircuitBreaker(store, BreakerConfig{
		Threshold: opts.Threshold,
		Cooldown:  opts.Cooldown,
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
	})
	recorder := NewRecorder(store, breaker, RecorderConfig{
		Policy:            opts.Policy,
		StaleAttemptGrace: opts.StaleAttemptGrace,
		Clock:             opts.Clock,
		Publisher:         opts.Publisher,
		NewID:             opts.NewID,
	})
	if providers == nil {
		providers = NewProviderRegistry()
	}
	return &Orchestrator{breaker: breaker, recorder: recorder, providers: providers}
}

// Breaker returns the tenant breaker.
func (o *Orchestrator) Breaker() *CircuitBreaker { return o.breaker }

// Recorder returns the attempt recorder.
func (o *Orchestrator) Recorder() *Recorder { return o.recorder }

// Providers returns the provider registry.
func (o *Orchestrator) Providers() *ProviderRegistry { return o.providers }

// RunSync runs one sync operation for a tenant if its breaker allows it.
// The error is non-nil only for invalid input, a missing provider or a
// store failure.
func (o *Orchestrator) RunSync(ctx context.Context, tenantID, posType string, op models.Operation) (SyncResult, error) {
	if tenantID == "" || posType == "" {
		return SyncResult{}, fmt.Errorf("%w: tenant ID and pos type are required", ErrInvalidRequest)
	}
	if !op.Valid() {
		return SyncResult{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
	}
	provider, err := o.providers.Get(posType)
	if err != nil {
		return SyncResult{}, err
	}

	decision, err := o.CanSync(ctx, tenantID)
	if err != nil {
		return SyncResult{}, err
	}
	if !decision.Allowed {
		metrics.SyncRejected.WithLabelValues(posType).Inc()
		logging.Ctx(ctx).Info().
			Str("tenant_id", tenantID).
			Str("pos_type", posType).
			Str("reason", decision.Reason).
			Msg("Sync denied, tenant breaker open")
		return SyncResult{
			Allowed:       false,
			Reason:        decision.Reason,
			NextAllowedAt: decision.NextAllowedAt,
			IsPaused:      true,
		}, nil
	}

	var metadata map[string]string
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		metadata = map[string]string{"correlation_id": id}
	}
	attemptID, err := o.recorder.StartSync(ctx, tenantID, posType, op, metadata)
	if err != nil {
		return SyncResult{}, err
	}

	counts, perr := provider.Sync(ctx, tenantID, op)
	class := Classify(perr, counts)

	result := SyncResult{
		Allowed:   true,
		AttemptID: attemptID,
		Counts:    counts,
	}

	var outcome LogOutcome
	if class.Success {
		outcome, err = o.recorder.LogSuccess(ctx, attemptID, counts)
	} else {
		outcome, err = o.recorder.LogError(ctx, attemptID, class.Message, class.Code, counts, class.Kind)
	}
	if err != nil {
		return SyncResult{}, err
	}

	result.Status = outcome.Status
	result.DurationMs = outcome.DurationMs
	result.ErrorKind = class.Kind
	result.ErrorCode = class.Code
	result.ErrorMessage = class.Message
	result.ShouldRetry = outcome.ShouldRetry
	result.NextRetryAt = outcome.NextRetryAt
	result.IsPaused = outcome.IsPaused
	result.ConsecutiveFailures = outcome.ConsecutiveFailures
	return result, nil
}

// CanSync reconciles the tenant's stale attempts and asks the breaker.
func (o *Orchestrator) CanSync(ctx context.Context, tenantID string) (Decision, error) {
	if tenantID == "" {
		return Decision{}, fmt.Errorf("%w: tenant ID is required", ErrInvalidRequest)
	}
	if _, err := o.recorder.ReconcileStale(ctx, tenantID); err != nil {
		return Decision{}, err
	}
	return o.breaker.CanProceed(ctx, tenantID)
}

// ResumeSync manually closes the tenant's breaker and resets its failure streak.
func (o *Orchestrator) ResumeSync(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant ID is required", ErrInvalidRequest)
	}
	st, err := o.breaker.Resume(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("tenant_id", tenantID).Msg("Tenant sync resumed manually")
	return st, nil
}

// GetSyncLogs lists a tenant's attempts, newest first.
func (o *Orchestrator) GetSyncLogs(ctx context.Context, tenantID string, limit int, status *models.AttemptStatus) ([]models.SyncAttempt, error) {
	return o.recorder.GetSyncLogs(ctx, tenantID, limit, status)
}

// GetSyncStatus returns the tenant's status row.
func (o *Orchestrator) GetSyncStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	return o.recorder.GetSyncStatus(ctx, tenantID)
}

// State returns the tenant's effective breaker state without side effects.
func (o *Orchestrator) State(ctx context.Context, tenantID string) (State, *models.TenantSyncStatus, error) {
	st, err := o.breaker.Status(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	return EffectiveState(st, o.breaker.now()), st, nil
}

// ReconcileStale sweeps stale in-flight attempts; an empty tenantID sweeps all.
func (o *Orchestrator) ReconcileStale(ctx context.Context, tenantID string) (int, error) {
	return o.recorder.ReconcileStale(ctx, tenantID)
}
