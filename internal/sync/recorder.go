// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// ErrInvalidRequest is returned for malformed recorder or orchestrator input.
var ErrInvalidRequest = errors.New("invalid sync request")

// completionTimeout bounds how long an outcome keeps being persisted after
// the caller has gone away.
const completionTimeout = 30 * time.Second

// completionContext keeps ctx's values but not its cancellation, so a
// completed attempt is always counted by the breaker.
func completionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
}

// LogOutcome reports what happened to an attempt once it was completed.
type LogOutcome struct {
	Status              models.AttemptStatus `json:"status"`
	DurationMs          int64                `json:"duration_ms"`
	ShouldRetry         bool                 `json:"should_retry"`
	NextRetryAt         *time.Time           `json:"next_retry_at,omitempty"`
	BackoffSeconds      int                  `json:"backoff_seconds,omitempty"`
	IsPaused            bool                 `json:"is_paused"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Policy            BackoffPolicy
	StaleAttemptGrace time.Duration
	Clock             func() time.Time
	Publisher         events.Publisher

	// NewID generates attempt IDs. Defaults to random UUIDs.
	NewID func() string
}

// Recorder writes the sync_attempts log and feeds outcomes to the breaker.
type Recorder struct {
	store     database.SyncStore
	breaker   *CircuitBreaker
	policy    BackoffPolicy
	grace     time.Duration
	now       func() time.Time
	newID     func() string
	publisher events.Publisher
	log       zerolog.Logger
}

// NewRecorder creates a Recorder. Outcomes update breaker state.
func NewRecorder(store database.SyncStore, breaker *CircuitBreaker, cfg RecorderConfig) *Recorder {
	if cfg.Policy == (BackoffPolicy{}) {
		cfg.Policy = DefaultBackoffPolicy()
	}
	if cfg.StaleAttemptGrace <= 0 {
		cfg.StaleAttemptGrace = DefaultStaleAttemptGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &Recorder{
		store:     store,
		breaker:   breaker,
		policy:    cfg.Policy,
		grace:     cfg.StaleAttemptGrace,
		now:       cfg.Clock,
		newID:     cfg.NewID,
		publisher: cfg.Publisher,
		log:       logging.WithComponent("recorder"),
	}
}

// StartSync appends a provisional in-flight attempt and returns its ID. When
// the previous completed attempt of the same tenant and operation ended in
// retry, the new attempt continues that retry chain.
func (r *Recorder) StartSync(ctx context.Context, tenantID, posType string, op models.Operation, metadata map[string]string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant ID is required", ErrInvalidRequest)
	}
	if !op.Valid() {
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
	}

	prev, err := r.store.LatestCompletedAttempt(ctx, tenantID, op)
	if err != nil {
		return "", fmt.Errorf("load retry chain for %s: %w", tenantID, err)
	}
	retryCount := 0
	if prev != nil && prev.Status == models.StatusRetry {
		retryCount = prev.RetryCount + 1
	}

	a := &models.SyncAttempt{
		ID:         r.newID(),
		TenantID:   tenantID,
		POSType:    posType,
		Operation:  op,
		Status:     models.StatusRetry,
		StartedAt:  r.now().UTC(),
		RetryCount: retryCount,
		Metadata:   metadata,
	}
	if err := r.store.InsertAttempt(ctx, a); err != nil {
		return "", fmt.Errorf("insert sync attempt: %w", err)
	}

	logging.Ctx(ctx).Debug().
		Str("attempt_id", a.ID).
		Str("tenant_id", tenantID).
		Str("operation", string(op)).
		Int("retry_count", retryCount).
		Msg("Sync attempt started")
	return a.ID, nil
}

// LogSuccess completes an attempt as a success. Failed records with some
// successes are kept as PARTIAL_FAILURE on the attempt without counting
// against the breaker.
func (r *Recorder) LogSuccess(ctx context.Context, logID string, counts models.SyncCounts) (LogOutcome, error) {
	ctx, cancel := completionContext(ctx)
	defer cancel()

	a, err := r.store.GetAttempt(ctx, logID)
	if err != nil {
		return LogOutcome{}, fmt.Errorf("load sync attempt %s: %w", logID, err)
	}

	completedAt := r.now().UTC()
	c := models.AttemptCompletion{
		Status:      models.StatusSuccess,
		CompletedAt: completedAt,
		DurationMs:  durationMs(a.StartedAt, completedAt),
		Counts:      counts,
	}
	var kind ErrorKind
	if counts.RecordsFailed > 0 {
		c.ErrorCode = CodePartial
		c.ErrorMessage = fmt.Sprintf("%d of %d records failed", counts.RecordsFailed, counts.RecordsProcessed)
		kind = KindPartial
	}
	if err := r.store.CompleteAttempt(ctx, logID, c); err != nil {
		return LogOutcome{}, fmt.Errorf("complete sync attempt %s: %w", logID, err)
	}

	st, err := r.breaker.RecordSuccess(ctx, a.TenantID, a.POSType, completedAt, c.ErrorCode, kind)
	if err != nil {
		return LogOutcome{}, err
	}

	r.completed(ctx, a, c)
	return LogOutcome{
		Status:              models.StatusSuccess,
		DurationMs:          c.DurationMs,
		IsPaused:            st.IsPaused,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}, nil
}

// LogError completes an attempt as a failure. Retryable kinds get a backoff
// until the chain exceeds the retry budget; every failure adds one to the
// tenant's failure streak.
func (r *Recorder) LogError(ctx context.Context, logID, message, code string, counts models.SyncCounts, kind ErrorKind) (LogOutcome, error) {
	ctx, cancel := completionContext(ctx)
	defer cancel()

	a, err := r.store.GetAttempt(ctx, logID)
	if err != nil {
		return LogOutcome{}, fmt.Errorf("load sync attempt %s: %w", logID, err)
	}
	if kind == "" {
		kind = KindUnknown
	}
	if code == "" {
		code = kind.Code()
	}

	completedAt := r.now().UTC()
	c := models.AttemptCompletion{
		Status:       models.StatusError,
		CompletedAt:  completedAt,
		DurationMs:   durationMs(a.StartedAt, completedAt),
		Counts:       counts,
		ErrorMessage: message,
		ErrorCode:    code,
	}

	attempt := a.RetryCount + 1
	if kind.Retryable() && !r.policy.Exhausted(attempt) {
		next := r.policy.NextRetryAt(completedAt, attempt)
		c.Status = models.StatusRetry
		c.NextRetryAt = &next
		c.BackoffSeconds = r.policy.BackoffSeconds(attempt)
	}
	if err := r.store.CompleteAttempt(ctx, logID, c); err != nil {
		return LogOutcome{}, fmt.Errorf("complete sync attempt %s: %w", logID, err)
	}

	st, err := r.breaker.RecordFailure(ctx, a.TenantID, a.POSType, completedAt, code, kind)
	if err != nil {
		return LogOutcome{}, err
	}

	logging.Ctx(ctx).Warn().
		Str("attempt_id", logID).
		Str("tenant_id", a.TenantID).
		Str("error_code", code).
		Str("kind", string(kind)).
		Int("attempt", attempt).
		Bool("will_retry", c.Status == models.StatusRetry).
		Msg("Sync attempt failed")

	r.completed(ctx, a, c)
	return LogOutcome{
		Status:              c.Status,
		DurationMs:          c.DurationMs,
		ShouldRetry:         c.Status == models.StatusRetry,
		NextRetryAt:         c.NextRetryAt,
		BackoffSeconds:      c.BackoffSeconds,
		IsPaused:            st.IsPaused,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}, nil
}

// GetSyncLogs returns a tenant's attempts, newest first. A limit of zero or
// less means the default page size; larger limits are capped.
func (r *Recorder) GetSyncLogs(ctx context.Context, tenantID string, limit int, status *models.AttemptStatus) ([]models.SyncAttempt, error) {
	logs, err := r.store.ListAttempts(ctx, database.AttemptFilter{
		TenantID: tenantID,
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list sync logs for %s: %w", tenantID, err)
	}
	return logs, nil
}

// GetSyncStatus returns the tenant's status, zero and closed if it never synced.
func (r *Recorder) GetSyncStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	return r.breaker.Status(ctx, tenantID)
}

func (r *Recorder) completed(ctx context.Context, a *models.SyncAttempt, c models.AttemptCompletion) {
	metrics.RecordSyncAttempt(string(a.Operation), string(c.Status), time.Duration(c.DurationMs)*time.Millisecond, c.Counts.RecordsProcessed)
	events.PublishBestEffort(ctx, r.publisher, events.TopicAttempts, events.AttemptCompleted{
		AttemptID:        a.ID,
		TenantID:         a.TenantID,
		POSType:          a.POSType,
		Operation:        string(a.Operation),
		Status:           string(c.Status),
		ErrorCode:        c.ErrorCode,
		RecordsProcessed: c.Counts.RecordsProcessed,
		DurationMs:       c.DurationMs,
		NextRetryAt:      c.NextRetryAt,
		At:               c.CompletedAt,
	})
}

func durationMs(startedAt, completedAt time.Time) int64 {
	d := completedAt.Sub(startedAt).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
