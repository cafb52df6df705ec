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

	"github.com/rs/zerolog"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// State is the effective breaker state of a tenant.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Transition causes published on the event bus.
const (
	CauseThreshold = "threshold"
	CauseCooldown  = "cooldown"
	CauseManual    = "manual"
	CauseSuccess   = "success"
)

// Lost races on a tenant status row are retried until ctx is done. The
// first casFastRetries retry immediately, later ones back off up to
// casMaxPause.
const (
	casFastRetries = 8
	casBasePause   = time.Millisecond
	casMaxPause    = 50 * time.Millisecond
)

// casPause waits before the given retry of a lost status update.
func casPause(ctx context.Context, retry int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if retry <= casFastRetries {
		return nil
	}
	d := casBasePause << uint(min(retry-casFastRetries, 6))
	if d > casMaxPause {
		d = casMaxPause
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EffectiveState derives the breaker state from a persisted status. A nil
// status is a tenant that never synced, which is closed.
func EffectiveState(s *models.TenantSyncStatus, now time.Time) State {
	if s == nil || !s.IsPaused {
		return StateClosed
	}
	if s.NextAllowedSyncAt != nil && now.Before(*s.NextAllowedSyncAt) {
		return StateOpen
	}
	return StateHalfOpen
}

// Decision is the answer to "may this tenant sync now".
type Decision struct {
	Allowed       bool       `json:"allowed"`
	State         State      `json:"state"`
	Reason        string     `json:"reason,omitempty"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`

	// Resumed is true for the single caller that moved the tenant from
	// half-open back to closed.
	Resumed bool `json:"resumed,omitempty"`
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that pause a tenant.
	Threshold int

	// Cooldown is how long a paused tenant waits before the next probe.
	Cooldown time.Duration

	Clock     func() time.Time
	Publisher events.Publisher
}

// BreakerConfigFromConfig maps the sync config section.
func BreakerConfigFromConfig(cfg *config.SyncConfig) BreakerConfig {
	bc := BreakerConfig{}
	if cfg != nil {
		bc.Threshold = cfg.MaxConsecutiveFailures
		bc.Cooldown = cfg.MaxBackoff
	}
	return bc
}

// CircuitBreaker is the per-tenant Closed/Open/HalfOpen state machine. All
// state lives in the store's tenant_sync_status rows; the breaker itself
// holds no per-tenant memory, so any number of processes can share it.
type CircuitBreaker struct {
	store     database.SyncStore
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	publisher events.Publisher
	log       zerolog.Logger
}

// NewCircuitBreaker creates a breaker over store.
func NewCircuitBreaker(store database.SyncStore, cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMaxConsecutiveFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultMaxBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	return &CircuitBreaker{
		store:     store,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       cfg.Clock,
		publisher: cfg.Publisher,
		log:       logging.WithComponent("breaker"),
	}
}

// Threshold returns the configured failure threshold.
func (b *CircuitBreaker) Threshold() int {
	return b.threshold
}

// Status returns the tenant's status row, or a zero closed status when the
// tenant has never synced.
func (b *CircuitBreaker) Status(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	st, err := b.store.GetStatus(ctx, tenantID)
	if errors.Is(err, database.ErrNotFound) {
		return &models.TenantSyncStatus{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status for %s: %w", tenantID, err)
	}
	return st, nil
}

// CanProceed decides whether tenantID may sync. A half-open tenant is
// closed again inside the same compare-and-swap that grants permission, so
// among concurrent callers exactly one observes the transition.
func (b *CircuitBreaker) CanProceed(ctx context.Context, tenantID string) (Decision, error) {
	for retry := 1; ; retry++ {
		st, err := b.Status(ctx, tenantID)
		if err != nil {
			return Decision{}, err
		}

		now := b.now()
		switch EffectiveState(st, now) {
		case StateClosed:
			return Decision{Allowed: true, State: StateClosed}, nil

		case StateOpen:
			next := *st.NextAllowedSyncAt
			return Decision{
				Allowed:       false,
				State:         StateOpen,
				Reason:        st.PauseReason,
				NextAllowedAt: &next,
			}, nil
		}

		expected := st.Version
		reason := st.PauseReason
		st.ClearPause()
		err = b.store.SaveStatus(ctx, st, expected)
		if errors.Is(err, database.ErrVersionConflict) {
			if perr := casPause(ctx, retry); perr != nil {
				return Decision{}, fmt.Errorf("can proceed for %s: %w", tenantID, errors.Join(err, perr))
			}
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("resume tenant %s: %w", tenantID, err)
		}

		b.transition(ctx, st, StateHalfOpen, StateClosed, CauseCooldown, reason)
		metrics.RecordBreakerTransition("auto_resumed")
		return Decision{Allowed: true, State: StateClosed, Resumed: true}, nil
	}
}

// RecordSuccess resets the failure streak and clears any pause.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, tenantID, posType string, at time.Time, code string, kind ErrorKind) (*models.TenantSyncStatus, error) {
	var wasPaused bool
	var reason string
	st, err := b.update(ctx, tenantID, posType, func(st *models.TenantSyncStatus) {
		wasPaused, reason = st.IsPaused, st.PauseReason
		st.ConsecutiveFailures = 0
		st.ClearPause()
		st.LastSuccessAt = timePtr(at)
		st.LastSyncAt = timePtr(at)
		st.TotalSyncs++
		st.LastErrorCode = code
		st.LastErrorKind = string(kind)
	})
	if err != nil {
		return nil, err
	}
	if wasPaused {
		b.transition(ctx, st, StateOpen, StateClosed, CauseSuccess, reason)
		metrics.RecordBreakerTransition("closed")
	}
	return st, nil
}

// RecordFailure adds exactly one to the failure streak and opens the
// breaker once the streak reaches the threshold. A tenant that is already
// paused keeps its original cooldown.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, tenantID, posType string, at time.Time, code string, kind ErrorKind) (*models.TenantSyncStatus, error) {
	var opened bool
	st, err := b.update(ctx, tenantID, posType, func(st *models.TenantSyncStatus) {
		opened = false
		st.ConsecutiveFailures++
		st.TotalSyncs++
		st.TotalFailures++
		st.LastFailureAt = timePtr(at)
		st.LastSyncAt = timePtr(at)
		st.LastErrorCode = code
		st.LastErrorKind = string(kind)

		if !st.IsPaused && st.ConsecutiveFailures >= b.threshold {
			opened = true
			st.IsPaused = true
			st.PausedAt = timePtr(at)
			st.PauseReason = fmt.Sprintf("%d consecutive failures (last: %s)", st.ConsecutiveFailures, code)
			st.NextAllowedSyncAt = timePtr(at.Add(b.cooldown))
		}
	})
	if err != nil {
		return nil, err
	}
	if opened {
		b.transition(ctx, st, StateClosed, StateOpen, CauseThreshold, st.PauseReason)
		metrics.RecordBreakerTransition("opened")
	}
	return st, nil
}

// Resume clears the pause and the failure streak regardless of cooldown.
func (b *CircuitBreaker) Resume(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	current, err := b.Status(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if current.Version == 0 {
		return current, nil
	}

	var from State
	var reason string
	st, err := b.update(ctx, tenantID, "", func(st *models.TenantSyncStatus) {
		from, reason = EffectiveState(st, b.now()), st.PauseReason
		st.ConsecutiveFailures = 0
		st.ClearPause()
	})
	if err != nil {
		return nil, err
	}
	if from != StateClosed {
		b.transition(ctx, st, from, StateClosed, CauseManual, reason)
		metrics.RecordBreakerTransition("resumed")
	}
	return st, nil
}

// update runs fn against the latest status and saves it with a version
// check, retrying lost races until ctx is done. A missing row is created.
func (b *CircuitBreaker) update(ctx context.Context, tenantID, posType string, fn func(*models.TenantSyncStatus)) (*models.TenantSyncStatus, error) {
	for retry := 1; ; retry++ {
		st, err := b.Status(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		expected := st.Version
		if posType != "" {
			st.POSType = posType
		}
		fn(st)

		err = b.store.SaveStatus(ctx, st, expected)
		if errors.Is(err, database.ErrVersionConflict) {
			b.log.Debug().Str("tenant_id", tenantID).Int("retry", retry).Msg("Status version conflict, retrying")
			if perr := casPause(ctx, retry); perr != nil {
				return nil, fmt.Errorf("save sync status for %s: %w", tenantID, errors.Join(err, perr))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save sync status for %s: %w", tenantID, err)
		}
		return st, nil
	}
}

func (b *CircuitBreaker) transition(ctx context.Context, st *models.TenantSyncStatus, from, to State, cause, reason string) {
	at := b.now().UTC()
	ev := b.log.Info()
	if to == StateOpen {
		ev = b.log.Warn()
	}
	ev.Str("tenant_id", st.TenantID).
		Str("pos_type", st.POSType).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("cause", cause).
		Int("consecutive_failures", st.ConsecutiveFailures).
		Msg("Tenant sync breaker transition")

	events.PublishBestEffort(ctx, b.publisher, events.TopicBreaker, events.BreakerTransition{
		TenantID:            st.TenantID,
		POSType:             st.POSType,
		From:                string(from),
		To:                  string(to),
		Cause:               cause,
		Reason:              reason,
		ConsecutiveFailures: st.ConsecutiveFailures,
		NextAllowedSyncAt:   st.NextAllowedSyncAt,
		At:                  at,
	})
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
