// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// ReconcileStale completes attempts that have been in flight longer than
// the grace period as STALE_IN_FLIGHT errors, each counting as one failure
// against its tenant. An empty tenantID sweeps every tenant. It returns the
// number of attempts this call reconciled.
func (r *Recorder) ReconcileStale(ctx context.Context, tenantID string) (int, error) {
	now := r.now().UTC()
	stale, err := r.store.ListInFlight(ctx, tenantID, now.Add(-r.grace))
	if err != nil {
		return 0, fmt.Errorf("list in-flight attempts: %w", err)
	}

	reconciled := 0
	for i := range stale {
		a := &stale[i]
		c := models.AttemptCompletion{
			Status:       models.StatusError,
			CompletedAt:  now,
			DurationMs:   durationMs(a.StartedAt, now),
			ErrorMessage: fmt.Sprintf("attempt still in flight after %s", r.grace),
			ErrorCode:    CodeStale,
		}
		err := r.store.CompleteAttempt(ctx, a.ID, c)
		if errors.Is(err, database.ErrAttemptCompleted) {
			// Finished or reconciled by someone else in the meantime.
			continue
		}
		if err != nil {
			return reconciled, fmt.Errorf("reconcile attempt %s: %w", a.ID, err)
		}

		if _, err := r.breaker.RecordFailure(ctx, a.TenantID, a.POSType, now, CodeStale, KindStale); err != nil {
			return reconciled, err
		}
		reconciled++
		metrics.StaleAttemptsReconciled.Inc()
		r.completed(ctx, a, c)

		r.log.Warn().
			Str("attempt_id", a.ID).
			Str("tenant_id", a.TenantID).
			Time("started_at", a.StartedAt).
			Msg("Reconciled stale sync attempt")
	}
	return reconciled, nil
}
