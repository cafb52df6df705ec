// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/possync/internal/logging"
)

// StaleReconciler is satisfied by *sync.Orchestrator.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, tenantID string) (int, error)
}

// NewStaleSweeper reconciles stale in-flight attempts of every tenant each
// interval, so tenants that stop syncing still get their abandoned
// attempts counted against the breaker.
func NewStaleSweeper(r StaleReconciler, interval time.Duration) *PeriodicService {
	return NewPeriodicService("stale-sweeper", interval, func(ctx context.Context) error {
		n, err := r.ReconcileStale(ctx, "")
		if err != nil {
			return err
		}
		if n > 0 {
			logging.Ctx(ctx).Info().Int("reconciled", n).Msg("Stale sync attempts reconciled")
		}
		return nil
	})
}
