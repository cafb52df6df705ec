// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
)

// DueRetryLister is satisfied by database.SyncStore.
type DueRetryLister interface {
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SyncAttempt, error)
}

// SyncRunner is satisfied by *sync.Orchestrator.
type SyncRunner interface {
	RunSync(ctx context.Context, tenantID, posType string, op models.Operation) (possync.SyncResult, error)
}

// DispatchReport summarizes one dispatcher pass.
type DispatchReport struct {
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RetryDispatcher re-runs attempts whose backoff has elapsed. The engine
// only records NextRetryAt; this is the invoker that acts on it.
type RetryDispatcher struct {
	store     DueRetryLister
	runner    SyncRunner
	batchSize int
	now       func() time.Time
}

// NewRetryDispatcher creates a dispatcher that handles at most batchSize
// retries per pass.
func NewRetryDispatcher(store DueRetryLister, runner SyncRunner, batchSize int) *RetryDispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetryDispatcher{store: store, runner: runner, batchSize: batchSize, now: time.Now}
}

// RunOnce dispatches every retry due now. A retry the breaker refuses is
// skipped; it stays due and is picked up once the tenant resumes.
func (d *RetryDispatcher) RunOnce(ctx context.Context) (DispatchReport, error) {
	due, err := d.store.ListDueRetries(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return DispatchReport{}, err
	}

	report := DispatchReport{Due: len(due)}
	for _, a := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		runCtx := logging.ContextWithNewCorrelationID(ctx)
		log := logging.Ctx(runCtx).With().
			Str("tenant_id", a.TenantID).
			Str("operation", string(a.Operation)).
			Str("previous_attempt_id", a.ID).
			Logger()

		res, err := d.runner.RunSync(runCtx, a.TenantID, a.POSType, a.Operation)
		switch {
		case err != nil:
			report.Failed++
			metrics.RetryDispatches.WithLabelValues("failure").Inc()
			log.Warn().Err(err).Msg("Retry dispatch failed")
		case !res.Allowed:
			report.Skipped++
			metrics.RetryDispatches.WithLabelValues("skipped").Inc()
			log.Debug().Str("reason", res.Reason).Msg("Retry skipped, breaker open")
		case res.Status == models.StatusSuccess:
			report.Succeeded++
			metrics.RetryDispatches.WithLabelValues("success").Inc()
		default:
			report.Failed++
			metrics.RetryDispatches.WithLabelValues("failure").Inc()
			log.Info().Str("status", string(res.Status)).Str("error_code", res.ErrorCode).Msg("Retry attempt failed")
		}
	}

	if report.Due > 0 {
		logging.Ctx(ctx).Info().
			Int("due", report.Due).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("Retry dispatch pass complete")
	}
	return report, nil
}

// Service runs RunOnce every interval under supervision.
func (d *RetryDispatcher) Service(interval time.Duration) *PeriodicService {
	return NewPeriodicService("retry-dispatcher", interval, func(ctx context.Context) error {
		_, err := d.RunOnce(ctx)
		return err
	})
}
