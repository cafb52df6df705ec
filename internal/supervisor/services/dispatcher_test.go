// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
)

type dispatchFixture struct {
	now        time.Time
	store      *database.MemoryStore
	orch       *possync.Orchestrator
	dispatcher *RetryDispatcher
	failNext   atomic.Int32
	calls      atomic.Int32
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		store: database.NewMemoryStore(),
	}
	clock := func() time.Time { return f.now }

	providers := possync.NewProviderRegistry()
	providers.Register("square", possync.ProviderFunc(func(context.Context, string, models.Operation) (models.SyncCounts, error) {
		f.calls.Add(1)
		if f.failNext.Load() > 0 {
			f.failNext.Add(-1)
			return models.SyncCounts{}, fmt.Errorf("upstream timeout: %w", possync.ErrTransient)
		}
		return models.SyncCounts{RecordsProcessed: 3, RecordsSuccess: 3}, nil
	}))

	var seq atomic.Int64
	f.orch = possync.New(f.store, providers, possync.Options{
		Clock: clock,
		NewID: func() string { return fmt.Sprintf("att-%03d", seq.Add(1)) },
	})
	f.dispatcher = NewRetryDispatcher(f.store, f.orch, 10)
	f.dispatcher.now = clock
	return f
}

func (f *dispatchFixture) runSync(t *testing.T) possync.SyncResult {
	t.Helper()
	res, err := f.orch.RunSync(context.Background(), "tenant-1", "square", models.OperationSync)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	return res
}

func TestRetryDispatcher_RunsDueRetries(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.failNext.Store(1)
	if res := f.runSync(t); res.Status != models.StatusRetry {
		t.Fatalf("first attempt status = %s, want retry", res.Status)
	}

	f.now = f.now.Add(10 * time.Second)
	report, err := f.dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Due != 0 {
		t.Errorf("due before backoff elapsed = %d, want 0", report.Due)
	}

	f.now = f.now.Add(25 * time.Second)
	report, err = f.dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report != (DispatchReport{Due: 1, Succeeded: 1}) {
		t.Errorf("report = %+v, want 1 due and succeeded", report)
	}
	if f.calls.Load() != 2 {
		t.Errorf("provider calls = %d, want 2", f.calls.Load())
	}

	report, _ = f.dispatcher.RunOnce(ctx)
	if report.Due != 0 {
		t.Errorf("due after success = %d, want 0", report.Due)
	}
}

func TestRetryDispatcher_SkipsPausedTenants(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.failNext.Store(3)
	for i := 0; i < 3; i++ {
		f.runSync(t)
		f.now = f.now.Add(time.Second)
	}
	if _, st, _ := f.orch.State(ctx, "tenant-1"); st == nil || !st.IsPaused {
		t.Fatalf("tenant not paused after 3 failures: %+v", st)
	}

	f.now = f.now.Add(200 * time.Second)
	report, err := f.dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report != (DispatchReport{Due: 1, Skipped: 1}) {
		t.Errorf("report = %+v, want 1 due and skipped", report)
	}
	if f.calls.Load() != 3 {
		t.Errorf("provider called while paused: %d calls", f.calls.Load())
	}
}

func TestRetryDispatcher_CountsFailures(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.failNext.Store(2)
	f.runSync(t)
	f.now = f.now.Add(time.Minute)

	report, err := f.dispatcher.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report != (DispatchReport{Due: 1, Failed: 1}) {
		t.Errorf("report = %+v, want 1 due and failed", report)
	}
}

type failingLister struct{ err error }

func (l failingLister) ListDueRetries(context.Context, time.Time, int) ([]models.SyncAttempt, error) {
	return nil, l.err
}

func TestRetryDispatcher_StoreError(t *testing.T) {
	storeErr := errors.New("store down")
	d := NewRetryDispatcher(failingLister{err: storeErr}, nil, 0)
	if d.batchSize != 100 {
		t.Errorf("default batch size = %d, want 100", d.batchSize)
	}
	if _, err := d.RunOnce(context.Background()); !errors.Is(err, storeErr) {
		t.Errorf("RunOnce = %v, want %v", err, storeErr)
	}
}
