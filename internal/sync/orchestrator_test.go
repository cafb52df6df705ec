// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/models"
)

func TestOrchestrator_PauseDenyAndAutoResume(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	e.provider.set(transientErr())

	for i := 1; i <= 3; i++ {
		res, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationFetch)
		if err != nil {
			t.Fatalf("RunSync %d: %v", i, err)
		}
		if !res.Allowed || res.Status != models.StatusRetry || !res.ShouldRetry {
			t.Fatalf("RunSync %d = %+v, want allowed retry", i, res)
		}
		if res.ConsecutiveFailures != i {
			t.Errorf("RunSync %d ConsecutiveFailures = %d, want %d", i, res.ConsecutiveFailures, i)
		}
		if res.IsPaused != (i == 3) {
			t.Errorf("RunSync %d IsPaused = %v", i, res.IsPaused)
		}
		e.clock.Advance(time.Second)
	}

	res, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationFetch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatalf("RunSync while paused = %+v, want denied", res)
	}
	if res.NextAllowedAt == nil || res.Reason == "" {
		t.Errorf("denied result missing reason or next allowed time: %+v", res)
	}
	if got := e.provider.callCount(); got != 3 {
		t.Errorf("provider calls = %d, want 3 (denied runs must not call it)", got)
	}
	logs, err := e.orch.GetSyncLogs(ctx, "cafe-1", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Errorf("attempts = %d, want 3 (denied runs must not be logged)", len(logs))
	}

	e.clock.Advance(DefaultMaxBackoff)
	e.provider.set(providerResult{counts: models.SyncCounts{RecordsProcessed: 5, RecordsSuccess: 5}})

	res, err = e.orch.RunSync(ctx, "cafe-1", "square", models.OperationFetch)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Status != models.StatusSuccess {
		t.Fatalf("RunSync after cooldown = %+v, want allowed success", res)
	}

	st, err := e.orch.GetSyncStatus(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.IsPaused || st.ConsecutiveFailures != 0 || st.NextAllowedSyncAt != nil {
		t.Errorf("status after recovery = %+v, want cleared", st)
	}
	if st.TotalSyncs != 4 || st.TotalFailures != 3 {
		t.Errorf("totals = %d/%d, want 4/3", st.TotalSyncs, st.TotalFailures)
	}

	// opened, then auto resumed
	if got := e.publisher.count(events.TopicBreaker); got != 2 {
		t.Errorf("breaker events = %d, want 2", got)
	}
}

func TestOrchestrator_ManualResume(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	e.provider.set(transientErr())

	for i := 0; i < 3; i++ {
		if _, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationSync); err != nil {
			t.Fatal(err)
		}
	}

	d, err := e.orch.CanSync(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("CanSync allowed a paused tenant")
	}

	st, err := e.orch.ResumeSync(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.IsPaused || st.ConsecutiveFailures != 0 {
		t.Errorf("after ResumeSync: %+v", st)
	}

	d, err = e.orch.CanSync(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("CanSync denied after manual resume")
	}
}

func TestOrchestrator_AuthFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	e.provider.set(providerResult{err: fmt.Errorf("refresh token: %w", ErrAuth)})

	res, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationAuth)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.StatusError || res.ShouldRetry {
		t.Errorf("result = %+v, want terminal error", res)
	}
	if res.ErrorKind != KindAuth || res.ErrorCode != CodeAuth {
		t.Errorf("error = %s/%s, want auth/%s", res.ErrorKind, res.ErrorCode, CodeAuth)
	}

	st, err := e.orch.GetSyncStatus(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastErrorKind != string(KindAuth) || st.ConsecutiveFailures != 1 {
		t.Errorf("status = %+v, want auth failure counted", st)
	}
}

func TestOrchestrator_PartialOutcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		counts       models.SyncCounts
		wantStatus   models.AttemptStatus
		wantFailures int
	}{
		{"some records through", models.SyncCounts{RecordsProcessed: 10, RecordsSuccess: 9, RecordsFailed: 1}, models.StatusSuccess, 0},
		{"nothing through", models.SyncCounts{RecordsProcessed: 3, RecordsFailed: 3}, models.StatusRetry, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			e.provider.set(providerResult{counts: tt.counts})

			res, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationSync)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.ErrorCode != CodePartial {
				t.Errorf("ErrorCode = %q, want %q", res.ErrorCode, CodePartial)
			}
			if res.ConsecutiveFailures != tt.wantFailures {
				t.Errorf("ConsecutiveFailures = %d, want %d", res.ConsecutiveFailures, tt.wantFailures)
			}
		})
	}
}

func TestOrchestrator_StaleAttemptCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	// Two failures, then a crash leaves an attempt in flight.
	e.provider.set(transientErr())
	for i := 0; i < 2; i++ {
		if _, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationSync); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.orch.Recorder().StartSync(ctx, "cafe-1", "square", models.OperationSync, nil); err != nil {
		t.Fatal(err)
	}

	e.clock.Advance(DefaultStaleAttemptGrace + time.Minute)
	d, err := e.orch.CanSync(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Errorf("CanSync after stale third failure = %+v, want denied", d)
	}

	st, err := e.orch.GetSyncStatus(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.ConsecutiveFailures != 3 || st.LastErrorCode != CodeStale {
		t.Errorf("status = %+v, want 3 failures ending in %s", st, CodeStale)
	}
}

func TestOrchestrator_InputErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	tests := []struct {
		name    string
		tenant  string
		posType string
		op      models.Operation
		want    error
	}{
		{"missing tenant", "", "square", models.OperationSync, ErrInvalidRequest},
		{"bad operation", "cafe-1", "square", "launch", ErrInvalidRequest},
		{"unknown pos", "cafe-1", "clover", models.OperationSync, ErrNoProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.orch.RunSync(ctx, tt.tenant, tt.posType, tt.op)
			if !errors.Is(err, tt.want) {
				t.Errorf("RunSync error = %v, want %v", err, tt.want)
			}
		})
	}

	if e.provider.callCount() != 0 {
		t.Error("provider called for invalid input")
	}
}

func TestOrchestrator_State(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	e.provider.set(transientErr())

	for i := 0; i < 3; i++ {
		if _, err := e.orch.RunSync(ctx, "cafe-1", "square", models.OperationSync); err != nil {
			t.Fatal(err)
		}
	}

	state, _, err := e.orch.State(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if state != StateOpen {
		t.Errorf("State = %q, want open", state)
	}

	e.clock.Advance(DefaultMaxBackoff)
	state, st, err := e.orch.State(ctx, "cafe-1")
	if err != nil {
		t.Fatal(err)
	}
	if state != StateHalfOpen || !st.IsPaused {
		t.Errorf("State = %q paused=%v, want half_open and still paused", state, st.IsPaused)
	}
}
