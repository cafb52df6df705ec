// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/possync/internal/models"
)

var contractBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAttempt(tenantID string, op models.Operation, startedAt time.Time) *models.SyncAttempt {
	return &models.SyncAttempt{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		POSType:   "square",
		Operation: op,
		Status:    models.StatusRetry,
		StartedAt: startedAt,
	}
}

func completeAs(t *testing.T, s Store, a *models.SyncAttempt, status models.AttemptStatus, at time.Time, nextRetry *time.Time) {
	t.Helper()
	err := s.CompleteAttempt(context.Background(), a.ID, models.AttemptCompletion{
		Status:      status,
		CompletedAt: at,
		DurationMs:  at.Sub(a.StartedAt).Milliseconds(),
		NextRetryAt: nextRetry,
	})
	if err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("attempt lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := newAttempt("tenant-a", models.OperationFetch, contractBase)
		a.Metadata = map[string]string{"batch": "7"}
		if err := s.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}

		got, err := s.GetAttempt(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if !got.InFlight() || got.Metadata["batch"] != "7" {
			t.Errorf("got %+v, want in-flight attempt with metadata", got)
		}

		err = s.CompleteAttempt(ctx, a.ID, models.AttemptCompletion{
			Status:       models.StatusError,
			CompletedAt:  contractBase.Add(2 * time.Second),
			DurationMs:   2000,
			Counts:       models.SyncCounts{RecordsProcessed: 10, RecordsFailed: 10},
			ErrorMessage: "boom",
			ErrorCode:    "TRANSIENT",
		})
		if err != nil {
			t.Fatalf("CompleteAttempt: %v", err)
		}

		got, err = s.GetAttempt(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if got.InFlight() || got.Status != models.StatusError || got.RecordsFailed != 10 || got.ErrorCode != "TRANSIENT" {
			t.Errorf("completed attempt = %+v", got)
		}

		err = s.CompleteAttempt(ctx, a.ID, models.AttemptCompletion{Status: models.StatusSuccess, CompletedAt: contractBase})
		if !errors.Is(err, ErrAttemptCompleted) {
			t.Errorf("second completion err = %v, want ErrAttemptCompleted", err)
		}

		if _, err := s.GetAttempt(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAttempt(missing) err = %v, want ErrNotFound", err)
		}
		err = s.CompleteAttempt(ctx, "missing", models.AttemptCompletion{Status: models.StatusSuccess, CompletedAt: contractBase})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("CompleteAttempt(missing) err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list attempts newest first with filter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			a := newAttempt("tenant-b", models.OperationSync, contractBase.Add(time.Duration(i)*time.Minute))
			if err := s.InsertAttempt(ctx, a); err != nil {
				t.Fatalf("InsertAttempt: %v", err)
			}
			status := models.StatusSuccess
			if i == 1 {
				status = models.StatusError
			}
			completeAs(t, s, a, status, a.StartedAt.Add(time.Second), nil)
		}
		if err := s.InsertAttempt(ctx, newAttempt("other", models.OperationSync, contractBase)); err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}

		all, err := s.ListAttempts(ctx, AttemptFilter{TenantID: "tenant-b"})
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len = %d, want 3", len(all))
		}
		if !all[0].StartedAt.After(all[1].StartedAt) || !all[1].StartedAt.After(all[2].StartedAt) {
			t.Errorf("attempts not newest first: %v, %v, %v", all[0].StartedAt, all[1].StartedAt, all[2].StartedAt)
		}

		status := models.StatusError
		failed, err := s.ListAttempts(ctx, AttemptFilter{TenantID: "tenant-b", Status: &status})
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(failed) != 1 || failed[0].Status != models.StatusError {
			t.Errorf("filtered = %+v, want one error attempt", failed)
		}

		limited, err := s.ListAttempts(ctx, AttemptFilter{TenantID: "tenant-b", Limit: 2})
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limited len = %d, want 2", len(limited))
		}
	})

	t.Run("latest completed and in flight", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if got, err := s.LatestCompletedAttempt(ctx, "tenant-c", models.OperationFetch); err != nil || got != nil {
			t.Fatalf("LatestCompletedAttempt on empty = %v, %v; want nil, nil", got, err)
		}

		done := newAttempt("tenant-c", models.OperationFetch, contractBase)
		stuck := newAttempt("tenant-c", models.OperationFetch, contractBase.Add(time.Minute))
		for _, a := range []*models.SyncAttempt{done, stuck} {
			if err := s.InsertAttempt(ctx, a); err != nil {
				t.Fatalf("InsertAttempt: %v", err)
			}
		}
		completeAs(t, s, done, models.StatusSuccess, contractBase.Add(time.Second), nil)

		latest, err := s.LatestCompletedAttempt(ctx, "tenant-c", models.OperationFetch)
		if err != nil {
			t.Fatalf("LatestCompletedAttempt: %v", err)
		}
		if latest == nil || latest.ID != done.ID {
			t.Errorf("latest = %+v, want %s", latest, done.ID)
		}

		inflight, err := s.ListInFlight(ctx, "tenant-c", contractBase.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListInFlight: %v", err)
		}
		if len(inflight) != 1 || inflight[0].ID != stuck.ID {
			t.Errorf("in flight = %+v, want only %s", inflight, stuck.ID)
		}

		none, err := s.ListInFlight(ctx, "tenant-c", contractBase)
		if err != nil {
			t.Fatalf("ListInFlight: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("in flight before cutoff = %d, want 0", len(none))
		}

		all, err := s.ListInFlight(ctx, "", contractBase.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListInFlight(all): %v", err)
		}
		if len(all) != 1 {
			t.Errorf("in flight across tenants = %d, want 1", len(all))
		}
	})

	t.Run("due retries take the newest attempt per chain", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		due := contractBase.Add(30 * time.Second)
		later := contractBase.Add(time.Hour)

		// tenant-d fetch: retry due
		a1 := newAttempt("tenant-d", models.OperationFetch, contractBase)
		// tenant-d map: retry superseded by a newer success
		a2 := newAttempt("tenant-d", models.OperationMap, contractBase)
		a3 := newAttempt("tenant-d", models.OperationMap, contractBase.Add(time.Minute))
		// tenant-e fetch: retry not yet due
		a4 := newAttempt("tenant-e", models.OperationFetch, contractBase)
		for _, a := range []*models.SyncAttempt{a1, a2, a3, a4} {
			if err := s.InsertAttempt(ctx, a); err != nil {
				t.Fatalf("InsertAttempt: %v", err)
			}
		}
		completeAs(t, s, a1, models.StatusRetry, contractBase.Add(time.Second), &due)
		completeAs(t, s, a2, models.StatusRetry, contractBase.Add(time.Second), &due)
		completeAs(t, s, a3, models.StatusSuccess, contractBase.Add(61*time.Second), nil)
		completeAs(t, s, a4, models.StatusRetry, contractBase.Add(time.Second), &later)

		got, err := s.ListDueRetries(ctx, contractBase.Add(5*time.Minute), 10)
		if err != nil {
			t.Fatalf("ListDueRetries: %v", err)
		}
		if len(got) != 1 || got[0].ID != a1.ID {
			t.Errorf("due retries = %+v, want only %s", got, a1.ID)
		}
	})

	t.Run("status compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.GetStatus(ctx, "tenant-f"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetStatus on empty err = %v, want ErrNotFound", err)
		}

		st := &models.TenantSyncStatus{TenantID: "tenant-f", POSType: "square"}
		if err := s.SaveStatus(ctx, st, 0); err != nil {
			t.Fatalf("SaveStatus(insert): %v", err)
		}
		if st.Version != 1 {
			t.Errorf("version after insert = %d, want 1", st.Version)
		}

		dup := &models.TenantSyncStatus{TenantID: "tenant-f", POSType: "square"}
		if err := s.SaveStatus(ctx, dup, 0); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("duplicate insert err = %v, want ErrVersionConflict", err)
		}

		paused := contractBase
		st.IsPaused = true
		st.PausedAt = &paused
		st.PauseReason = "3 consecutive failures"
		st.ConsecutiveFailures = 3
		if err := s.SaveStatus(ctx, st, 1); err != nil {
			t.Fatalf("SaveStatus(update): %v", err)
		}

		stale := &models.TenantSyncStatus{TenantID: "tenant-f", POSType: "square"}
		if err := s.SaveStatus(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("stale update err = %v, want ErrVersionConflict", err)
		}

		got, err := s.GetStatus(ctx, "tenant-f")
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if got.Version != 2 || !got.IsPaused || got.ConsecutiveFailures != 3 || got.PausedAt == nil || !got.PausedAt.Equal(paused) {
			t.Errorf("status = %+v", got)
		}
	})

	t.Run("directory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertGroup(ctx, models.Group{ID: "g1", Name: "Bean There"}); err != nil {
			t.Fatalf("UpsertGroup: %v", err)
		}
		locs := []models.Location{
			{ID: "loc-b", GroupID: "g1", Name: "Harbour", SortKey: 2},
			{ID: "loc-a", GroupID: "g1", Name: "Main St", SortKey: 2, IsMain: true},
			{ID: "loc-c", GroupID: "g1", Name: "Airport", SortKey: 1},
			{ID: "loc-x", GroupID: "g2", Name: "Elsewhere", SortKey: 0},
		}
		for _, l := range locs {
			if err := s.UpsertLocation(ctx, l); err != nil {
				t.Fatalf("UpsertLocation: %v", err)
			}
		}
		if err := s.UpsertUserProfile(ctx, models.UserProfile{UserID: "u1", GroupID: "g1"}); err != nil {
			t.Fatalf("UpsertUserProfile: %v", err)
		}

		got, err := s.ListLocations(ctx, "g1")
		if err != nil {
			t.Fatalf("ListLocations: %v", err)
		}
		want := []string{"loc-c", "loc-a", "loc-b"}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("locations[%d] = %s, want %s", i, got[i].ID, id)
			}
		}

		if err := s.SetDefaultLocation(ctx, "u1", "loc-b"); err != nil {
			t.Fatalf("SetDefaultLocation: %v", err)
		}
		p, err := s.GetUserProfile(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserProfile: %v", err)
		}
		if p.DefaultLocationID != "loc-b" || p.GroupID != "g1" {
			t.Errorf("profile = %+v", p)
		}

		if err := s.SetDefaultLocation(ctx, "nobody", "loc-b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetDefaultLocation(unknown) err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetGroup(ctx, "g9"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetGroup(unknown) err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetUserProfile(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUserProfile(unknown) err = %v, want ErrNotFound", err)
		}
	})
}
