// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/models"
)

// contendedStore loses the next `losses` status writes to a concurrent
// writer. A negative value loses every write.
type contendedStore struct {
	*database.MemoryStore
	losses atomic.Int64
	saves  atomic.Int64
}

func newContendedStore(losses int64) *contendedStore {
	s := &contendedStore{MemoryStore: database.NewMemoryStore()}
	s.losses.Store(losses)
	return s
}

func (s *contendedStore) SaveStatus(ctx context.Context, st *models.TenantSyncStatus, expected int64) error {
	s.saves.Add(1)
	if n := s.losses.Load(); n < 0 || (n > 0 && s.losses.CompareAndSwap(n, n-1)) {
		return database.ErrVersionConflict
	}
	return s.MemoryStore.SaveStatus(ctx, st, expected)
}

func TestCircuitBreaker_KeepsRetryingLostRaces(t *testing.T) {
	ctx := context.Background()
	store := newContendedStore(casFastRetries + 4)
	clock := newFakeClock()
	b := NewCircuitBreaker(store, BreakerConfig{Clock: clock.Now})

	st, err := b.RecordFailure(ctx, "t1", "square", clock.Now(), CodeTransient, KindTransient)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if st.ConsecutiveFailures != 1 || st.TotalFailures != 1 {
		t.Errorf("status = %+v, want one counted failure", st)
	}
	if got, want := store.saves.Load(), int64(casFastRetries+5); got != want {
		t.Errorf("SaveStatus calls = %d, want %d", got, want)
	}

	stored, err := b.Status(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ConsecutiveFailures != 1 {
		t.Errorf("stored ConsecutiveFailures = %d, want 1", stored.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_ContentionBoundedByContext(t *testing.T) {
	store := newContendedStore(-1)
	clock := newFakeClock()
	b := NewCircuitBreaker(store, BreakerConfig{Clock: clock.Now})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := b.RecordFailure(ctx, "t1", "square", clock.Now(), CodeTransient, KindTransient)
	if !errors.Is(err, database.ErrVersionConflict) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want version conflict and deadline exceeded", err)
	}
	if store.saves.Load() <= casFastRetries {
		t.Errorf("SaveStatus calls = %d, want more than %d", store.saves.Load(), casFastRetries)
	}
}

func TestRecorder_CountsFailureAfterCallerCancels(t *testing.T) {
	store := newContendedStore(0)
	clock := newFakeClock()
	b := NewCircuitBreaker(store, BreakerConfig{Clock: clock.Now})
	r := NewRecorder(store, b, RecorderConfig{Clock: clock.Now, NewID: sequentialIDs()})

	ctx, cancel := context.WithCancel(context.Background())
	id, err := r.StartSync(ctx, "t1", "square", models.OperationFetch, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The caller disconnects while the status row is contended.
	cancel()
	store.losses.Store(3)

	out, err := r.LogError(ctx, id, "adapter timed out", "", models.SyncCounts{}, KindTransient)
	if err != nil {
		t.Fatalf("LogError: %v", err)
	}
	if out.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", out.ConsecutiveFailures)
	}

	a, err := store.GetAttempt(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if a.InFlight() {
		t.Error("attempt left in flight")
	}
}
