// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/possync/internal/models"
)

// MemoryStore is an in-process Store. Attempts share one lock; every
// tenant's status row has its own lock so tenants never contend.
type MemoryStore struct {
	attemptsMu sync.RWMutex
	attempts   map[string]*models.SyncAttempt
	order      []string

	statusMu sync.Mutex
	statuses map[string]*statusSlot

	dirMu     sync.RWMutex
	groups    map[string]models.Group
	locations map[string]models.Location
	profiles  map[string]models.UserProfile
}

type statusSlot struct {
	mu     sync.Mutex
	status *models.TenantSyncStatus
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts:  make(map[string]*models.SyncAttempt),
		statuses:  make(map[string]*statusSlot),
		groups:    make(map[string]models.Group),
		locations: make(map[string]models.Location),
		profiles:  make(map[string]models.UserProfile),
	}
}

func copyAttempt(a *models.SyncAttempt) models.SyncAttempt {
	out := *a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// InsertAttempt implements SyncStore.
func (m *MemoryStore) InsertAttempt(_ context.Context, a *models.SyncAttempt) error {
	m.attemptsMu.Lock()
	defer m.attemptsMu.Unlock()

	cp := copyAttempt(a)
	m.attempts[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

// GetAttempt implements SyncStore.
func (m *MemoryStore) GetAttempt(_ context.Context, id string) (*models.SyncAttempt, error) {
	m.attemptsMu.RLock()
	defer m.attemptsMu.RUnlock()

	a, ok := m.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyAttempt(a)
	return &cp, nil
}

// CompleteAttempt implements SyncStore.
func (m *MemoryStore) CompleteAttempt(_ context.Context, id string, c models.AttemptCompletion) error {
	m.attemptsMu.Lock()
	defer m.attemptsMu.Unlock()

	a, ok := m.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.CompletedAt != nil {
		return ErrAttemptCompleted
	}

	completedAt := c.CompletedAt
	a.Status = c.Status
	a.CompletedAt = &completedAt
	a.DurationMs = c.DurationMs
	a.RecordsProcessed = c.Counts.RecordsProcessed
	a.RecordsSuccess = c.Counts.RecordsSuccess
	a.RecordsFailed = c.Counts.RecordsFailed
	a.ErrorMessage = c.ErrorMessage
	a.ErrorCode = c.ErrorCode
	a.NextRetryAt = c.NextRetryAt
	a.BackoffSeconds = c.BackoffSeconds
	return nil
}

// ListAttempts implements SyncStore.
func (m *MemoryStore) ListAttempts(_ context.Context, f AttemptFilter) ([]models.SyncAttempt, error) {
	m.attemptsMu.RLock()
	defer m.attemptsMu.RUnlock()

	limit := f.NormalizedLimit()
	out := make([]models.SyncAttempt, 0)
	for _, a := range m.newestFirstLocked() {
		if a.TenantID != f.TenantID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, copyAttempt(a))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// newestFirstLocked orders attempts by StartedAt descending, insertion order
// breaking ties. Must be called with attemptsMu held.
func (m *MemoryStore) newestFirstLocked() []*models.SyncAttempt {
	out := make([]*models.SyncAttempt, len(m.order))
	for i := range m.order {
		out[len(m.order)-1-i] = m.attempts[m.order[i]]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// LatestCompletedAttempt implements SyncStore.
func (m *MemoryStore) LatestCompletedAttempt(_ context.Context, tenantID string, op models.Operation) (*models.SyncAttempt, error) {
	m.attemptsMu.RLock()
	defer m.attemptsMu.RUnlock()

	for _, a := range m.newestFirstLocked() {
		if a.TenantID == tenantID && a.Operation == op && a.CompletedAt != nil {
			cp := copyAttempt(a)
			return &cp, nil
		}
	}
	return nil, nil
}

// ListInFlight implements SyncStore.
func (m *MemoryStore) ListInFlight(_ context.Context, tenantID string, startedBefore time.Time) ([]models.SyncAttempt, error) {
	m.attemptsMu.RLock()
	defer m.attemptsMu.RUnlock()

	var out []models.SyncAttempt
	for _, id := range m.order {
		a := m.attempts[id]
		if a.CompletedAt != nil || !a.StartedAt.Before(startedBefore) {
			continue
		}
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		out = append(out, copyAttempt(a))
	}
	return out, nil
}

// ListDueRetries implements SyncStore.
func (m *MemoryStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]models.SyncAttempt, error) {
	m.attemptsMu.RLock()
	defer m.attemptsMu.RUnlock()

	type chainKey struct {
		tenant string
		op     models.Operation
	}
	seen := make(map[chainKey]bool)
	var out []models.SyncAttempt
	for _, a := range m.newestFirstLocked() {
		key := chainKey{a.TenantID, a.Operation}
		if seen[key] {
			continue
		}
		seen[key] = true

		if a.CompletedAt == nil || a.Status != models.StatusRetry || a.NextRetryAt == nil {
			continue
		}
		if a.NextRetryAt.After(now) {
			continue
		}
		out = append(out, copyAttempt(a))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) slot(tenantID string) *statusSlot {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	s, ok := m.statuses[tenantID]
	if !ok {
		s = &statusSlot{}
		m.statuses[tenantID] = s
	}
	return s
}

// GetStatus implements SyncStore.
func (m *MemoryStore) GetStatus(_ context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	s := m.slot(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == nil {
		return nil, ErrNotFound
	}
	cp := *s.status
	return &cp, nil
}

// SaveStatus implements SyncStore.
func (m *MemoryStore) SaveStatus(_ context.Context, st *models.TenantSyncStatus, expectedVersion int64) error {
	s := m.slot(st.TenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if s.status != nil {
		current = s.status.Version
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}

	cp := *st
	cp.Version = expectedVersion + 1
	s.status = &cp
	st.Version = cp.Version
	return nil
}

// Ping implements SyncStore.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close implements SyncStore.
func (m *MemoryStore) Close() error {
	return nil
}

// GetUserProfile implements Directory.
func (m *MemoryStore) GetUserProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// GetGroup implements Directory.
func (m *MemoryStore) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

// ListLocations implements Directory.
func (m *MemoryStore) ListLocations(_ context.Context, groupID string) ([]models.Location, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()

	out := make([]models.Location, 0)
	for _, l := range m.locations {
		if l.GroupID == groupID {
			out = append(out, l)
		}
	}
	models.SortLocations(out)
	return out, nil
}

// SetDefaultLocation implements Directory.
func (m *MemoryStore) SetDefaultLocation(_ context.Context, userID, locationID string) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.DefaultLocationID = locationID
	m.profiles[userID] = p
	return nil
}

// UpsertGroup implements DirectoryWriter.
func (m *MemoryStore) UpsertGroup(_ context.Context, g models.Group) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.groups[g.ID] = g
	return nil
}

// UpsertLocation implements DirectoryWriter.
func (m *MemoryStore) UpsertLocation(_ context.Context, l models.Location) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.locations[l.ID] = l
	return nil
}

// UpsertUserProfile implements DirectoryWriter.
func (m *MemoryStore) UpsertUserProfile(_ context.Context, p models.UserProfile) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

var _ Store = (*MemoryStore)(nil)
