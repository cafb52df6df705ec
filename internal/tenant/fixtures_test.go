// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/models"
)

// seedDirectory creates two groups:
//
//	grp-a: loc-a1 (sort 2), loc-a2 (sort 1, main), loc-a3 (sort 1)
//	grp-b: loc-b1
//	grp-empty: no locations
func seedDirectory(t *testing.T) *database.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()

	groups := []models.Group{
		{ID: "grp-a", Name: "Bean There"},
		{ID: "grp-b", Name: "Brew Crew"},
		{ID: "grp-empty", Name: "Pop-up"},
	}
	locations := []models.Location{
		{ID: "loc-a1", GroupID: "grp-a", Name: "Harbour", SortKey: 2},
		{ID: "loc-a2", GroupID: "grp-a", Name: "Central", SortKey: 1, IsMain: true},
		{ID: "loc-a3", GroupID: "grp-a", Name: "Station", SortKey: 1},
		{ID: "loc-b1", GroupID: "grp-b", Name: "Market"},
	}
	profiles := []models.UserProfile{
		{UserID: "alice", GroupID: "grp-a"},
		{UserID: "bob", GroupID: "grp-b"},
		{UserID: "erin", GroupID: "grp-empty"},
		{UserID: "orphan", GroupID: "grp-missing"},
	}

	for _, g := range groups {
		if err := store.UpsertGroup(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	for _, l := range locations {
		if err := store.UpsertLocation(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range profiles {
		if err := store.UpsertUserProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

// flakyDirectory fails SetDefaultLocation for one location ID.
type flakyDirectory struct {
	*database.MemoryStore

	mu      sync.Mutex
	failFor string
	writes  []string
}

var errDirectoryDown = errors.New("directory unavailable")

func (d *flakyDirectory) SetDefaultLocation(ctx context.Context, userID, locationID string) error {
	d.mu.Lock()
	d.writes = append(d.writes, locationID)
	fail := d.failFor != "" && d.failFor == locationID
	d.mu.Unlock()
	if fail {
		return errDirectoryDown
	}
	return d.MemoryStore.SetDefaultLocation(ctx, userID, locationID)
}

func (d *flakyDirectory) writeLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}

// countingResolver counts Resolve calls and can be pointed at a different
// directory to simulate the source of truth changing under the cache.
type countingResolver struct {
	mu    sync.Mutex
	inner *Resolver
	calls int
}

func (r *countingResolver) Resolve(ctx context.Context, userID, preferred string) (models.TenantContext, error) {
	r.mu.Lock()
	r.calls++
	inner := r.inner
	r.mu.Unlock()
	return inner.Resolve(ctx, userID, preferred)
}

func (r *countingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
