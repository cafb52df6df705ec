// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

//go:build integration

package database

import (
	"context"
	"testing"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/testinfra"
)

func TestPostgresStore_Contract(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("NewPostgresContainer: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		s, err := NewPostgresStore(ctx, &config.DatabaseConfig{
			Driver:       "postgres",
			DSN:          pg.DSN,
			MaxOpenConns: 4,
			LogLevel:     "silent",
		})
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		// Subtests share one database, so each starts from empty tables.
		for _, table := range []string{"sync_attempts", "tenant_sync_status", "locations", "tenant_groups", "user_profiles"} {
			if err := s.db.Exec("TRUNCATE TABLE " + table).Error; err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
