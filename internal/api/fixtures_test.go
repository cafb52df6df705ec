// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/authz"
	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
	"github.com/tomtom215/possync/internal/preference"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/tenant"
)

//nolint:gochecknoinits // quiet logs for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testSecret = "api-test-secret-with-at-least-32-chars"

type apiFixture struct {
	store    *database.MemoryStore
	orch     *possync.Orchestrator
	cache    *tenant.Cache
	jwt      *auth.JWTManager
	server   http.Handler
	failNext atomic.Int32
}

// newAPIFixture wires the real engine and tenant services over a memory
// store. alice (grp-a: loc-a1, loc-a2 main) and bob (grp-b: loc-b1) exist.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	f := &apiFixture{store: database.NewMemoryStore()}

	for _, g := range []models.Group{{ID: "grp-a", Name: "Bean There"}, {ID: "grp-b", Name: "Brew Crew"}} {
		if err := f.store.UpsertGroup(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	for _, l := range []models.Location{
		{ID: "loc-a1", GroupID: "grp-a", Name: "Harbour", SortKey: 2},
		{ID: "loc-a2", GroupID: "grp-a", Name: "Central", SortKey: 1, IsMain: true},
		{ID: "loc-b1", GroupID: "grp-b", Name: "Market"},
	} {
		if err := f.store.UpsertLocation(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []models.UserProfile{{UserID: "alice", GroupID: "grp-a"}, {UserID: "bob", GroupID: "grp-b"}} {
		if err := f.store.UpsertUserProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	providers := possync.NewProviderRegistry()
	providers.Register("square", possync.ProviderFunc(func(context.Context, string, models.Operation) (models.SyncCounts, error) {
		if f.failNext.Load() > 0 {
			f.failNext.Add(-1)
			return models.SyncCounts{}, fmt.Errorf("gateway timeout: %w", possync.ErrTransient)
		}
		return models.SyncCounts{RecordsProcessed: 4, RecordsSuccess: 4}, nil
	}))
	f.orch = possync.New(f.store, providers, possync.Options{})

	prefs, err := preference.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = prefs.Close() })

	resolver := tenant.NewResolver(f.store, nil)
	f.cache = tenant.NewCache(resolver, tenant.CacheOptions{Capacity: 100})
	switcher := tenant.NewSwitcher(resolver, f.cache, f.store, prefs)

	f.jwt, err = auth.NewJWTManager(&config.SecurityConfig{JWTSecret: testSecret, TokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	enforcer, err := authz.NewEnforcer("")
	if err != nil {
		t.Fatal(err)
	}

	handler := NewHandler(HandlerDeps{
		Sync:     f.orch,
		Tenants:  f.cache,
		Switcher: switcher,
		Store:    f.store,
		Version:  "test",
	})
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true})
	f.server = NewRouter(handler, f.jwt, enforcer, mw).Setup()
	return f
}

func (f *apiFixture) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, role)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// do sends a request as userID/role (no token when userID is empty) and
// decodes the envelope.
func (f *apiFixture) do(t *testing.T, method, path, userID string, role auth.Role, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: body %q is not an envelope: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		RequestID string          `json:"request_id"`
		Details   json.RawMessage `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
		Count     *int   `json:"count"`
	} `json:"meta"`
}

func (e envelope) decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", e.Data, err)
	}
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}
