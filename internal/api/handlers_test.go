// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/tenant"
)

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.do(t, http.MethodGet, "/api/v1/health", "", "", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health = %d %+v", code, env)
	}
	var health models.HealthStatus
	env.decode(t, &health)
	if health.Status != "healthy" || !health.StoreConnected || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
	if env.Meta.RequestID == "" {
		t.Error("meta.request_id is empty")
	}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_StoreDown(t *testing.T) {
	h := NewHandler(HandlerDeps{Store: downStore{}})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	var health models.HealthStatus
	env.decode(t, &health)
	if health.Status != "degraded" || health.StoreConnected {
		t.Errorf("health = %+v", health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.do(t, http.MethodGet, "/api/v1/sync/tenants/t1/status", "", "", nil)
	if code != http.StatusUnauthorized || env.code() != "UNAUTHORIZED" {
		t.Errorf("status = %d %s, want 401 UNAUTHORIZED", code, env.code())
	}
}

func TestRunSync_SuccessThenStatus(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/v1/sync/tenants/t1/run", "op", auth.RoleOperator,
		map[string]string{"pos_type": "square", "operation": "sync"})
	if code != http.StatusOK {
		t.Fatalf("run = %d %+v", code, env.Error)
	}
	var result possync.SyncResult
	env.decode(t, &result)
	if !result.Allowed || result.Status != models.StatusSuccess || result.Counts.RecordsProcessed != 4 {
		t.Errorf("result = %+v", result)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/sync/tenants/t1/status", "viewer", auth.RoleViewer, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var st struct {
		TenantID   string `json:"tenant_id"`
		State      string `json:"state"`
		TotalSyncs int64  `json:"total_syncs"`
	}
	env.decode(t, &st)
	if st.TenantID != "t1" || st.State != "closed" || st.TotalSyncs != 1 {
		t.Errorf("status = %+v", st)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/sync/tenants/t1/logs?limit=10", "viewer", auth.RoleViewer, nil)
	if code != http.StatusOK || env.Meta.Count == nil || *env.Meta.Count != 1 {
		t.Fatalf("logs = %d count %v", code, env.Meta.Count)
	}
}

func TestRunSync_PauseAndAdminResume(t *testing.T) {
	f := newAPIFixture(t)
	f.failNext.Store(3)
	body := map[string]string{"pos_type": "square", "operation": "fetch"}

	for i := 0; i < 3; i++ {
		if code, env := f.do(t, http.MethodPost, "/api/v1/sync/tenants/t1/run", "op", auth.RoleOperator, body); code != http.StatusOK {
			t.Fatalf("run %d = %d %+v", i, code, env.Error)
		}
	}

	_, env := f.do(t, http.MethodGet, "/api/v1/sync/tenants/t1/can-sync", "viewer", auth.RoleViewer, nil)
	var decision possync.Decision
	env.decode(t, &decision)
	if decision.Allowed || decision.State != possync.StateOpen {
		t.Fatalf("decision after 3 failures = %+v", decision)
	}

	_, env = f.do(t, http.MethodPost, "/api/v1/sync/tenants/t1/run", "op", auth.RoleOperator, body)
	var blocked possync.SyncResult
	env.decode(t, &blocked)
	if blocked.Allowed || blocked.AttemptID != "" {
		t.Errorf("run while paused = %+v", blocked)
	}

	if code, env := f.do(t, http.MethodPost, "/api/v1/sync/tenants/t1/resume", "op", auth.RoleOperator, nil); code != http.StatusForbidden || env.code() != "FORBIDDEN" {
		t.Errorf("operator resume = %d %s, want 403", code, env.code())
	}

	code, env := f.do(t, http.MethodPost, "/api/v1/sync/tenants/t1/resume", "root", auth.RoleAdmin, nil)
	if code != http.StatusOK {
		t.Fatalf("admin resume = %d %+v", code, env.Error)
	}
	var st models.TenantSyncStatus
	env.decode(t, &st)
	if st.IsPaused || st.ConsecutiveFailures != 0 {
		t.Errorf("status after resume = %+v", st)
	}
}

func TestSyncValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"bad limit", http.MethodGet, "/api/v1/sync/tenants/t1/logs?limit=abc", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"limit too high", http.MethodGet, "/api/v1/sync/tenants/t1/logs?limit=501", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad status filter", http.MethodGet, "/api/v1/sync/tenants/t1/logs?status=done", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad tenant id", http.MethodGet, "/api/v1/sync/tenants/bad%20id/status", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown operation", http.MethodPost, "/api/v1/sync/tenants/t1/run", map[string]string{"pos_type": "square", "operation": "refund"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", http.MethodPost, "/api/v1/sync/tenants/t1/run", map[string]string{"pos_type": "square", "operation": "sync", "extra": "x"}, http.StatusBadRequest, "INVALID_BODY"},
		{"empty body", http.MethodPost, "/api/v1/sync/tenants/t1/run", nil, http.StatusBadRequest, "INVALID_BODY"},
		{"unknown pos", http.MethodPost, "/api/v1/sync/tenants/t1/run", map[string]string{"pos_type": "clover", "operation": "sync"}, http.StatusUnprocessableEntity, "UNSUPPORTED_POS_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := f.do(t, tt.method, tt.path, "op", auth.RoleOperator, tt.body)
			if code != tt.wantCode || env.code() != tt.wantErr {
				t.Errorf("%s %s = %d %s, want %d %s", tt.method, tt.path, code, env.code(), tt.wantCode, tt.wantErr)
			}
			if env.Success {
				t.Error("success = true on error")
			}
		})
	}
}

func TestTenantContext(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodGet, "/api/v1/tenant/context", "alice", auth.RoleViewer, nil)
	if code != http.StatusOK {
		t.Fatalf("context = %d %+v", code, env.Error)
	}
	var tc models.TenantContext
	env.decode(t, &tc)
	if tc.Group.ID != "grp-a" || tc.ActiveLocation.ID != "loc-a2" || len(tc.Locations) != 2 {
		t.Errorf("context = %+v", tc)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/tenant/context?preferred_location_id=loc-b1", "alice", auth.RoleViewer, nil)
	if code != http.StatusForbidden || env.code() != possync.CodeIntegrity {
		t.Errorf("foreign preference = %d %s, want 403 %s", code, env.code(), possync.CodeIntegrity)
	}

	code, env = f.do(t, http.MethodGet, "/api/v1/tenant/context", "mallory", auth.RoleViewer, nil)
	if code != http.StatusNotFound || env.code() != "TENANT_NOT_FOUND" {
		t.Errorf("unknown user = %d %s", code, env.code())
	}
}

func TestSetActiveLocation(t *testing.T) {
	f := newAPIFixture(t)

	if code, _ := f.do(t, http.MethodPut, "/api/v1/tenant/active-location", "alice", auth.RoleViewer, map[string]string{"location_id": "loc-a1"}); code != http.StatusForbidden {
		t.Errorf("viewer switch = %d, want 403", code)
	}

	code, env := f.do(t, http.MethodPut, "/api/v1/tenant/active-location", "alice", auth.RoleOperator, map[string]string{"location_id": "loc-a1"})
	if code != http.StatusOK {
		t.Fatalf("switch = %d %+v", code, env.Error)
	}
	var change models.ActiveLocationChange
	env.decode(t, &change)
	if change.State != models.ChangeConfirmed || change.LocationID != "loc-a1" {
		t.Errorf("change = %+v", change)
	}

	_, env = f.do(t, http.MethodGet, "/api/v1/tenant/context", "alice", auth.RoleViewer, nil)
	var tc models.TenantContext
	env.decode(t, &tc)
	if tc.ActiveLocation.ID != "loc-a1" {
		t.Errorf("active location after switch = %s, want loc-a1", tc.ActiveLocation.ID)
	}

	code, env = f.do(t, http.MethodPut, "/api/v1/tenant/active-location", "alice", auth.RoleOperator, map[string]string{"location_id": "loc-b1"})
	if code != http.StatusForbidden || env.code() != possync.CodeIntegrity {
		t.Errorf("cross-group switch = %d %s", code, env.code())
	}
}

func TestCacheAdministration(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/api/v1/tenant/context", "alice", auth.RoleViewer, nil)
	f.do(t, http.MethodGet, "/api/v1/tenant/context", "alice", auth.RoleViewer, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/tenant/cache/stats", "alice", auth.RoleViewer, nil)
	if code != http.StatusOK {
		t.Fatalf("stats = %d", code)
	}
	var stats tenant.CacheStats
	env.decode(t, &stats)
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}

	code, env = f.do(t, http.MethodPost, "/api/v1/tenant/cache/validate/alice", "root", auth.RoleAdmin, nil)
	if code != http.StatusOK {
		t.Fatalf("validate = %d", code)
	}
	var integrity integrityResponse
	env.decode(t, &integrity)
	if !integrity.Consistent {
		t.Errorf("integrity = %+v, want consistent", integrity)
	}

	if code, _ := f.do(t, http.MethodPost, "/api/v1/tenant/cache/flush", "alice", auth.RoleOperator, nil); code != http.StatusForbidden {
		t.Errorf("operator flush = %d, want 403", code)
	}
	code, env = f.do(t, http.MethodPost, "/api/v1/tenant/cache/flush", "root", auth.RoleAdmin, nil)
	var flushed flushResponse
	env.decode(t, &flushed)
	if code != http.StatusOK || flushed.Removed != 1 {
		t.Errorf("flush = %d %+v", code, flushed)
	}
}

func TestEventsWebSocket_NoHub(t *testing.T) {
	h := NewHandler(HandlerDeps{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/ws", nil)
	req = req.WithContext(auth.ContextWithSubject(req.Context(), &auth.Subject{ID: "alice", Role: auth.RoleViewer}))
	rec := httptest.NewRecorder()
	h.EventsWebSocket(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ws without hub = %d, want 503", rec.Code)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.do(t, http.MethodGet, "/api/v1/nope", "", "", nil)
	if code != http.StatusNotFound || env.code() != "NOT_FOUND" {
		t.Errorf("unknown route = %d %s", code, env.code())
	}
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{possync.ErrInvalidRequest, http.StatusBadRequest},
		{tenant.ErrInvalidArgument, http.StatusBadRequest},
		{tenant.ErrEmpty, http.StatusConflict},
		{tenant.ErrForbidden, http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		if rec.Code != tt.want {
			t.Errorf("respondDomainError(%v) = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}
