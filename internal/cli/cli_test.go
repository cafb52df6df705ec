// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package cli

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/models"
)

// recordedRequest is what the fake server saw.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// fakeServer answers every request with a fixed status and envelope.
type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func newFakeServer(t *testing.T, status int, body string) *fakeServer {
	t.Helper()
	f := &fakeServer{status: status, body: body}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(raw),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("server received no request")
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeServer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", server, "--token", "tkn"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestStatusCmd(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{
		"tenant_id":"tenant-1","pos_type":"square","is_paused":true,"consecutive_failures":3,
		"pause_reason":"3 consecutive failures","next_allowed_sync_at":"2026-03-01T09:05:00Z",
		"total_syncs":7,"total_failures":3,"version":4,"state":"open"}}`)

	out, err := run(t, srv.URL, "status", "tenant-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	req := srv.last(t)
	if req.Method != http.MethodGet || req.Path != "/api/v1/sync/tenants/tenant-1/status" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer tkn" {
		t.Errorf("Authorization = %q, want bearer token", req.Auth)
	}
	for _, want := range []string{"open", "3 consecutive failures", "2026-03-01T09:05:00Z", "square"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogsCmd(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":[
		{"id":"att-2","tenant_id":"tenant-1","pos_type":"square","operation":"sync","status":"error",
		 "started_at":"2026-03-01T09:00:00Z","duration_ms":40,"records_processed":0,"records_success":0,
		 "records_failed":0,"error_code":"TRANSIENT_ERROR","retry_count":1}],"meta":{"count":1}}`)

	t.Run("table", func(t *testing.T) {
		out, err := run(t, srv.URL, "logs", "tenant-1", "--limit", "5", "--status", "error")
		if err != nil {
			t.Fatalf("logs: %v", err)
		}
		if q := srv.last(t).Query; q != "limit=5&status=error" {
			t.Errorf("query = %q", q)
		}
		if !strings.Contains(out, "att-2") || !strings.Contains(out, "TRANSIENT_ERROR") {
			t.Errorf("output:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, srv.URL, "logs", "tenant-1", "-o", "json")
		if err != nil {
			t.Fatalf("logs: %v", err)
		}
		var attempts []models.SyncAttempt
		if err := json.Unmarshal([]byte(out), &attempts); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(attempts) != 1 || attempts[0].ID != "att-2" || attempts[0].Status != models.StatusError {
			t.Errorf("attempts = %+v", attempts)
		}
	})

	t.Run("unknown status is rejected locally", func(t *testing.T) {
		before := srv.count()
		if _, err := run(t, srv.URL, "logs", "tenant-1", "--status", "broken"); err == nil {
			t.Error("expected an error for an unknown status")
		}
		if srv.count() != before {
			t.Error("request sent despite invalid status")
		}
	})
}

func TestRunCmd(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{
		"allowed":true,"attempt_id":"att-9","status":"success","duration_ms":12,
		"counts":{"records_processed":4,"records_success":4,"records_failed":0},
		"should_retry":false,"is_paused":false,"consecutive_failures":0}}`)

	out, err := run(t, srv.URL, "run", "tenant-1", "--pos", "square", "--op", "fetch")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	req := srv.last(t)
	if req.Method != http.MethodPost || req.Path != "/api/v1/sync/tenants/tenant-1/run" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["pos_type"] != "square" || body["operation"] != "fetch" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(out, "att-9") || !strings.Contains(out, "4 processed") {
		t.Errorf("output:\n%s", out)
	}

	if _, err := run(t, srv.URL, "run", "tenant-1"); err == nil {
		t.Error("run without --pos succeeded")
	}
	if _, err := run(t, srv.URL, "run", "tenant-1", "--pos", "square", "--op", "launch"); err == nil {
		t.Error("run with an unknown operation succeeded")
	}
}

func TestRunCmd_Paused(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{
		"allowed":false,"reason":"3 consecutive failures","is_paused":true,"counts":{},"should_retry":false,
		"duration_ms":0,"consecutive_failures":3}}`)

	out, err := run(t, srv.URL, "run", "tenant-1", "--pos", "square")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Allowed") || !strings.Contains(out, "3 consecutive failures") {
		t.Errorf("output:\n%s", out)
	}
}

func TestAPIErrorsSurface(t *testing.T) {
	srv := newFakeServer(t, http.StatusForbidden,
		`{"success":false,"error":{"code":"FORBIDDEN","message":"insufficient permissions","request_id":"req-1"}}`)

	_, err := run(t, srv.URL, "resume", "tenant-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "FORBIDDEN" || apiErr.RequestID != "req-1" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if srv.last(t).Method != http.MethodPost {
		t.Errorf("resume used %s", srv.last(t).Method)
	}
}

func TestNonEnvelopeResponse(t *testing.T) {
	srv := newFakeServer(t, http.StatusBadGateway, "<html>bad gateway</html>")

	_, err := run(t, srv.URL, "cache", "stats")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "BAD_RESPONSE" {
		t.Errorf("err = %v, want BAD_RESPONSE", err)
	}
}

func TestCacheCmds(t *testing.T) {
	t.Run("stats", func(t *testing.T) {
		srv := newFakeServer(t, http.StatusOK,
			`{"success":true,"data":{"hits":3,"misses":1,"sets":1,"invalidations":0,"evictions":0,"size":1,"hit_rate":0.75}}`)
		out, err := run(t, srv.URL, "cache", "stats")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "75.0%") {
			t.Errorf("output:\n%s", out)
		}
	})

	t.Run("flush", func(t *testing.T) {
		srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{"removed":4}}`)
		out, err := run(t, srv.URL, "cache", "flush")
		if err != nil {
			t.Fatal(err)
		}
		if req := srv.last(t); req.Method != http.MethodPost || req.Path != "/api/v1/tenant/cache/flush" {
			t.Errorf("request = %s %s", req.Method, req.Path)
		}
		if !strings.Contains(out, "Removed 4") {
			t.Errorf("output:\n%s", out)
		}
	})

	t.Run("validate inconsistent", func(t *testing.T) {
		srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{"user_id":"alice","consistent":false}}`)
		if _, err := run(t, srv.URL, "cache", "validate", "alice"); err == nil {
			t.Error("inconsistent cache reported no error")
		}
		if p := srv.last(t).Path; p != "/api/v1/tenant/cache/validate/alice" {
			t.Errorf("path = %s", p)
		}
	})

	t.Run("validate consistent", func(t *testing.T) {
		srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{"user_id":"alice","consistent":true}}`)
		out, err := run(t, srv.URL, "cache", "validate", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "consistent") {
			t.Errorf("output:\n%s", out)
		}
	})
}

func TestTokenCmd(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"

	out, err := run(t, "http://unused", "token", "--user", "ops-1", "--role", "admin", "--secret", secret)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	mgr, err := auth.NewJWTManager(&config.SecurityConfig{JWTSecret: secret})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := mgr.ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.Subject != "ops-1" || claims.Role != string(auth.RoleAdmin) {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := run(t, "http://unused", "token", "--user", "ops-1", "--role", "root", "--secret", secret); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestOutputFormatValidated(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"success":true,"data":{}}`)
	if _, err := run(t, srv.URL, "cache", "stats", "-o", "yaml"); err == nil {
		t.Error("unsupported output format accepted")
	}
	if srv.count() != 0 {
		t.Error("request sent despite invalid output format")
	}
}
