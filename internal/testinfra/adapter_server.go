// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package testinfra provides test doubles and containers shared by package tests.
package testinfra

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// AdapterCapture is one request received by MockAdapterServer.
type AdapterCapture struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// MockAdapterServer stands in for a POS adapter service and records every
// request it receives.
type MockAdapterServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	captures []AdapterCapture

	// ResponseStatus is the HTTP status code to return (default: 200).
	ResponseStatus int

	// ResponseBody is the response body to return.
	ResponseBody []byte

	// ResponseFunc overrides the canned response when set.
	ResponseFunc func(w http.ResponseWriter, r *http.Request)
}

// NewMockAdapterServer starts a server that is closed when t finishes.
func NewMockAdapterServer(t *testing.T) *MockAdapterServer {
	t.Helper()

	m := &MockAdapterServer{ResponseStatus: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()

		m.mu.Lock()
		m.captures = append(m.captures, AdapterCapture{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		fn, status, resp := m.ResponseFunc, m.ResponseStatus, m.ResponseBody
		m.mu.Unlock()

		if fn != nil {
			fn(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if resp != nil {
			w.Write(resp) //nolint:errcheck
		}
	}))
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the server URL.
func (m *MockAdapterServer) URL() string {
	return m.Server.URL
}

// Respond sets the canned status and body.
func (m *MockAdapterServer) Respond(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseStatus = status
	m.ResponseBody = []byte(body)
}

// Captures returns a copy of the recorded requests.
func (m *MockAdapterServer) Captures() []AdapterCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AdapterCapture, len(m.captures))
	copy(out, m.captures)
	return out
}

// WaitForCaptures waits until at least n requests arrived or timeout elapses.
func (m *MockAdapterServer) WaitForCaptures(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(m.Captures()) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
