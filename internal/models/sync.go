// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package models holds the data types shared by the store, the sync engine,
// the tenant layer and the API.
package models

import (
	"fmt"
	"time"
)

// Operation is the kind of work a sync attempt performed.
type Operation string

const (
	OperationFetch Operation = "fetch"
	OperationMap   Operation = "map"
	OperationSync  Operation = "sync"
	OperationAuth  Operation = "auth"
	OperationRetry Operation = "retry"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationFetch, OperationMap, OperationSync, OperationAuth, OperationRetry:
		return true
	}
	return false
}

// ParseOperation converts s to an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// AttemptStatus is the outcome of a sync attempt. StatusRetry doubles as the
// provisional in-flight marker while CompletedAt is nil.
type AttemptStatus string

const (
	StatusSuccess AttemptStatus = "success"
	StatusError   AttemptStatus = "error"
	StatusRetry   AttemptStatus = "retry"
	StatusPaused  AttemptStatus = "paused"
)

// Valid reports whether s is a known status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusRetry, StatusPaused:
		return true
	}
	return false
}

// ParseAttemptStatus converts s to an AttemptStatus.
func ParseAttemptStatus(s string) (AttemptStatus, error) {
	st := AttemptStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// SyncCounts are the record counters reported by an action provider.
type SyncCounts struct {
	RecordsProcessed int `json:"records_processed"`
	RecordsSuccess   int `json:"records_success"`
	RecordsFailed    int `json:"records_failed"`
}

// SyncAttempt is one row of the sync_attempts log. It is written at start
// and patched exactly once when CompletedAt is set.
type SyncAttempt struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	POSType          string            `json:"pos_type"`
	Operation        Operation         `json:"operation"`
	Status           AttemptStatus     `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	DurationMs       int64             `json:"duration_ms"`
	RecordsProcessed int               `json:"records_processed"`
	RecordsSuccess   int               `json:"records_success"`
	RecordsFailed    int               `json:"records_failed"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	RetryCount       int               `json:"retry_count"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty"`
	BackoffSeconds   int               `json:"backoff_seconds,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// InFlight reports whether the attempt has not completed yet.
func (a *SyncAttempt) InFlight() bool {
	return a.CompletedAt == nil
}

// AttemptCompletion is the single patch applied to an in-flight attempt.
type AttemptCompletion struct {
	Status         AttemptStatus
	CompletedAt    time.Time
	DurationMs     int64
	Counts         SyncCounts
	ErrorMessage   string
	ErrorCode      string
	NextRetryAt    *time.Time
	BackoffSeconds int
}

// TenantSyncStatus is the authoritative per-tenant breaker row.
type TenantSyncStatus struct {
	TenantID            string     `json:"tenant_id"`
	POSType             string     `json:"pos_type"`
	IsPaused            bool       `json:"is_paused"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	PauseReason         string     `json:"pause_reason,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	NextAllowedSyncAt   *time.Time `json:"next_allowed_sync_at,omitempty"`
	TotalSyncs          int64      `json:"total_syncs"`
	TotalFailures       int64      `json:"total_failures"`
	LastErrorCode       string     `json:"last_error_code,omitempty"`
	LastErrorKind       string     `json:"last_error_kind,omitempty"`

	// Version is bumped on every write; 0 means the row does not exist yet.
	Version int64 `json:"version"`
}

// ClearPause resets the pause fields. ConsecutiveFailures is left alone.
func (s *TenantSyncStatus) ClearPause() {
	s.IsPaused = false
	s.PauseReason = ""
	s.PausedAt = nil
	s.NextAllowedSyncAt = nil
}
