// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tomtom215/possync/internal/models"
)

// ErrorKind classifies why a sync attempt failed.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPartial   ErrorKind = "partial"
	KindAuth      ErrorKind = "auth"
	KindIntegrity ErrorKind = "integrity"
	KindUnknown   ErrorKind = "unknown"

	// KindRejected is a 4xx the adapter will keep returning for the same
	// request, so retrying it is pointless.
	KindRejected ErrorKind = "rejected"

	// KindStale marks attempts completed by reconciliation.
	KindStale ErrorKind = "stale"
)

// Error codes persisted on attempts and on the tenant status.
const (
	CodeTransient = "TRANSIENT"
	CodePartial   = "PARTIAL_FAILURE"
	CodeAuth      = "AUTH_FAILED"
	CodeIntegrity = "INTEGRITY_VIOLATION"
	CodeRejected  = "REQUEST_REJECTED"
	CodeStale     = "STALE_IN_FLIGHT"
)

// Retryable reports whether a failure of this kind should be retried with backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindPartial, KindUnknown:
		return true
	}
	return false
}

// Code returns the default error code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindPartial:
		return CodePartial
	case KindAuth:
		return CodeAuth
	case KindIntegrity:
		return CodeIntegrity
	case KindRejected:
		return CodeRejected
	case KindStale:
		return CodeStale
	default:
		return CodeTransient
	}
}

var (
	// ErrAuth marks credential failures against the POS. Wrap it from
	// providers to force a terminal AUTH_FAILED outcome.
	ErrAuth = errors.New("pos authentication failed")

	// ErrIntegrity marks tenant isolation violations.
	ErrIntegrity = errors.New("tenant integrity violation")

	// ErrTransient marks failures worth retrying.
	ErrTransient = errors.New("transient pos failure")
)

// ProviderError is returned by providers that already know the failure kind.
type ProviderError struct {
	Kind       ErrorKind
	Code       string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classification is the classifier's verdict on a provider outcome.
type Classification struct {
	Kind    ErrorKind
	Code    string
	Message string

	// Success is true when the attempt should be logged as a success,
	// possibly with Code set to PARTIAL_FAILURE.
	Success bool
}

// Classify turns a provider result into a Classification. A nil error with
// failed records is a partial outcome: it succeeds when anything went
// through and is a retryable failure otherwise.
func Classify(err error, counts models.SyncCounts) Classification {
	if err == nil {
		if counts.RecordsFailed > 0 {
			msg := fmt.Sprintf("%d of %d records failed", counts.RecordsFailed, counts.RecordsProcessed)
			return Classification{
				Kind:    KindPartial,
				Code:    CodePartial,
				Message: msg,
				Success: counts.RecordsSuccess > 0,
			}
		}
		return Classification{Success: true}
	}

	kind := classifyError(err)
	code := kind.Code()
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		code = pe.Code
	}
	return Classification{Kind: kind, Code: code, Message: err.Error()}
}

func classifyError(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind != "" {
		if pe.Kind == KindUnknown {
			return kindForStatus(pe.StatusCode)
		}
		return pe.Kind
	}

	switch {
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if pe != nil {
		return kindForStatus(pe.StatusCode)
	}
	return KindUnknown
}

// kindForStatus maps an adapter HTTP status to a failure kind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindRejected
	default:
		return KindUnknown
	}
}
