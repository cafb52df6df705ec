// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/possync/internal/logging"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a status CAS loses a race.
	ErrVersionConflict = errors.New("tenant sync status version conflict")

	// ErrAttemptCompleted is returned when an attempt is completed twice.
	ErrAttemptCompleted = errors.New("sync attempt already completed")

	// ErrStoreUnavailable is returned while the store guard is open.
	ErrStoreUnavailable = errors.New("sync store unavailable")
)

// IsDomainError reports whether err is an expected outcome of a healthy
// store rather than a connectivity or query failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrAttemptCompleted)
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource on an error path where Close errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
