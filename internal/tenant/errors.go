// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package tenant

import (
	"errors"
	"fmt"

	possync "github.com/tomtom215/possync/internal/sync"
)

var (
	// ErrNotFound is returned when the user has no profile or the profile
	// points at a group that does not exist.
	ErrNotFound = errors.New("tenant context not found")

	// ErrInvalidArgument is returned for missing user or location IDs.
	ErrInvalidArgument = errors.New("user and location IDs are required")

	// ErrEmpty is returned when the user's group has no locations.
	ErrEmpty = errors.New("group has no locations")

	// ErrIntegrity is the sync engine's integrity sentinel, so a tenant
	// violation classifies as INTEGRITY_VIOLATION wherever it surfaces.
	ErrIntegrity = possync.ErrIntegrity

	// ErrForbidden is returned for a location outside the user's group.
	ErrForbidden = fmt.Errorf("location outside the user's group: %w", ErrIntegrity)
)
