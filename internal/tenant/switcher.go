// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// PreferenceStore durably tracks active-location switches.
// *preference.BadgerStore implements it.
type PreferenceStore interface {
	SavePending(ctx context.Context, c models.ActiveLocationChange) error
	Finish(ctx context.Context, c models.ActiveLocationChange) error
	LastConfirmed(ctx context.Context, userID string) (string, bool, error)
	Pending(ctx context.Context) ([]models.ActiveLocationChange, error)
}

// Switcher changes a user's active location as a pending, then confirmed
// or rolled back, transaction.
type Switcher struct {
	resolver *Resolver
	cache    *Cache
	dir      database.Directory
	prefs    PreferenceStore
	now      func() time.Time
	newID    func() string
}

// NewSwitcher wires a switcher.
func NewSwitcher(resolver *Resolver, cache *Cache, dir database.Directory, prefs PreferenceStore) *Switcher {
	return &Switcher{
		resolver: resolver,
		cache:    cache,
		dir:      dir,
		prefs:    prefs,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetActiveLocation makes locationID the user's active location.
//
// The location is validated against the user's group first (ErrForbidden).
// A pending change is recorded and the cache optimistically shows the new
// location while the directory write runs. On success the change is
// confirmed; on failure it is rolled back to the last confirmed location
// (or the directory's stored default when nothing was ever confirmed). The
// user's cache entries are invalidated either way.
func (s *Switcher) SetActiveLocation(ctx context.Context, userID, locationID string) (models.ActiveLocationChange, error) {
	if userID == "" || locationID == "" {
		return models.ActiveLocationChange{}, ErrInvalidArgument
	}

	tc, err := s.resolver.Resolve(ctx, userID, locationID)
	if err != nil {
		return models.ActiveLocationChange{}, err
	}

	previous, err := s.rollbackTarget(ctx, userID)
	if err != nil {
		return models.ActiveLocationChange{}, err
	}

	change := models.ActiveLocationChange{
		ID:                 s.newID(),
		UserID:             userID,
		LocationID:         locationID,
		PreviousLocationID: previous,
		State:              models.ChangePending,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.prefs.SavePending(ctx, change); err != nil {
		return models.ActiveLocationChange{}, fmt.Errorf("record pending location change: %w", err)
	}
	s.cache.Set(userID, "", tc)

	if werr := s.dir.SetDefaultLocation(ctx, userID, locationID); werr != nil {
		change = s.rollBack(ctx, change, werr)
		return change, fmt.Errorf("persist active location: %w", werr)
	}

	resolvedAt := s.now().UTC()
	change.State = models.ChangeConfirmed
	change.ResolvedAt = &resolvedAt
	s.cache.Invalidate(userID)
	if err := s.prefs.Finish(ctx, change); err != nil {
		return change, fmt.Errorf("confirm location change: %w", err)
	}
	metrics.ActiveLocationChanges.WithLabelValues(string(models.ChangeConfirmed)).Inc()

	logging.Ctx(ctx).Info().
		Str("user_id", logging.SanitizeUserID(userID)).
		Str("location_id", locationID).
		Str("change_id", change.ID).
		Msg("Active location changed")
	return change, nil
}

// rollBack restores the previous default (best effort), invalidates the
// cache and records the change as rolled back. An empty previous location
// clears the stored default.
func (s *Switcher) rollBack(ctx context.Context, change models.ActiveLocationChange, cause error) models.ActiveLocationChange {
	if err := s.dir.SetDefaultLocation(ctx, change.UserID, change.PreviousLocationID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("change_id", change.ID).
			Msg("Could not restore previous default location")
	}
	s.cache.Invalidate(change.UserID)

	resolvedAt := s.now().UTC()
	change.State = models.ChangeRolledBack
	change.ResolvedAt = &resolvedAt
	change.Error = cause.Error()
	if err := s.prefs.Finish(ctx, change); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("change_id", change.ID).Msg("Could not record location rollback")
	}
	metrics.ActiveLocationChanges.WithLabelValues(string(models.ChangeRolledBack)).Inc()

	logging.Ctx(ctx).Warn().
		Err(cause).
		Str("event", logging.EventActiveLocationRollback).
		Str("user_id", logging.SanitizeUserID(change.UserID)).
		Str("location_id", change.LocationID).
		Str("previous_location_id", change.PreviousLocationID).
		Msg("Active location change rolled back")
	return change
}

func (s *Switcher) rollbackTarget(ctx context.Context, userID string) (string, error) {
	loc, ok, err := s.prefs.LastConfirmed(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("read confirmed location: %w", err)
	}
	if ok {
		return loc, nil
	}
	profile, err := s.dir.GetUserProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user profile: %w", err)
	}
	return profile.DefaultLocationID, nil
}

// RecoverPending rolls back changes left pending by a crash. The directory
// write of such a change may or may not have landed, so the previous value
// is restored and the cache entries of the user dropped.
func (s *Switcher) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.prefs.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range pending {
		s.rollBack(ctx, c, errors.New("interrupted before confirmation"))
	}
	if len(pending) > 0 {
		logging.Info().Int("count", len(pending)).Msg("Rolled back interrupted location changes")
	}
	return len(pending), nil
}
