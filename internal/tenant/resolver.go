// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package tenant resolves which group and location a request acts on and
// caches the result per user without ever crossing tenants.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
)

// Resolver picks one active location for a user. It reads the directory
// on every call; caching is the Cache's job.
type Resolver struct {
	dir       database.Directory
	security  *logging.SecurityLogger
	publisher events.Publisher
}

// NewResolver creates a resolver over dir. A nil publisher discards events.
func NewResolver(dir database.Directory, publisher events.Publisher) *Resolver {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Resolver{
		dir:       dir,
		security:  logging.NewSecurityLogger(),
		publisher: publisher,
	}
}

// Resolve returns the user's tenant context. The active location is, in
// order: preferredLocationID (which must belong to the user's group), the
// stored default if it is still in the group, the main location, and
// finally the first location by sort key then ID. An empty
// preferredLocationID means no preference.
func (r *Resolver) Resolve(ctx context.Context, userID, preferredLocationID string) (models.TenantContext, error) {
	profile, err := r.dir.GetUserProfile(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return models.TenantContext{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.TenantContext{}, fmt.Errorf("load user profile: %w", err)
	}

	group, err := r.dir.GetGroup(ctx, profile.GroupID)
	if errors.Is(err, database.ErrNotFound) {
		return models.TenantContext{}, fmt.Errorf("group %s of user %s: %w", profile.GroupID, userID, ErrNotFound)
	}
	if err != nil {
		return models.TenantContext{}, fmt.Errorf("load group: %w", err)
	}

	locations, err := r.dir.ListLocations(ctx, group.ID)
	if err != nil {
		return models.TenantContext{}, fmt.Errorf("list locations: %w", err)
	}
	if len(locations) == 0 {
		return models.TenantContext{}, fmt.Errorf("group %s: %w", group.ID, ErrEmpty)
	}
	models.SortLocations(locations)

	active, err := r.pick(ctx, userID, profile, locations, preferredLocationID)
	if err != nil {
		return models.TenantContext{}, err
	}

	return models.TenantContext{
		Group:          *group,
		Locations:      locations,
		ActiveLocation: active,
	}, nil
}

func (r *Resolver) pick(ctx context.Context, userID string, profile *models.UserProfile, locations []models.Location, preferred string) (models.Location, error) {
	if preferred != "" {
		if loc, ok := findLocation(locations, preferred); ok {
			return loc, nil
		}
		r.forbidden(ctx, userID, profile.GroupID, preferred)
		return models.Location{}, fmt.Errorf("location %s: %w", preferred, ErrForbidden)
	}

	if profile.DefaultLocationID != "" {
		if loc, ok := findLocation(locations, profile.DefaultLocationID); ok {
			return loc, nil
		}
	}

	for _, loc := range locations {
		if loc.IsMain {
			return loc, nil
		}
	}

	return locations[0], nil
}

func (r *Resolver) forbidden(ctx context.Context, userID, groupID, locationID string) {
	r.security.LogForbiddenLocation(userID, groupID, locationID)
	events.PublishBestEffort(ctx, r.publisher, events.TopicSecurity, events.SecurityAlert{
		Event:           logging.EventForbiddenLocation,
		UserID:          userID,
		ExpectedGroupID: groupID,
		LocationID:      locationID,
		At:              time.Now().UTC(),
	})
}

// findLocation only matches locations of the already-loaded group, so a
// location ID from another group can never be selected.
func findLocation(locations []models.Location, id string) (models.Location, bool) {
	for _, loc := range locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return models.Location{}, false
}
