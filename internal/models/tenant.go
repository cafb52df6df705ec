// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package models

import (
	"sort"
	"time"
)

// Group is a tenant: a café business owning one or more locations.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Location belongs to exactly one group. At most one location per group is
// expected to carry IsMain; more than one is tolerated here.
type Location struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	IsMain  bool   `json:"is_main"`
	SortKey int    `json:"sort_key"`
}

// UserProfile links a user to their group and stored default location.
type UserProfile struct {
	UserID            string `json:"user_id"`
	GroupID           string `json:"group_id"`
	DefaultLocationID string `json:"default_location_id,omitempty"`
}

// TenantContext is the resolved view for one request. It is derived, never stored.
type TenantContext struct {
	Group          Group      `json:"group"`
	Locations      []Location `json:"locations"`
	ActiveLocation Location   `json:"active_location"`
}

// Clone returns a deep copy so cached snapshots cannot be mutated by callers.
func (c TenantContext) Clone() TenantContext {
	out := c
	out.Locations = append([]Location(nil), c.Locations...)
	return out
}

// SortLocations orders locations by SortKey, then ID.
func SortLocations(locs []Location) {
	sort.SliceStable(locs, func(i, j int) bool {
		if locs[i].SortKey != locs[j].SortKey {
			return locs[i].SortKey < locs[j].SortKey
		}
		return locs[i].ID < locs[j].ID
	})
}

// ChangeState is the state of an active-location switch.
type ChangeState string

const (
	ChangePending    ChangeState = "pending"
	ChangeConfirmed  ChangeState = "confirmed"
	ChangeRolledBack ChangeState = "rolled_back"
)

// ActiveLocationChange records one optimistic switch of a user's active location.
type ActiveLocationChange struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	LocationID         string      `json:"location_id"`
	PreviousLocationID string      `json:"previous_location_id,omitempty"`
	State              ChangeState `json:"state"`
	CreatedAt          time.Time   `json:"created_at"`
	ResolvedAt         *time.Time  `json:"resolved_at,omitempty"`
	Error              string      `json:"error,omitempty"`
}
