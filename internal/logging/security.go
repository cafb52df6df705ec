// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// Security event names.
const (
	EventTenantContamination    = "tenant_contamination"
	EventForbiddenLocation      = "forbidden_location"
	EventActiveLocationRollback = "active_location_rollback"
)

// SecurityEvent is a tenant-isolation relevant occurrence.
type SecurityEvent struct {
	Event string
	// UserID is the user whose session was affected.
	UserID string
	// ExpectedGroupID is the group the source of truth resolves to.
	ExpectedGroupID string
	// ObservedGroupID is the group that was found in the cache or request.
	ObservedGroupID string
	LocationID      string
	Details         map[string]string
}

// SecurityLogger writes tenant-isolation events under component "security".
// Events are written at warn level or above so they survive production
// log filtering.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger over the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: WithComponent("security")}
}

// NewSecurityLoggerWithLogger creates a security logger over logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With().Str("component", "security").Logger()}
}

// LogEvent writes event. Contamination is logged at error level, everything
// else at warn.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Warn()
	if event.Event == EventTenantContamination {
		e = l.logger.Error()
	}
	e = e.Str("event", event.Event).Bool("security", true)

	if event.UserID != "" {
		e = e.Str("user_id", SanitizeUserID(event.UserID))
	}
	if event.ExpectedGroupID != "" {
		e = e.Str("expected_group_id", event.ExpectedGroupID)
	}
	if event.ObservedGroupID != "" {
		e = e.Str("observed_group_id", event.ObservedGroupID)
	}
	if event.LocationID != "" {
		e = e.Str("location_id", event.LocationID)
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("[SECURITY] " + event.Event)
}

// LogContamination records a cached tenant context that no longer matches
// the source of truth.
func (l *SecurityLogger) LogContamination(userID, expectedGroupID, observedGroupID, cacheKey string) {
	l.LogEvent(&SecurityEvent{
		Event:           EventTenantContamination,
		UserID:          userID,
		ExpectedGroupID: expectedGroupID,
		ObservedGroupID: observedGroupID,
		Details:         map[string]string{"cache_key": cacheKey},
	})
}

// LogForbiddenLocation records a request for a location outside the user's group.
func (l *SecurityLogger) LogForbiddenLocation(userID, groupID, locationID string) {
	l.LogEvent(&SecurityEvent{
		Event:           EventForbiddenLocation,
		UserID:          userID,
		ExpectedGroupID: groupID,
		LocationID:      locationID,
	})
}

// SanitizeUserID keeps the first 8 characters of long user IDs.
func SanitizeUserID(userID string) string {
	if len(userID) <= 12 {
		return userID
	}
	return userID[:8] + "..."
}

// SanitizeValue masks values whose key looks secret-bearing.
func SanitizeValue(key, value string) string {
	k := strings.ToLower(key)
	for _, marker := range []string{"token", "secret", "password", "api_key", "apikey", "authorization"} {
		if strings.Contains(k, marker) {
			return "[REDACTED]"
		}
	}
	return truncateString(value, 200)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
