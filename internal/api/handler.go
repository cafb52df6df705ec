// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"context"
	"time"

	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/tenant"
	ws "github.com/tomtom215/possync/internal/websocket"
)

// SyncService is the part of *sync.Orchestrator the API uses.
type SyncService interface {
	RunSync(ctx context.Context, tenantID, posType string, op models.Operation) (possync.SyncResult, error)
	CanSync(ctx context.Context, tenantID string) (possync.Decision, error)
	ResumeSync(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error)
	GetSyncLogs(ctx context.Context, tenantID string, limit int, status *models.AttemptStatus) ([]models.SyncAttempt, error)
	State(ctx context.Context, tenantID string) (possync.State, *models.TenantSyncStatus, error)
}

// TenantContexts is the part of *tenant.Cache the API uses.
type TenantContexts interface {
	Get(ctx context.Context, userID, preferredLocationID string) (models.TenantContext, error)
	Stats() tenant.CacheStats
	Clear() int
	ValidateTenantIntegrity(ctx context.Context, userID string) (bool, error)
}

// LocationSwitcher changes a user's active location.
type LocationSwitcher interface {
	SetActiveLocation(ctx context.Context, userID, locationID string) (models.ActiveLocationChange, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerDeps are the services behind the handlers. Hub and EventBackend
// are optional.
type HandlerDeps struct {
	Sync           SyncService
	Tenants        TenantContexts
	Switcher       LocationSwitcher
	Store          Pinger
	Hub            *ws.Hub
	EventBackend   string
	Version        string
	AllowedOrigins []string
}

// Handler serves the API endpoints.
type Handler struct {
	sync           SyncService
	tenants        TenantContexts
	switcher       LocationSwitcher
	store          Pinger
	hub            *ws.Hub
	eventBackend   string
	version        string
	allowedOrigins []string
	startTime      time.Time
}

// NewHandler creates a handler.
func NewHandler(deps HandlerDeps) *Handler {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		sync:           deps.Sync,
		tenants:        deps.Tenants,
		switcher:       deps.Switcher,
		store:          deps.Store,
		hub:            deps.Hub,
		eventBackend:   deps.EventBackend,
		version:        version,
		allowedOrigins: deps.AllowedOrigins,
		startTime:      time.Now(),
	}
}
