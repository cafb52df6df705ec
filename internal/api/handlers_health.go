// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/possync/internal/models"
)

const healthPingTimeout = 2 * time.Second

// Health reports process and store health. A store that cannot be pinged
// makes the service degraded (503) so load balancers stop routing to it.
//
// @Summary Health check
// @Description Reports process health, version, event backend and store reachability
// @Tags Health
// @Produce json
// @Success 200 {object} models.APIResponse "Service is healthy"
// @Failure 503 {object} models.APIResponse "Store unreachable"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	connected := false
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		connected = h.store.Ping(ctx) == nil
		cancel()
	}

	health := models.HealthStatus{
		Status:         "healthy",
		Version:        h.version,
		StoreConnected: connected,
		EventBackend:   h.eventBackend,
		Uptime:         time.Since(h.startTime).Seconds(),
		Timestamp:      time.Now().UTC(),
	}
	if h.hub != nil {
		health.WSClients = h.hub.ClientCount()
	}

	status := http.StatusOK
	if !connected {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondData(w, r, status, health)
}
