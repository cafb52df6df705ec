// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/events"
	"github.com/tomtom215/possync/internal/logging"
	ws "github.com/tomtom215/possync/internal/websocket"
)

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin allows non-browser clients (no Origin header), which
// already passed bearer authentication, and browsers from a configured
// CORS origin.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// topicFilter builds the client's subscription from ?topics=a,b. Security
// events are only ever delivered to admins.
func topicFilter(r *http.Request, subject *auth.Subject) (ws.TopicFilter, error) {
	filter := ws.TopicFilter{AllowSecurity: subject.IsAdmin()}

	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return filter, nil
	}

	known := make(map[string]bool, len(events.AllTopics))
	for _, t := range events.AllTopics {
		known[t] = true
	}
	filter.Topics = make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !known[t] {
			return ws.TopicFilter{}, fmt.Errorf("unknown topic %q", t)
		}
		filter.Topics[t] = true
	}
	return filter, nil
}

// EventsWebSocket upgrades to a websocket that streams breaker, attempt and
// (for admins) security events.
//
// @Summary Stream sync events
// @Description Upgrades to a websocket carrying breaker and attempt events. Security events are sent to admins only.
// @Tags Events
// @Security BearerAuth
// @Param topics query string false "Comma-separated topics to subscribe to"
// @Success 101 "Switching protocols"
// @Failure 403 {object} models.APIResponse "Origin not allowed"
// @Router /events/ws [get]
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "event feed unavailable", nil)
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	filter, err := topicFilter(r, subject)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", sanitizeLogValue(err.Error()), nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.hub, conn, filter)
	h.hub.Register <- client
	client.Start()

	logging.Ctx(r.Context()).Debug().
		Uint64("client_id", client.ID()).
		Str("user_id", logging.SanitizeUserID(subject.ID)).
		Bool("security", filter.AllowSecurity).
		Msg("WebSocket client connected")
}
