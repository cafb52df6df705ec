// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/validation"
)

type tenantPath struct {
	TenantID string `json:"tenant_id" validate:"required,identifier"`
}

type syncLogsRequest struct {
	TenantID string `json:"tenant_id" validate:"required,identifier"`
	Limit    int    `json:"limit" validate:"gte=0,lte=500"`
	Status   string `json:"status" validate:"omitempty,oneof=success error retry paused"`
}

type runSyncRequest struct {
	POSType   string `json:"pos_type" validate:"required,identifier"`
	Operation string `json:"operation" validate:"required,operation"`
}

// syncStatusResponse is the status row plus the effective breaker state.
type syncStatusResponse struct {
	*models.TenantSyncStatus
	State possync.State `json:"state"`
}

// tenantID validates the {tenantID} path parameter.
func tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := tenantPath{TenantID: chi.URLParam(r, "tenantID")}
	if err := validation.ValidateStruct(&p); err != nil {
		respondValidationError(w, r, err)
		return "", false
	}
	return p.TenantID, true
}

// SyncLogs lists a tenant's attempts, newest first.
//
// @Summary Get sync attempt log
// @Description Returns a tenant's sync attempts, newest first, optionally filtered by status
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param limit query int false "Maximum attempts to return (0-500, 0 uses the default)" default(50) minimum(0) maximum(500)
// @Param status query string false "Filter by attempt status" Enums(success, error, retry, paused)
// @Success 200 {object} models.APIResponse{data=[]models.SyncAttempt} "Attempts retrieved"
// @Failure 400 {object} models.APIResponse "Invalid parameters"
// @Failure 401 {object} models.APIResponse "Unauthorized"
// @Failure 500 {object} models.APIResponse "Internal server error"
// @Router /sync/tenants/{tenantID}/logs [get]
func (h *Handler) SyncLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := syncLogsRequest{
		TenantID: chi.URLParam(r, "tenantID"),
		Status:   q.Get("status"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		req.Limit = limit
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, r, err)
		return
	}

	var status *models.AttemptStatus
	if req.Status != "" {
		s := models.AttemptStatus(req.Status)
		status = &s
	}

	logs, err := h.sync.GetSyncLogs(r.Context(), req.TenantID, req.Limit, status)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondList(w, r, logs)
}

// SyncStatus returns the tenant's breaker status.
//
// @Summary Get tenant sync status
// @Description Returns the breaker row with its effective state (closed, open or half_open)
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} models.APIResponse{data=syncStatusResponse} "Status retrieved"
// @Failure 400 {object} models.APIResponse "Invalid tenant ID"
// @Failure 503 {object} models.APIResponse "Store unavailable"
// @Router /sync/tenants/{tenantID}/status [get]
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	state, st, err := h.sync.State(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, syncStatusResponse{TenantSyncStatus: st, State: state})
}

// CanSync reports whether the tenant may sync right now. Asking may close a
// half-open breaker, exactly as a real sync would.
//
// @Summary Check whether a tenant may sync
// @Tags Sync
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} models.APIResponse{data=possync.Decision} "Decision"
// @Failure 400 {object} models.APIResponse "Invalid tenant ID"
// @Failure 409 {object} models.APIResponse "Concurrent status update"
// @Router /sync/tenants/{tenantID}/can-sync [get]
func (h *Handler) CanSync(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	decision, err := h.sync.CanSync(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, decision)
}

// RunSync runs one operation through the engine and returns its outcome.
//
// @Summary Run a sync operation
// @Description Runs one operation through the POS adapter. A paused tenant returns 200 with allowed=false.
// @Tags Sync
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Param request body runSyncRequest true "POS type and operation"
// @Success 200 {object} models.APIResponse{data=possync.SyncResult} "Sync outcome"
// @Failure 400 {object} models.APIResponse "Invalid request"
// @Failure 403 {object} models.APIResponse "Insufficient permissions"
// @Failure 422 {object} models.APIResponse "No adapter for the POS type"
// @Failure 503 {object} models.APIResponse "Store unavailable"
// @Router /sync/tenants/{tenantID}/run [post]
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req runSyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, r, err)
		return
	}

	ctx := logging.ContextWithTenantID(r.Context(), id)
	result, err := h.sync.RunSync(ctx, id, req.POSType, models.Operation(req.Operation))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, result)
}

// ResumeSync manually closes a paused tenant's breaker.
//
// @Summary Resume a paused tenant
// @Description Clears the failure streak and pause. Requires the admin role.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} models.APIResponse{data=syncStatusResponse} "Tenant resumed"
// @Failure 403 {object} models.APIResponse "Insufficient permissions"
// @Failure 500 {object} models.APIResponse "Internal server error"
// @Router /sync/tenants/{tenantID}/resume [post]
func (h *Handler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	st, err := h.sync.ResumeSync(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, syncStatusResponse{TenantSyncStatus: st, State: possync.StateClosed})
}
