// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
	"github.com/tomtom215/possync/internal/validation"
)

type tenantContextRequest struct {
	PreferredLocationID string `json:"preferred_location_id" validate:"omitempty,identifier"`
}

type activeLocationRequest struct {
	LocationID string `json:"location_id" validate:"required,identifier"`
}

type userPath struct {
	UserID string `json:"user_id" validate:"required,identifier"`
}

type integrityResponse struct {
	UserID     string `json:"user_id"`
	Consistent bool   `json:"consistent"`
}

type flushResponse struct {
	Removed int `json:"removed"`
}

// TenantContext resolves the caller's group, locations and active location.
//
// @Summary Get the caller's tenant context
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param preferred_location_id query string false "Preferred active location"
// @Success 200 {object} models.APIResponse{data=models.TenantContext} "Tenant context"
// @Failure 403 {object} models.APIResponse "Location outside the user's group"
// @Failure 404 {object} models.APIResponse "No tenant context for this user"
// @Failure 409 {object} models.APIResponse "Group has no locations"
// @Router /tenant/context [get]
func (h *Handler) TenantContext(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	req := tenantContextRequest{PreferredLocationID: r.URL.Query().Get("preferred_location_id")}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, r, err)
		return
	}

	tc, err := h.tenants.Get(r.Context(), subject.ID, req.PreferredLocationID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, tc)
}

// SetActiveLocation switches the caller's active location. A failed
// directory write is rolled back and reported with the rolled-back change
// in the error details.
//
// @Summary Switch the caller's active location
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body activeLocationRequest true "Location to activate"
// @Success 200 {object} models.APIResponse{data=models.ActiveLocationChange} "Change confirmed"
// @Failure 400 {object} models.APIResponse "Invalid request"
// @Failure 403 {object} models.APIResponse "Location outside the user's group"
// @Failure 503 {object} models.APIResponse{error=models.APIError{details=models.ActiveLocationChange}} "Change rolled back"
// @Router /tenant/active-location [put]
func (h *Handler) SetActiveLocation(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	var req activeLocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidationError(w, r, err)
		return
	}

	change, err := h.switcher.SetActiveLocation(r.Context(), subject.ID, req.LocationID)
	if err != nil {
		if change.State == models.ChangeRolledBack {
			logging.Ctx(r.Context()).Warn().Err(err).Str("change_id", change.ID).Msg("Active location change rolled back")
			respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
				Success: false,
				Error: &models.APIError{
					Code:      "LOCATION_CHANGE_ROLLED_BACK",
					Message:   "the location change could not be saved and was rolled back",
					RequestID: logging.RequestIDFromContext(r.Context()),
					Details:   change,
				},
				Meta: meta(r),
			})
			return
		}
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, change)
}

// CacheStats returns the tenant cache counters.
//
// @Summary Get tenant cache statistics
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.APIResponse{data=tenant.CacheStats} "Cache counters"
// @Router /tenant/cache/stats [get]
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.tenants.Stats())
}

// FlushCache empties the tenant cache.
//
// @Summary Flush the tenant cache
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.APIResponse{data=flushResponse} "Entries removed"
// @Failure 403 {object} models.APIResponse "Insufficient permissions"
// @Router /tenant/cache/flush [post]
func (h *Handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	removed := h.tenants.Clear()
	logging.Ctx(r.Context()).Info().
		Str("by", logging.SanitizeUserID(auth.SubjectFromContext(r.Context()).ID)).
		Int("removed", removed).
		Msg("Tenant cache flushed")
	respondData(w, r, http.StatusOK, flushResponse{Removed: removed})
}

// ValidateCache checks a user's cached contexts against the directory.
//
// @Summary Validate a user's cached tenant contexts
// @Description Re-resolves every cached context of the user and raises a security event on any group mismatch
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} models.APIResponse{data=integrityResponse} "Validation result"
// @Failure 403 {object} models.APIResponse "Insufficient permissions"
// @Failure 503 {object} models.APIResponse "Store unavailable"
// @Router /tenant/cache/validate/{userID} [post]
func (h *Handler) ValidateCache(w http.ResponseWriter, r *http.Request) {
	p := userPath{UserID: chi.URLParam(r, "userID")}
	if err := validation.ValidateStruct(&p); err != nil {
		respondValidationError(w, r, err)
		return
	}
	ok, err := h.tenants.ValidateTenantIntegrity(r.Context(), p.UserID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, integrityResponse{UserID: p.UserID, Consistent: ok})
}
