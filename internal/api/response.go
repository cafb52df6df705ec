// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
	possync "github.com/tomtom215/possync/internal/sync"
	"github.com/tomtom215/possync/internal/tenant"
	"github.com/tomtom215/possync/internal/validation"
)

// maxBodyBytes bounds request bodies; every POSSync request body is tiny.
const maxBodyBytes = 64 << 10

// sanitizeLogValue escapes control characters so user input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta(r),
	})
}

func respondList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	m := meta(r)
	n := len(items)
	m.Count = &n
	respondJSON(w, http.StatusOK, &models.APIResponse{Success: true, Data: items, Meta: m})
}

// respondError sends an error envelope. err, when non-nil, is logged but
// never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	requestID := logging.RequestIDFromContext(r.Context())
	if err != nil {
		event := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.Str("code", code).Str("error", sanitizeLogValue(err.Error())).Str("path", r.URL.Path).Msg("API error")
	}

	respondJSON(w, status, &models.APIResponse{
		Success: false,
		Error:   &models.APIError{Code: code, Message: message, RequestID: requestID},
		Meta:    meta(r),
	})
}

func respondValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusBadRequest, &models.APIResponse{
		Success: false,
		Error: &models.APIError{
			Code:      "VALIDATION_ERROR",
			Message:   verr.Error(),
			RequestID: logging.RequestIDFromContext(r.Context()),
			Details:   verr.Fields,
		},
		Meta: meta(r),
	})
}

// respondDomainError maps engine and tenant errors to HTTP statuses.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, possync.ErrInvalidRequest), errors.Is(err, tenant.ErrInvalidArgument):
		respondError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, possync.ErrNoProvider):
		respondError(w, r, http.StatusUnprocessableEntity, "UNSUPPORTED_POS_TYPE", "no adapter is configured for this POS type", err)
	case errors.Is(err, tenant.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "TENANT_NOT_FOUND", "no tenant context for this user", err)
	case errors.Is(err, tenant.ErrEmpty):
		respondError(w, r, http.StatusConflict, "NO_LOCATIONS", "the user's group has no locations", err)
	case errors.Is(err, tenant.ErrIntegrity):
		respondError(w, r, http.StatusForbidden, possync.CodeIntegrity, "location is not part of the user's group", err)
	case errors.Is(err, database.ErrStoreUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "sync store is unavailable", err)
	case errors.Is(err, database.ErrVersionConflict):
		respondError(w, r, http.StatusConflict, "CONFLICT", "concurrent update, retry the request", err)
	default:
		respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", err)
	}
}

func meta(r *http.Request) models.Metadata {
	return models.Metadata{
		Timestamp: time.Now().UTC(),
		RequestID: logging.RequestIDFromContext(r.Context()),
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields
// and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
