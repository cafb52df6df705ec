// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package authz

import (
	"net/http"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/logging"
)

// Authorize returns chi-style middleware that requires the caller's role to
// be allowed action on object. It must run after JWTManager.Authenticate.
func (e *Enforcer) Authorize(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := auth.SubjectFromContext(r.Context())
			if subject == nil {
				auth.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "no authentication context")
				return
			}

			allowed, err := e.Enforce(string(subject.Role), object, action)
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
				auth.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "authorization failed")
				return
			}
			if !allowed {
				logging.Ctx(r.Context()).Warn().
					Str("user_id", logging.SanitizeUserID(subject.ID)).
					Str("role", string(subject.Role)).
					Str("object", object).
					Str("action", action).
					Msg("Authorization denied")
				auth.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
