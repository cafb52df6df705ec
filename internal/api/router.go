// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/possync/internal/auth"
	"github.com/tomtom215/possync/internal/authz"
	"github.com/tomtom215/possync/internal/middleware"
)

// Router wires handlers, authentication and authorization into chi.
type Router struct {
	handler       *Handler
	jwt           *auth.JWTManager
	enforcer      *authz.Enforcer
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, jwt *auth.JWTManager, enforcer *authz.Enforcer, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, jwt: jwt, enforcer: enforcer, chiMiddleware: mw}
}

// Setup builds the HTTP handler.
func (router *Router) Setup() http.Handler {
	h := router.handler
	allow := router.enforcer.Authorize

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.With(router.chiMiddleware.RateLimitCustom("health", RateLimitHealth)).Get("/health", h.Health)
		r.Handle("/metrics", promhttp.Handler())

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(router.jwt.Authenticate)

			r.Route("/sync/tenants/{tenantID}", func(r chi.Router) {
				r.With(allow(authz.ObjectSync, authz.ActionRead)).Get("/logs", h.SyncLogs)
				r.With(allow(authz.ObjectSync, authz.ActionRead)).Get("/status", h.SyncStatus)
				r.With(allow(authz.ObjectSync, authz.ActionRead)).Get("/can-sync", h.CanSync)
				r.With(
					allow(authz.ObjectSync, authz.ActionRun),
					router.chiMiddleware.RateLimitCustom("run", RateLimitRun),
				).Post("/run", h.RunSync)
				r.With(allow(authz.ObjectSync, authz.ActionResume)).Post("/resume", h.ResumeSync)
			})

			r.Route("/tenant", func(r chi.Router) {
				r.With(allow(authz.ObjectTenant, authz.ActionRead)).Get("/context", h.TenantContext)
				r.With(allow(authz.ObjectTenant, authz.ActionWrite)).Put("/active-location", h.SetActiveLocation)

				r.Route("/cache", func(r chi.Router) {
					r.With(allow(authz.ObjectCache, authz.ActionRead)).Get("/stats", h.CacheStats)
					r.With(allow(authz.ObjectCache, authz.ActionFlush)).Post("/flush", h.FlushCache)
					r.With(allow(authz.ObjectCache, authz.ActionValidate)).Post("/validate/{userID}", h.ValidateCache)
				})
			})

			r.With(allow(authz.ObjectEvents, authz.ActionRead)).Get("/events/ws", h.EventsWebSocket)
		})
	})

	return r
}
