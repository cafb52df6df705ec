// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package middleware provides the infrastructure middleware shared by every API
route: request ID tracking and Prometheus instrumentation.

Both are chi-compatible (func(http.Handler) http.Handler). RequestID should
run first so later middleware and handlers log with the request and
correlation IDs:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
