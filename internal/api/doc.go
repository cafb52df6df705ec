// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package api exposes the sync engine and tenant resolution over HTTP.

Routes live under /api/v1 on a chi router:

	GET  /health
	GET  /metrics
	GET  /sync/tenants/{tenantID}/logs?limit=&status=
	GET  /sync/tenants/{tenantID}/status
	GET  /sync/tenants/{tenantID}/can-sync
	POST /sync/tenants/{tenantID}/run            {"pos_type", "operation"}
	POST /sync/tenants/{tenantID}/resume         admin
	GET  /tenant/context?preferred_location_id=
	PUT  /tenant/active-location                 {"location_id"}
	GET  /tenant/cache/stats
	POST /tenant/cache/flush                     admin
	POST /tenant/cache/validate/{userID}         admin
	GET  /events/ws                              websocket feed

Everything except health and metrics requires a bearer token (see package
auth); permissions are checked by package authz.

Every JSON response uses the models.APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"timestamp": "...", "request_id": "..."}}
	{"success": false, "error": {"code": "...", "message": "...", "request_id": "..."}, "meta": {...}}

A sync attempt that fails is not an API error: POST .../run answers 200 with
the attempt outcome in data. API errors are reserved for invalid input,
permission failures and store outages.
*/
package api
