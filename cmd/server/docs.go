// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package main

// General API information for swag (swag init -g cmd/server/docs.go).
//
// @title POSSync API
// @version 1.0
// @description Sync reliability engine for point-of-sale adapters and per-user tenant resolution.
// @description
// @description ## Authentication
// @description
// @description Every endpoint except /health and /metrics requires a bearer JWT. Mint one with `possyncctl token`.
// @description
// @description ## Error Responses
// @description
// @description Errors use the standard envelope: `{"success": false, "error": {"code", "message", "request_id", "details"}, "meta": {...}}`.
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @host localhost:8470
// @BasePath /api/v1
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer JWT: "Bearer <token>"
//
// @tag.name Health
// @tag.description Liveness and store reachability
//
// @tag.name Sync
// @tag.description Attempt logs, breaker status and running syncs
//
// @tag.name Tenant
// @tag.description Tenant context resolution and active location
//
// @tag.name Admin
// @tag.description Breaker resume and tenant cache administration
//
// @tag.name Events
// @tag.description Live event feed over websocket
