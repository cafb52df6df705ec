// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package main is the entry point for the POSSync server.

POSSync guards the synchronization of point-of-sale data for many tenants.
Every sync attempt is journaled, failures are classified and retried with
exponential backoff, and a per-tenant circuit breaker pauses tenants whose
syncs keep failing. Alongside it, the server resolves which location group and
active location a user is acting under and caches the result per user.

# Application Architecture

	RootSupervisor ("possync")
	├── EngineSupervisor ("engine-layer")
	│   ├── Stale attempt sweeper
	│   └── Retry dispatcher (SYNC_DISPATCH_ENABLED)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket Hub
	│   └── Event forwarder (bus -> hub)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 (defaults, YAML, .env, environment)
 2. Logging: zerolog
 3. Store: memory, DuckDB or Postgres, wrapped in a gobreaker guard
 4. Preferences: BadgerDB journal of active location changes
 5. Event bus: watermill gochannel or NATS
 6. Sync engine: adapters from ADAPTER_URL_<POS_TYPE>
 7. Tenant resolver, cache and location switcher
 8. Auth: JWT issuance and Casbin policy
 9. Supervisor tree and HTTP server

# Configuration

	HTTP_PORT=8470
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	DB_DRIVER=duckdb             # duckdb, postgres or memory
	DUCKDB_PATH=/data/possync.duckdb
	DATABASE_URL=postgres://...  # when DB_DRIVER=postgres

	JWT_SECRET=<32+ chars>
	EVENTS_BACKEND=memory        # memory or nats
	NATS_EMBEDDED=true

	ADAPTER_URL_SQUARE=http://square-adapter:9000/sync

# Build Tags

	go build ./cmd/server                 # memory event bus only
	go build -tags nats ./cmd/server      # NATS event bus

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests, the supervisor tree stops every layer, and the event bus,
preference store and database are closed in that order.
*/
package main
