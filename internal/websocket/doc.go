// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package websocket streams engine events to monitoring clients.

The Hub keeps the set of connected clients and fans messages out to them.
A Forwarder subscribes to the event bus (breaker transitions, completed
attempts and tenant security alerts) and hands every message to the hub.

	bus ──► Forwarder ──► Hub ──► Client (readPump / writePump)
	                          └─► Client ...

Each client may restrict itself to a subset of topics. Security alerts are
only delivered to clients registered with AllowSecurity, which the API sets
for admin callers.

Message format:

	{"type": "breaker", "topic": "possync.breaker", "data": {...}}

Slow clients whose send buffer is full are dropped rather than blocking
the broadcast loop.
*/
package websocket
