// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
Package services adapts POSSync components to suture.Service.

	HTTPServerService     ListenAndServe / Shutdown
	WebSocketHubService   websocket.Hub.RunWithContext
	PeriodicService       run a function on a ticker
	StaleSweeper          reconcile stale in-flight attempts of every tenant
	RetryDispatcher       re-run due retries through the orchestrator

Return values follow suture's conventions: ctx.Err() on a requested stop,
any other error to be restarted with backoff.
*/
package services
