// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "possync_store_operation_duration_seconds",
			Help:    "Duration of sync store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_store_errors_total",
			Help: "Total number of sync store errors, excluding expected domain outcomes",
		},
		[]string{"operation"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "possync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "possync_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Sync Attempt Metrics
	SyncAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_sync_attempts_total",
			Help: "Total number of completed sync attempts",
		},
		[]string{"operation", "status"},
	)

	SyncAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "possync_sync_attempt_duration_seconds",
			Help:    "Duration of sync attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_sync_records_processed_total",
			Help: "Total number of records processed by sync attempts",
		},
		[]string{"operation"},
	)

	SyncRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_sync_rejected_total",
			Help: "Total number of syncs refused because the tenant breaker is open",
		},
		[]string{"pos_type"},
	)

	StaleAttemptsReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_stale_attempts_reconciled_total",
			Help: "Total number of in-flight attempts completed as stale",
		},
	)

	RetryDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_retry_dispatches_total",
			Help: "Total number of due retries re-run by the dispatcher",
		},
		[]string{"result"}, // success, failure, skipped
	)

	// Tenant Breaker Metrics
	TenantBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_tenant_breaker_transitions_total",
			Help: "Total number of tenant breaker transitions",
		},
		[]string{"transition"}, // opened, auto_resumed, resumed
	)

	// Circuit Breaker Metrics (store guard and adapter clients)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "possync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Adapter Metrics
	AdapterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_adapter_requests_total",
			Help: "Total number of requests to POS adapter services",
		},
		[]string{"pos_type", "result"},
	)

	// Tenant Cache Metrics
	TenantCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_cache_hits_total",
			Help: "Total number of tenant context cache hits",
		},
	)

	TenantCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_cache_misses_total",
			Help: "Total number of tenant context cache misses",
		},
	)

	TenantCacheSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_cache_sets_total",
			Help: "Total number of tenant contexts written to the cache",
		},
	)

	TenantCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_cache_evictions_total",
			Help: "Total number of tenant contexts evicted for capacity or expiry",
		},
	)

	TenantCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_cache_invalidations_total",
			Help: "Total number of tenant context cache invalidations",
		},
	)

	TenantCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "possync_tenant_cache_entries",
			Help: "Current number of cached tenant contexts",
		},
	)

	TenantContaminations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_tenant_contaminations_total",
			Help: "Total number of cached tenant contexts that failed the integrity check",
		},
	)

	ActiveLocationChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_active_location_changes_total",
			Help: "Total number of active location switches by final state",
		},
		[]string{"state"}, // confirmed, rolled_back
	)

	// Event Bus Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "possync_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"topic", "result"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "possync_websocket_connections",
			Help: "Current number of WebSocket event subscribers",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "possync_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)
)

// RecordStoreOperation records a store call. Domain outcomes such as "not
// found" should be passed as a nil err.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSyncAttempt records a completed attempt.
func RecordSyncAttempt(operation, status string, duration time.Duration, recordsProcessed int) {
	SyncAttemptsTotal.WithLabelValues(operation, status).Inc()
	SyncAttemptDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if recordsProcessed > 0 {
		SyncRecordsProcessed.WithLabelValues(operation).Add(float64(recordsProcessed))
	}
}

// RecordBreakerTransition counts a tenant breaker transition.
func RecordBreakerTransition(transition string) {
	TenantBreakerTransitions.WithLabelValues(transition).Inc()
}

// RecordCacheLookup counts a tenant cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		TenantCacheHits.Inc()
	} else {
		TenantCacheMisses.Inc()
	}
}

// RecordEventPublish counts an event bus publish.
func RecordEventPublish(topic string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EventsPublished.WithLabelValues(topic, result).Inc()
}
