// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

/*
http_provider.go - HTTP Bridge to External POS Adapters

Vendor field mapping lives in separate adapter services, one per POS type.
This file lets the engine drive those adapters over HTTP without knowing
anything about vendor payloads.

Request:
  - POST {endpoint} with body {"tenant_id": "...", "operation": "..."}
  - X-Correlation-ID header carries the caller's correlation ID

Response (2xx):
  - {"records_processed": n, "records_success": n, "records_failed": n}

Failure Mapping:
  - 401, 403: auth (terminal, AUTH_FAILED)
  - 408, 429, 5xx, network errors: transient (retried with backoff)
  - other 4xx: rejected (terminal)

Each adapter gets its own token-bucket limiter and a gobreaker circuit
breaker that only trips on transient failures, so a dead adapter fails fast
without waiting for the client timeout on every tenant.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
	"github.com/tomtom215/possync/internal/models"
)

// ErrAdapterUnavailable is wrapped when the adapter breaker is open.
var ErrAdapterUnavailable = errors.New("pos adapter unavailable")

// maxErrorBody caps how much of an error response ends up in messages.
const maxErrorBody = 512

// HTTPProviderConfig configures one adapter bridge.
type HTTPProviderConfig struct {
	POSType  string
	Endpoint string
	Timeout  time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// Client overrides the default http.Client, mostly for tests.
	Client *http.Client
}

// HTTPProvider is an ActionProvider backed by an adapter service.
type HTTPProvider struct {
	posType  string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker[models.SyncCounts]
}

type adapterRequest struct {
	TenantID  string `json:"tenant_id"`
	Operation string `json:"operation"`
}

// NewHTTPProvider creates a bridge for cfg.POSType.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.POSType == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("adapter for %q: pos type and endpoint are required", cfg.POSType)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	name := "adapter-" + cfg.POSType
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[models.SyncCounts](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classifyError(err) != KindTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Adapter circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(adapterStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &HTTPProvider{
		posType:  cfg.POSType,
		endpoint: cfg.Endpoint,
		client:   client,
		limiter:  limiter,
		cb:       cb,
	}, nil
}

// Sync implements ActionProvider.
func (p *HTTPProvider) Sync(ctx context.Context, tenantID string, op models.Operation) (models.SyncCounts, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.record("rate_limited")
		return models.SyncCounts{}, &ProviderError{Kind: KindTransient, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	counts, err := p.cb.Execute(func() (models.SyncCounts, error) {
		return p.do(ctx, tenantID, op)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.record("rejected")
		return models.SyncCounts{}, &ProviderError{Kind: KindTransient, Err: fmt.Errorf("%s: %w", p.posType, ErrAdapterUnavailable)}
	case err != nil:
		p.record("failure")
		return models.SyncCounts{}, err
	}
	p.record("success")
	return counts, nil
}

func (p *HTTPProvider) do(ctx context.Context, tenantID string, op models.Operation) (models.SyncCounts, error) {
	body, err := json.Marshal(adapterRequest{TenantID: tenantID, Operation: string(op)})
	if err != nil {
		return models.SyncCounts{}, fmt.Errorf("encode adapter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.SyncCounts{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.SyncCounts{}, &ProviderError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.SyncCounts{}, &ProviderError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("adapter %s returned %s: %s", p.posType, resp.Status, bytes.TrimSpace(snippet)),
		}
	}

	var counts models.SyncCounts
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return models.SyncCounts{}, &ProviderError{Kind: KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return counts, nil
}

func (p *HTTPProvider) record(result string) {
	metrics.AdapterRequests.WithLabelValues(p.posType, result).Inc()
}

func adapterStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// RegisterHTTPProviders registers an HTTPProvider for every configured
// adapter endpoint.
func RegisterHTTPProviders(reg *ProviderRegistry, cfg *config.AdaptersConfig) error {
	if cfg == nil {
		return nil
	}
	for posType, endpoint := range cfg.Endpoints {
		p, err := NewHTTPProvider(HTTPProviderConfig{
			POSType:   posType,
			Endpoint:  endpoint,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		})
		if err != nil {
			return err
		}
		reg.Register(posType, p)
		logging.Info().Str("pos_type", posType).Str("endpoint", endpoint).Msg("Registered POS adapter")
	}
	return nil
}
