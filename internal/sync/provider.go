// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/possync/internal/models"
)

// ErrNoProvider is returned when no provider is registered for a POS type.
var ErrNoProvider = errors.New("no action provider registered")

// ActionProvider performs the actual work against one POS integration.
// Failures are reported as errors; partial outcomes as counts with
// RecordsFailed > 0.
type ActionProvider interface {
	Sync(ctx context.Context, tenantID string, op models.Operation) (models.SyncCounts, error)
}

// ProviderFunc adapts a function to ActionProvider.
type ProviderFunc func(ctx context.Context, tenantID string, op models.Operation) (models.SyncCounts, error)

// Sync implements ActionProvider.
func (f ProviderFunc) Sync(ctx context.Context, tenantID string, op models.Operation) (models.SyncCounts, error) {
	return f(ctx, tenantID, op)
}

// ProviderRegistry maps POS types to providers.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]ActionProvider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]ActionProvider)}
}

// Register adds or replaces the provider for posType.
func (r *ProviderRegistry) Register(posType string, p ActionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[posType] = p
}

// Get returns the provider for posType.
func (r *ProviderRegistry) Get(posType string) (ActionProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[posType]
	if !ok {
		return nil, fmt.Errorf("%w for pos type %q", ErrNoProvider, posType)
	}
	return p, nil
}

// Types lists registered POS types in sorted order.
func (r *ProviderRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
