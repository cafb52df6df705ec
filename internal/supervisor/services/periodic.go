// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/possync/internal/logging"
)

// PeriodicService calls run every interval, and once at start. A failing
// run is logged and retried on the next tick; it never stops the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// NewPeriodicService creates a ticker-driven service. A non-positive
// interval becomes one minute.
func NewPeriodicService(name string, interval time.Duration, run func(ctx context.Context) error) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, run: run}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	log := logging.WithComponent(p.name)
	log.Info().Dur("interval", p.interval).Msg("Periodic service started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Periodic run failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Periodic service stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (p *PeriodicService) String() string {
	return p.name
}
