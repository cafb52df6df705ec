// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

//go:build !nats

package events

import (
	"fmt"

	"github.com/tomtom215/possync/internal/config"
)

func newNATSBus(_ *config.EventsConfig) (*Bus, error) {
	return nil, fmt.Errorf("NATS event bus not available: build with -tags=nats")
}
