// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"time"

	"github.com/tomtom215/possync/internal/config"
)

// Defaults for the reliability engine.
const (
	DefaultMaxConsecutiveFailures = 3
	DefaultBaseBackoff            = 30 * time.Second
	DefaultMaxBackoff             = 3600 * time.Second
	DefaultMaxRetriesPerOp        = 5
	DefaultStaleAttemptGrace      = 15 * time.Minute
)

// BackoffPolicy computes retry delays for one logical operation.
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy returns 30s doubling up to one hour, five attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       DefaultBaseBackoff,
		Max:        DefaultMaxBackoff,
		MaxRetries: DefaultMaxRetriesPerOp,
	}
}

// BackoffPolicyFromConfig fills zero fields with the defaults.
func BackoffPolicyFromConfig(cfg *config.SyncConfig) BackoffPolicy {
	p := DefaultBackoffPolicy()
	if cfg == nil {
		return p
	}
	if cfg.BaseBackoff > 0 {
		p.Base = cfg.BaseBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.Max = cfg.MaxBackoff
	}
	if cfg.MaxRetriesPerOp > 0 {
		p.MaxRetries = cfg.MaxRetriesPerOp
	}
	return p
}

// Delay returns min(Base * 2^(attempt-1), Max). Attempts are 1-indexed;
// anything below 1 is treated as the first attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		if d >= p.Max {
			return p.Max
		}
		d *= 2
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// BackoffSeconds is Delay in whole seconds.
func (p BackoffPolicy) BackoffSeconds(attempt int) int {
	return int(p.Delay(attempt) / time.Second)
}

// NextRetryAt is completedAt plus the delay for attempt.
func (p BackoffPolicy) NextRetryAt(completedAt time.Time, attempt int) time.Time {
	return completedAt.Add(p.Delay(attempt))
}

// Exhausted reports whether attempt is past the retry budget.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}
