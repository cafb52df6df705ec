// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"testing"
	"time"

	"github.com/tomtom215/possync/internal/config"
)

func TestBackoffPolicy_BackoffSeconds(t *testing.T) {
	p := DefaultBackoffPolicy()

	tests := []struct {
		attempt int
		want    int
	}{
		{-3, 30},
		{0, 30},
		{1, 30},
		{2, 60},
		{3, 120},
		{4, 240},
		{5, 480},
		{6, 960},
		{7, 1920},
		{8, 3600},
		{9, 3600},
		{64, 3600},
		{10000, 3600},
	}

	for _, tt := range tests {
		if got := p.BackoffSeconds(tt.attempt); got != tt.want {
			t.Errorf("BackoffSeconds(%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffPolicy_MonotonicWithCap(t *testing.T) {
	p := DefaultBackoffPolicy()

	prev := p.Delay(1)
	for attempt := 2; attempt <= 40; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v", attempt, d, attempt-1, prev)
		}
		if d > p.Max {
			t.Fatalf("Delay(%d) = %v exceeds max %v", attempt, d, p.Max)
		}
		if prev < p.Max/2 && d != 2*prev {
			t.Errorf("Delay(%d) = %v, want double of %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffPolicy_NextRetryAt(t *testing.T) {
	p := DefaultBackoffPolicy()
	completed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := p.NextRetryAt(completed, 5)
	want := completed.Add(480 * time.Second)
	if !got.Equal(want) {
		t.Errorf("NextRetryAt = %v, want %v", got, want)
	}
}

func TestBackoffPolicy_Exhausted(t *testing.T) {
	p := DefaultBackoffPolicy()

	for attempt := 1; attempt <= 5; attempt++ {
		if p.Exhausted(attempt) {
			t.Errorf("Exhausted(%d) = true, want false", attempt)
		}
	}
	if !p.Exhausted(6) {
		t.Error("Exhausted(6) = false, want true")
	}
}

func TestBackoffPolicyFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.SyncConfig
		want BackoffPolicy
	}{
		{"nil config", nil, DefaultBackoffPolicy()},
		{"zero values keep defaults", &config.SyncConfig{}, DefaultBackoffPolicy()},
		{
			"overrides",
			&config.SyncConfig{BaseBackoff: time.Second, MaxBackoff: time.Minute, MaxRetriesPerOp: 2},
			BackoffPolicy{Base: time.Second, Max: time.Minute, MaxRetries: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BackoffPolicyFromConfig(tt.cfg); got != tt.want {
				t.Errorf("BackoffPolicyFromConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
