// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/possync/internal/database"
	"github.com/tomtom215/possync/internal/models"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher captures published events by topic.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, payload)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// scriptedProvider returns queued results in order, repeating the last one.
type scriptedProvider struct {
	mu      sync.Mutex
	results []providerResult
	calls   int
}

type providerResult struct {
	counts models.SyncCounts
	err    error
}

func (p *scriptedProvider) Sync(context.Context, string, models.Operation) (models.SyncCounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return models.SyncCounts{}, nil
	}
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return r.counts, r.err
}

func (p *scriptedProvider) set(results ...providerResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("attempt-%03d", n)
	}
}

type testEngine struct {
	store     *database.MemoryStore
	clock     *fakeClock
	publisher *recordingPublisher
	provider  *scriptedProvider
	orch      *Orchestrator
}

func newTestEngine() *testEngine {
	e := &testEngine{
		store:     database.NewMemoryStore(),
		clock:     newFakeClock(),
		publisher: &recordingPublisher{},
		provider:  &scriptedProvider{},
	}
	reg := NewProviderRegistry()
	reg.Register("square", e.provider)
	e.orch = New(e.store, reg, Options{
		Clock:     e.clock.Now,
		Publisher: e.publisher,
		NewID:     sequentialIDs(),
	})
	return e
}

func transientErr() providerResult {
	return providerResult{err: fmt.Errorf("dial adapter: %w", ErrTransient)}
}
