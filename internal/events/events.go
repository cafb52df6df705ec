// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package events publishes breaker transitions, completed attempts and
// tenant security alerts on a watermill bus. The default backend is an
// in-process gochannel; building with -tags=nats adds a NATS backend and an
// embedded NATS server.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/metrics"
)

// Topics.
const (
	TopicBreaker  = "possync.breaker"
	TopicAttempts = "possync.attempts"
	TopicSecurity = "possync.security"
)

// AllTopics lists every topic the bus carries.
var AllTopics = []string{TopicBreaker, TopicAttempts, TopicSecurity}

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// BreakerTransition is published when a tenant breaker opens or closes.
type BreakerTransition struct {
	TenantID            string     `json:"tenant_id"`
	POSType             string     `json:"pos_type,omitempty"`
	From                string     `json:"from"`
	To                  string     `json:"to"`
	Cause               string     `json:"cause"` // threshold, cooldown, manual
	Reason              string     `json:"reason,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextAllowedSyncAt   *time.Time `json:"next_allowed_sync_at,omitempty"`
	At                  time.Time  `json:"at"`
}

// AttemptCompleted is published once per completed sync attempt.
type AttemptCompleted struct {
	AttemptID        string     `json:"attempt_id"`
	TenantID         string     `json:"tenant_id"`
	POSType          string     `json:"pos_type"`
	Operation        string     `json:"operation"`
	Status           string     `json:"status"`
	ErrorCode        string     `json:"error_code,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	DurationMs       int64      `json:"duration_ms"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	At               time.Time  `json:"at"`
}

// SecurityAlert is published for tenant contamination and forbidden
// location access.
type SecurityAlert struct {
	Event           string    `json:"event"`
	UserID          string    `json:"user_id"`
	ExpectedGroupID string    `json:"expected_group_id,omitempty"`
	ObservedGroupID string    `json:"observed_group_id,omitempty"`
	LocationID      string    `json:"location_id,omitempty"`
	At              time.Time `json:"at"`
}

// Publisher is what the core depends on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, interface{}) error { return nil }

// Bus is a watermill publisher/subscriber pair.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	shared  bool // pub and sub are the same object
	backend string
	closers []func() error

	mu     sync.RWMutex
	closed bool
}

// NewMemoryBus creates an in-process bus backed by watermill's gochannel.
func NewMemoryBus() *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewWatermillLogger(logging.Logger()))
	return &Bus{pub: ch, sub: ch, shared: true, backend: "memory"}
}

// Open creates the bus selected by cfg.Backend.
func Open(cfg *config.EventsConfig) (*Bus, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBus(), nil
	case "nats":
		return newNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// Backend names the transport in use.
func (b *Bus) Backend() string {
	return b.backend
}

// Publish encodes payload as JSON and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.SetContext(ctx)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}

	err = b.pub.Publish(topic, msg)
	metrics.RecordEventPublish(topic, err)
	return err
}

// Subscribe returns the messages published on topic until ctx is done.
// Callers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.sub.Subscribe(ctx, topic)
}

// Close shuts the bus down. It is safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if !b.shared {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishBestEffort publishes and logs, rather than returns, a failure.
// Event delivery never changes the outcome of the operation that emitted it.
func PublishBestEffort(ctx context.Context, p Publisher, topic string, payload interface{}) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)
