// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/possync/internal/logging"
)

// Subscriber is satisfied by *events.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Forwarder copies bus messages to a Hub.
type Forwarder struct {
	sub    Subscriber
	hub    *Hub
	topics []string
}

// NewForwarder forwards topics from sub to hub.
func NewForwarder(sub Subscriber, hub *Hub, topics []string) *Forwarder {
	return &Forwarder{sub: sub, hub: hub, topics: topics}
}

// Serve subscribes to every topic and forwards until ctx is done. A
// subscription that ends early is reported as an error so a supervisor
// restarts the forwarder.
func (f *Forwarder) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channels := make(map[string]<-chan *message.Message, len(f.topics))
	for _, topic := range f.topics {
		ch, err := f.sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		channels[topic] = ch
	}

	var wg sync.WaitGroup
	closed := make(chan string, len(channels))
	for topic, ch := range channels {
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			for msg := range ch {
				f.hub.Broadcast(topic, msg.Payload)
				msg.Ack()
			}
			closed <- topic
		}(topic, ch)
	}

	var err error
	select {
	case <-ctx.Done():
	case topic := <-closed:
		if ctx.Err() == nil {
			err = fmt.Errorf("subscription to %s closed", topic)
		}
	}
	cancel()
	wg.Wait()

	if err != nil {
		logging.Warn().Err(err).Msg("event forwarder stopped")
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (f *Forwarder) String() string {
	return "event-forwarder"
}
