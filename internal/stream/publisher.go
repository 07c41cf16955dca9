// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/parleyhq/parley/internal/metrics"
)

// Publisher wraps a Watermill publisher with event serialization and
// optional circuit breaker protection. The backing store publishes every
// record mutation through here.
type Publisher struct {
	publisher  message.Publisher
	serializer *Serializer
	breaker    *gobreaker.CircuitBreaker[any]
	mu         sync.RWMutex
	closed     bool
}

// NewPublisher wraps the given transport publisher (GoChannel bus or NATS).
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{
		publisher:  pub,
		serializer: NewSerializer(),
	}
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[any]) {
	p.breaker = cb
}

// PublishEvent serializes and publishes a message event on its action topic.
func (p *Publisher) PublishEvent(_ context.Context, event *MessageEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := p.serializer.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("action", string(event.Action))
	msg.Metadata.Set("connection_id", event.Record.ConnectionID)

	if p.breaker != nil {
		_, err = p.breaker.Execute(func() (any, error) {
			return nil, p.publisher.Publish(event.Topic(), msg)
		})
	} else {
		err = p.publisher.Publish(event.Topic(), msg)
	}

	if err == nil {
		metrics.RecordStreamPublish(string(event.Action))
	}
	return err
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
