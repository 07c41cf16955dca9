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

	"github.com/parleyhq/parley/internal/logging"
)

// Handler receives one deserialized message event. Handlers filter by
// connection themselves; the bridge delivers every event to every handler.
type Handler func(*MessageEvent)

// Bridge consumes the message-event topics from the transport and fans each
// event out to the attached handlers. It is the process-wide event stream
// client; per-session subscription lifecycles attach and detach through it.
//
// Bridge implements suture.Service.
type Bridge struct {
	sub        message.Subscriber
	serializer *Serializer

	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
}

// NewBridge creates a bridge reading from the given subscriber.
func NewBridge(sub message.Subscriber) *Bridge {
	return &Bridge{
		sub:        sub,
		serializer: NewSerializer(),
		handlers:   make(map[uint64]Handler),
	}
}

// Attach registers a handler for all message events and returns its
// teardown handle. Teardown is idempotent and never fails for a
// still-registered handler.
func (b *Bridge) Attach(h Handler) func() error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.mu.Unlock()

	return func() error {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
		return nil
	}
}

// HandlerCount returns the number of attached handlers.
func (b *Bridge) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Serve subscribes to every message-event topic and dispatches until the
// context is canceled.
func (b *Bridge) Serve(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, topic := range Topics() {
		msgs, err := b.sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		wg.Add(1)
		go func(topic string, msgs <-chan *message.Message) {
			defer wg.Done()
			b.consume(ctx, topic, msgs)
		}(topic, msgs)
	}

	logging.Info().Msg("event stream bridge started")
	<-ctx.Done()
	wg.Wait()
	logging.Info().Str("component", "stream-bridge").Msg("event stream bridge stopped")
	return ctx.Err()
}

// consume drains one topic channel until cancellation or channel close.
func (b *Bridge) consume(ctx context.Context, topic string, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handleMessage(topic, msg)
		}
	}
}

// handleMessage deserializes and dispatches one transport message.
// Malformed payloads are acked and dropped; redelivering them cannot help.
func (b *Bridge) handleMessage(topic string, msg *message.Message) {
	event, err := b.serializer.Unmarshal(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("topic", topic).Str("message_uuid", msg.UUID).
			Msg("dropping malformed stream event")
		msg.Ack()
		return
	}

	b.dispatch(event)
	msg.Ack()
}

// dispatch delivers the event to a snapshot of the attached handlers.
func (b *Bridge) dispatch(event *MessageEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
