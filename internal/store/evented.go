// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package store

import (
	"context"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/stream"
)

// EventedMessageStore decorates a MessageStore so every successful mutation
// is published onto the event stream. Open conversation views converge by
// consuming these events; the store is the single source of them.
//
// Publish failures do not fail the mutation. The durable write already
// happened; views catch up on their next open.
type EventedMessageStore struct {
	inner     MessageStore
	publisher *stream.Publisher
}

// NewEventedMessageStore wraps inner with event publication.
func NewEventedMessageStore(inner MessageStore, publisher *stream.Publisher) *EventedMessageStore {
	return &EventedMessageStore{inner: inner, publisher: publisher}
}

func (s *EventedMessageStore) publish(ctx context.Context, action stream.Action, msg *models.Message) {
	event := stream.NewMessageEvent(action, *msg)
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		logging.Error().Err(err).
			Str("action", string(action)).
			Str("message_id", msg.ID).
			Str("connection_id", msg.ConnectionID).
			Msg("failed to publish message event")
	}
}

// Create persists the message and publishes a create event.
func (s *EventedMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	durable, err := s.inner.Create(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, stream.ActionCreate, durable)
	return durable, nil
}

// Get retrieves a message by ID.
func (s *EventedMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	return s.inner.Get(ctx, id)
}

// MarkRead marks one message read, publishing an update event only when the
// flag actually changed.
func (s *EventedMessageStore) MarkRead(ctx context.Context, id string) (*models.Message, bool, error) {
	msg, changed, err := s.inner.MarkRead(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.publish(ctx, stream.ActionUpdate, msg)
	}
	return msg, changed, nil
}

// MarkConversationRead marks the receiver's unread messages read and
// publishes one update event per changed record.
func (s *EventedMessageStore) MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error) {
	changed, err := s.inner.MarkConversationRead(ctx, connectionID, receiverID)
	if err != nil {
		return nil, err
	}
	for _, msg := range changed {
		s.publish(ctx, stream.ActionUpdate, msg)
	}
	return changed, nil
}

// List returns the conversation's messages in ascending creation order.
func (s *EventedMessageStore) List(ctx context.Context, connectionID string) ([]*models.Message, error) {
	return s.inner.List(ctx, connectionID)
}

// Delete removes the message and publishes a delete event.
func (s *EventedMessageStore) Delete(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.inner.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, stream.ActionDelete, msg)
	return msg, nil
}

var _ MessageStore = (*EventedMessageStore)(nil)
