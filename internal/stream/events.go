// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package stream carries message-record change notifications between the
// backing store and the conversation synchronizers. Every create, update,
// and delete on the message store is published here and delivered to all
// subscribed sessions, independent of which client caused it.
package stream

import (
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/models"
)

// Action identifies what happened to the message record.
type Action string

const (
	// ActionCreate indicates a message record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a message record changed (read-flag flips).
	ActionUpdate Action = "update"
	// ActionDelete indicates a message record was removed.
	ActionDelete Action = "delete"
)

// topicPrefix is the subject hierarchy root for message events.
const topicPrefix = "messages"

// Topic returns the pub/sub topic for the given action.
// Format: messages.<action>, e.g. messages.create.
func Topic(action Action) string {
	return topicPrefix + "." + string(action)
}

// Topics returns every message-event topic. Subscribers consume all of
// them and filter by connection client-side; the transport offers no
// per-conversation subjects.
func Topics() []string {
	return []string{Topic(ActionCreate), Topic(ActionUpdate), Topic(ActionDelete)}
}

// MessageEvent is one change notification for a message record.
type MessageEvent struct {
	EventID   string         `json:"event_id"`
	Action    Action         `json:"action"`
	Record    models.Message `json:"record"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessageEvent creates an event with a unique id and timestamp.
func NewMessageEvent(action Action, record models.Message) *MessageEvent {
	return &MessageEvent{
		EventID:   uuid.New().String(),
		Action:    action,
		Record:    record,
		Timestamp: time.Now().UTC(),
	}
}

// Topic returns the pub/sub topic for this event.
func (e *MessageEvent) Topic() string {
	return Topic(e.Action)
}

// Validate checks required fields and returns an error if validation fails.
func (e *MessageEvent) Validate() error {
	if e.EventID == "" {
		return &models.ValidationError{Field: "event_id", Message: "required"}
	}
	switch e.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return &models.ValidationError{Field: "action", Message: "unknown action"}
	}
	if e.Record.ID == "" {
		return &models.ValidationError{Field: "record.id", Message: "required"}
	}
	if e.Record.ConnectionID == "" {
		return &models.ValidationError{Field: "record.connection_id", Message: "required"}
	}
	return nil
}
