// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks client-assigned optimistic message ids.
// Durable ids are bare UUIDs assigned by the message store, so the prefix
// makes the two id spaces distinguishable by construction.
const LocalIDPrefix = "local-"

// Message is one entry in a two-party conversation.
//
// The message store owns the durable record; everything a Synchronizer holds
// is a view copy that is replaced wholesale when the stream delivers an
// updated record.
type Message struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Sender       string    `json:"sender"`
	Receiver     string    `json:"receiver"`
	Content      string    `json:"content"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewLocalMessage builds an optimistic, unconfirmed message for an
// in-flight send. The id carries the local prefix and the timestamps are
// client clocks; the durable copy that eventually arrives via the event
// stream replaces all of it.
func NewLocalMessage(connectionID, sender, receiver, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:           LocalIDPrefix + uuid.New().String(),
		ConnectionID: connectionID,
		Sender:       sender,
		Receiver:     receiver,
		Content:      content,
		Read:         false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLocal reports whether the message is an optimistic entry that has not
// been confirmed by the message store.
func (m *Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// Involves reports whether the given user is the sender or receiver.
func (m *Message) Involves(userID string) bool {
	return m.Sender == userID || m.Receiver == userID
}

// Validate checks required fields and returns an error if validation fails.
func (m *Message) Validate() error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if m.ConnectionID == "" {
		return &ValidationError{Field: "connection_id", Message: "required"}
	}
	if m.Sender == "" {
		return &ValidationError{Field: "sender", Message: "required"}
	}
	if m.Receiver == "" {
		return &ValidationError{Field: "receiver", Message: "required"}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Message: "required"}
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
