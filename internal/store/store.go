// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package store provides durable persistence for connections and messages.
// The canonical implementation is BadgerDB-backed; an evented decorator
// publishes every message mutation onto the event stream, and a remote
// client speaks the same interface over HTTP for split deployments.
package store

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/internal/models"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicatePair indicates a non-terminal connection already exists
	// between the two parties.
	ErrDuplicatePair = errors.New("connection already exists for pair")
)

// ConnectionStore persists connection records. One non-terminal connection
// may exist per unordered pair of parties at a time; a rejected or canceled
// connection frees the pair for a fresh request.
type ConnectionStore interface {
	// Create stores a new connection. Returns ErrDuplicatePair when a
	// non-terminal connection between the same parties already exists.
	Create(ctx context.Context, conn *models.Connection) error

	// Get retrieves a connection by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Connection, error)

	// UpdateStatus sets the connection's status. Terminal statuses release
	// the pair reservation. Returns ErrNotFound if absent.
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error

	// Delete removes a connection and its pair reservation.
	// Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// ListForUser returns every connection the user participates in.
	ListForUser(ctx context.Context, userID string) ([]*models.Connection, error)
}

// MessageStore persists message records. Implementations assign durable IDs
// and timestamps on create; callers never see their optimistic local IDs
// reflected back.
type MessageStore interface {
	// Create persists a new message, assigning a durable ID and server
	// timestamps. The returned record is the durable copy.
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)

	// Get retrieves a message by its durable ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Message, error)

	// MarkRead marks a single message as read. Read state is monotonic:
	// marking an already-read message reports changed=false and is not an
	// error. Returns ErrNotFound if the message does not exist.
	MarkRead(ctx context.Context, id string) (msg *models.Message, changed bool, err error)

	// MarkConversationRead marks every unread message addressed to the
	// receiver within the conversation as read, returning the records that
	// changed.
	MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error)

	// List returns the conversation's messages in ascending creation order.
	List(ctx context.Context, connectionID string) ([]*models.Message, error)

	// Delete removes a message, returning the deleted record.
	// Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) (*models.Message, error)
}
