// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package models

import (
	"strings"
	"time"
)

// ConnectionStatus is the lifecycle state of a connection request.
type ConnectionStatus string

const (
	// StatusPending indicates the request awaits the counterparty's decision.
	StatusPending ConnectionStatus = "pending"
	// StatusAccepted indicates messaging is permitted on this connection.
	StatusAccepted ConnectionStatus = "accepted"
	// StatusRejected is terminal; messaging is never permitted for this record.
	StatusRejected ConnectionStatus = "rejected"
)

// Connection is a durable record of a directed connection request between
// two parties and its outcome. At most one non-rejected connection exists
// per unordered pair of parties; the store enforces that on create.
type Connection struct {
	ID        string           `json:"id"`
	PartyA    string           `json:"party_a"`
	PartyB    string           `json:"party_b"`
	BusinessA string           `json:"business_a,omitempty"`
	BusinessB string           `json:"business_b,omitempty"`
	Status    ConnectionStatus `json:"status"`
	Initiator string           `json:"initiator"`
	Message   string           `json:"message,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Involves reports whether the given user is one of the parties.
func (c *Connection) Involves(userID string) bool {
	return c.PartyA == userID || c.PartyB == userID
}

// Counterpart returns the other party's user id, or "" if userID is not a
// party to this connection.
func (c *Connection) Counterpart(userID string) string {
	switch userID {
	case c.PartyA:
		return c.PartyB
	case c.PartyB:
		return c.PartyA
	}
	return ""
}

// Terminal reports whether the connection can no longer transition.
// A rejected connection does not block a future request between the pair.
func (c *Connection) Terminal() bool {
	return c.Status == StatusRejected
}

// PairKey returns a canonical key for the unordered party pair, used to
// enforce the one-non-rejected-connection-per-pair invariant.
func (c *Connection) PairKey() string {
	return PairKey(c.PartyA, c.PartyB)
}

// PairKey canonicalizes an unordered user pair into a single index key.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// ConnectionStatusView is the list-rendering projection of a connection as
// seen by one user: the lifecycle state plus which side of the request the
// user is on ("request sent" vs "request received").
type ConnectionStatusView struct {
	ConnectionID string           `json:"connection_id"`
	Status       ConnectionStatus `json:"status"`
	IsInitiator  bool             `json:"is_initiator"`
}

// ConversationSummary is the derived list-preview state for one connection:
// the latest message and the unread count for the viewing user. It is
// invalidated, not recomputed, when the underlying message set changes.
type ConversationSummary struct {
	ConnectionID  string    `json:"connection_id"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	ComputedAt    time.Time `json:"computed_at"`
}
