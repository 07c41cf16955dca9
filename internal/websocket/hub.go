// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package websocket pushes session updates to connected UI clients. Each
// client authenticates as one user; view changes, send resolutions, and
// summary invalidations are routed to that user's clients only.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
)

// Message types for websocket communication.
const (
	MessageTypeViewChanged          = "view_changed"
	MessageTypeSendResolved         = "send_resolved"
	MessageTypeSummariesInvalidated = "summaries_invalidated"
	MessageTypePing                 = "ping"
	MessageTypePong                 = "pong"
)

// Message is one websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ViewChangedData carries a full view snapshot.
type ViewChangedData struct {
	ConnectionID string           `json:"connection_id"`
	View         []models.Message `json:"view"`
}

// SendResolvedData reports the outcome of one optimistic send.
type SendResolvedData struct {
	ConnectionID string `json:"connection_id"`
	LocalID      string `json:"local_id"`
	Error        string `json:"error,omitempty"`
}

// SummariesInvalidatedData names conversations whose summaries went stale.
type SummariesInvalidatedData struct {
	ConnectionIDs []string `json:"connection_ids"`
}

// Hub maintains the set of active clients and routes messages to them.
// It implements session.Notifier and suture.Service.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	outbound   chan targetedMessage
}

type targetedMessage struct {
	userID string // "" broadcasts to everyone
	msg    Message
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		outbound:   make(chan targetedMessage, 256),
	}
}

// Serve runs the hub until the context is canceled. Lifecycle events take
// priority over deliveries so the client set is settled before routing.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case tm := <-h.outbound:
			h.deliver(tm)
		}
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(count))
	logging.Info().
		Str("user", client.userID).
		Int("total_clients", count).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(count))
	logging.Info().
		Str("user", client.userID).
		Int("total_clients", count).
		Msg("websocket client disconnected")
}

// deliver routes a message to the target user's clients in stable ID order.
// Clients with a full send buffer are dropped; a stalled reader must not
// block the hub.
func (h *Hub) deliver(tm targetedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if tm.userID == "" || client.userID == tm.userID {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- tm.msg:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebsocketClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToUser queues a message for every client of one user.
func (h *Hub) SendToUser(userID string, msgType string, data interface{}) {
	select {
	case h.outbound <- targetedMessage{userID: userID, msg: Message{Type: msgType, Data: data}}:
	default:
		logging.Warn().
			Str("user", userID).
			Str("message_type", msgType).
			Msg("outbound channel full, dropping message")
	}
}

// ViewChanged implements session.Notifier.
func (h *Hub) ViewChanged(userID, connectionID string, view []models.Message) {
	h.SendToUser(userID, MessageTypeViewChanged, ViewChangedData{
		ConnectionID: connectionID,
		View:         view,
	})
}

// SendResolved implements session.Notifier.
func (h *Hub) SendResolved(userID, connectionID, localID string, err error) {
	data := SendResolvedData{ConnectionID: connectionID, LocalID: localID}
	if err != nil {
		data.Error = err.Error()
	}
	h.SendToUser(userID, MessageTypeSendResolved, data)
}

// SummariesInvalidated implements session.Notifier.
func (h *Hub) SummariesInvalidated(userID string, connectionIDs []string) {
	h.SendToUser(userID, MessageTypeSummariesInvalidated, SummariesInvalidatedData{
		ConnectionIDs: connectionIDs,
	})
}
