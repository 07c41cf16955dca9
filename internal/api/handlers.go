// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package api exposes the conversation synchronization core over HTTP.
// Authentication lives at the gateway; requests arrive with the caller
// identity in the X-Parley-User header.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	gorillaws "github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/websocket"
)

// Handler serves the Parley HTTP API.
type Handler struct {
	sessions *session.Registry
	conns    *connection.Manager
	hub      *websocket.Hub
	validate *validator.Validate
	upgrader gorillaws.Upgrader
	ready    func() bool
}

// NewHandler creates the API handler. ready reports process readiness for
// the health endpoint; nil means always ready.
func NewHandler(sessions *session.Registry, conns *connection.Manager, hub *websocket.Hub, ready func() bool) *Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{
		sessions: sessions,
		conns:    conns,
		hub:      hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway enforces origin policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ready: ready,
	}
}

// mapError translates domain errors to an HTTP status and error code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, connection.ErrDuplicateRequest):
		return http.StatusConflict, "DUPLICATE_REQUEST"
	case errors.Is(err, connection.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, conversation.ErrNotAccepted):
		return http.StatusForbidden, "NOT_ACCEPTED"
	case errors.Is(err, conversation.ErrNoConversation):
		return http.StatusConflict, "NO_CONVERSATION"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports readiness to serve traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "service is not ready", nil)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"})
}

type connectionRequest struct {
	Target         string `json:"target" validate:"required"`
	Business       string `json:"business"`
	TargetBusiness string `json:"target_business"`
	Message        string `json:"message" validate:"max=500"`
}

// CreateConnection sends a connection request from the caller to a target
// party.
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())

	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	conn, err := h.conns.SendRequest(r.Context(), &models.Connection{
		PartyA:    userID,
		PartyB:    req.Target,
		BusinessA: req.Business,
		BusinessB: req.TargetBusiness,
		Message:   req.Message,
	})
	if err != nil {
		if errors.Is(err, connection.ErrDuplicateRequest) {
			respondError(w, http.StatusConflict, "DUPLICATE_REQUEST", err.Error(), nil)
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	respondData(w, http.StatusCreated, conn)
}

// ListConnections returns every connection the caller participates in.
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	conns, err := h.conns.ListForUser(r.Context(), userID)
	if err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "failed to list connections", err)
		return
	}
	respondData(w, http.StatusOK, conns)
}

// ConnectionStatuses returns the caller's connection status views.
func (h *Handler) ConnectionStatuses(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	views, err := h.sessions.Session(userID).ConnectionStatuses(r.Context())
	if err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "failed to compute statuses", err)
		return
	}
	respondData(w, http.StatusOK, views)
}

// AcceptConnection accepts a pending request addressed to the caller.
func (h *Handler) AcceptConnection(w http.ResponseWriter, r *http.Request) {
	h.resolveConnection(w, r, h.conns.Accept)
}

// RejectConnection rejects a pending request addressed to the caller.
func (h *Handler) RejectConnection(w http.ResponseWriter, r *http.Request) {
	h.resolveConnection(w, r, h.conns.Reject)
}

// CancelConnection withdraws the caller's own pending request.
func (h *Handler) CancelConnection(w http.ResponseWriter, r *http.Request) {
	h.resolveConnection(w, r, h.conns.Cancel)
}

func (h *Handler) resolveConnection(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, connectionID, userID string) error) {
	userID := UserFromContext(r.Context())
	connID := chi.URLParam(r, "id")

	if err := op(r.Context(), connID, userID); err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "connection transition failed", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"connection_id": connID})
}

// OpenConversation opens the conversation for a connection, attaching the
// caller's session to the event stream and marking unread messages read.
func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	connID := chi.URLParam(r, "id")

	sess := h.sessions.Session(userID)
	if err := sess.OpenConversation(r.Context(), connID); err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "failed to open conversation", err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"connection_id": connID,
		"view":          sess.View(),
	})
}

// CloseConversation detaches the caller's session from its open
// conversation.
func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	h.sessions.Session(userID).CloseConversation()
	respondData(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ConversationView returns the caller's current message view.
func (h *Handler) ConversationView(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	sess := h.sessions.Session(userID)
	respondData(w, http.StatusOK, map[string]interface{}{
		"connection_id": sess.Conversation(),
		"view":          sess.View(),
	})
}

// ConversationSummary returns the cached summary for one conversation.
func (h *Handler) ConversationSummary(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())
	connID := chi.URLParam(r, "id")

	summary, err := h.sessions.Session(userID).Summary(r.Context(), connID)
	if err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "failed to compute summary", err)
		return
	}
	respondData(w, http.StatusOK, summary)
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// SendMessage sends a message over the caller's open conversation. The
// response carries the optimistic entry; the durable copy follows over
// the stream and the websocket.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed request body", err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	local, err := h.sessions.Session(userID).SendMessage(r.Context(), req.Content)
	if err != nil {
		status, code := mapError(err)
		respondError(w, status, code, "failed to send message", err)
		return
	}
	respondData(w, http.StatusAccepted, local)
}

// WebSocket upgrades the request and registers the client with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := UserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, userID)
	h.hub.Register <- client
	client.Start()
}
