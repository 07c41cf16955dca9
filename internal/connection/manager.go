// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package connection implements the connection lifecycle between two
// parties: request, accept, reject, cancel, and the status views the
// conversation layer gates messaging on.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
)

// Manager owns connection lifecycle transitions. Status views are cached
// per user for a short TTL; every mutation invalidates both parties so
// the next read reflects it.
type Manager struct {
	store  store.ConnectionStore
	status *cache.Cache[[]models.ConnectionStatusView]
}

// NewManager creates a manager caching status views for statusTTL.
func NewManager(connStore store.ConnectionStore, statusTTL time.Duration) *Manager {
	if statusTTL <= 0 {
		statusTTL = 30 * time.Second
	}
	return &Manager{
		store:  connStore,
		status: cache.New[[]models.ConnectionStatusView](statusTTL),
	}
}

// Close releases the status cache.
func (m *Manager) Close() {
	m.status.Stop()
}

// SendRequest creates a pending connection from initiator to target.
// Returns ErrDuplicateRequest when a pending or accepted connection
// between the pair already exists.
func (m *Manager) SendRequest(ctx context.Context, req *models.Connection) (*models.Connection, error) {
	if req.PartyA == "" || req.PartyB == "" {
		return nil, fmt.Errorf("both parties are required")
	}
	if req.PartyA == req.PartyB {
		return nil, fmt.Errorf("cannot connect a party to itself")
	}

	conn := *req
	conn.ID = uuid.New().String()
	conn.Status = models.StatusPending
	conn.Initiator = req.PartyA
	conn.CreatedAt = time.Now().UTC()

	if err := m.store.Create(ctx, &conn); err != nil {
		if errors.Is(err, store.ErrDuplicatePair) {
			return nil, ErrDuplicateRequest
		}
		return nil, err
	}

	m.invalidateStatus(conn.PartyA, conn.PartyB)
	logging.Info().
		Str("connection_id", conn.ID).
		Str("initiator", conn.Initiator).
		Str("target", conn.Counterpart(conn.Initiator)).
		Msg("connection request sent")
	return &conn, nil
}

// Accept moves a pending connection to accepted. Only the recipient of the
// request may accept; any other caller or state is ErrInvalidTransition.
func (m *Manager) Accept(ctx context.Context, connectionID, userID string) error {
	return m.resolve(ctx, connectionID, userID, models.StatusAccepted)
}

// Reject moves a pending connection to rejected, releasing the pair for a
// future request. Only the recipient may reject.
func (m *Manager) Reject(ctx context.Context, connectionID, userID string) error {
	return m.resolve(ctx, connectionID, userID, models.StatusRejected)
}

func (m *Manager) resolve(ctx context.Context, connectionID, userID string, status models.ConnectionStatus) error {
	conn, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.Status != models.StatusPending {
		return ErrInvalidTransition
	}
	if !conn.Involves(userID) || conn.Initiator == userID {
		return ErrInvalidTransition
	}

	if err := m.store.UpdateStatus(ctx, connectionID, status); err != nil {
		return err
	}

	m.invalidateStatus(conn.PartyA, conn.PartyB)
	logging.Info().
		Str("connection_id", connectionID).
		Str("user", userID).
		Str("status", string(status)).
		Msg("connection request resolved")
	return nil
}

// Cancel withdraws a pending request. Only the initiator may cancel, and
// only while the request is still pending; the record is removed entirely.
func (m *Manager) Cancel(ctx context.Context, connectionID, userID string) error {
	conn, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn.Status != models.StatusPending || conn.Initiator != userID {
		return ErrInvalidTransition
	}

	if err := m.store.Delete(ctx, connectionID); err != nil {
		return err
	}

	m.invalidateStatus(conn.PartyA, conn.PartyB)
	logging.Info().
		Str("connection_id", connectionID).
		Str("user", userID).
		Msg("connection request canceled")
	return nil
}

// Get retrieves a connection by ID.
func (m *Manager) Get(ctx context.Context, connectionID string) (*models.Connection, error) {
	return m.store.Get(ctx, connectionID)
}

// ListForUser returns every connection the user participates in.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*models.Connection, error) {
	return m.store.ListForUser(ctx, userID)
}

// StatusFor returns the user's connection status views. One bulk store read
// feeds every view, so rendering a contact list never degenerates into a
// per-contact lookup; results are cached until the TTL or a mutation.
func (m *Manager) StatusFor(ctx context.Context, userID string) ([]models.ConnectionStatusView, error) {
	if views, ok := m.status.Get(userID); ok {
		return views, nil
	}

	conns, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]models.ConnectionStatusView, 0, len(conns))
	for _, conn := range conns {
		views = append(views, models.ConnectionStatusView{
			ConnectionID: conn.ID,
			Status:       conn.Status,
			IsInitiator:  conn.Initiator == userID,
		})
	}

	m.status.Set(userID, views)
	return views, nil
}

// CanMessage reports whether the user may send messages over the
// connection: the connection must be accepted and involve the user.
func (m *Manager) CanMessage(ctx context.Context, connectionID, userID string) (bool, error) {
	conn, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return false, err
	}
	return conn.Status == models.StatusAccepted && conn.Involves(userID), nil
}

// Counterpart returns the other party on the connection.
func (m *Manager) Counterpart(ctx context.Context, connectionID, userID string) (string, error) {
	conn, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !conn.Involves(userID) {
		return "", fmt.Errorf("user %s is not a participant", userID)
	}
	return conn.Counterpart(userID), nil
}

func (m *Manager) invalidateStatus(users ...string) {
	for _, user := range users {
		m.status.Delete(user)
	}
}
