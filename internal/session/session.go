// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package session composes the per-user conversation machinery: the view
// synchronizer, read tracker, summary cache, and event-stream subscription
// share one lifecycle here. A session exists per connected user; the
// registry creates them on demand.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/subscription"
)

// Notifier delivers session updates to the user's connected clients. The
// websocket hub implements it; a nil notifier is valid for headless use.
type Notifier interface {
	ViewChanged(userID, connectionID string, view []models.Message)
	SendResolved(userID, connectionID, localID string, err error)
	SummariesInvalidated(userID string, connectionIDs []string)
}

// Config carries the session timing knobs.
type Config struct {
	MatchTolerance   time.Duration
	DebounceInterval time.Duration
	SummaryTTL       time.Duration
}

// Session is one user's live conversation state.
type Session struct {
	userID    string
	conns     *connection.Manager
	sync      *conversation.Synchronizer
	reads     *conversation.ReadTracker
	subs      *subscription.Manager
	summaries *conversation.SummaryCache
	notifier  Notifier
}

// New creates a session for userID.
func New(userID string, conns *connection.Manager, msgs store.MessageStore, attach subscription.AttachFunc, notifier Notifier, cfg Config) *Session {
	s := &Session{
		userID:   userID,
		conns:    conns,
		notifier: notifier,
	}
	s.summaries = conversation.NewSummaryCache(userID, msgs, cfg.SummaryTTL)
	s.reads = conversation.NewReadTracker(userID, msgs, cfg.DebounceInterval, s.summariesInvalidated)
	s.sync = conversation.NewSynchronizer(userID, msgs, conns, cfg.MatchTolerance, s)
	s.subs = subscription.NewManager(attach)
	return s
}

// UserID returns the session's user.
func (s *Session) UserID() string {
	return s.userID
}

// OpenConversation attaches the session to the event stream and seeds the
// view for connectionID. The user must participate in the connection.
// Opening marks the user's unread messages in the conversation as read.
func (s *Session) OpenConversation(ctx context.Context, connectionID string) error {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.Involves(s.userID) {
		// Non-participants learn nothing about the connection.
		return fmt.Errorf("connection %s: %w", connectionID, store.ErrNotFound)
	}
	if conn.Status != models.StatusAccepted {
		return fmt.Errorf("connection %s: %w", connectionID, conversation.ErrNotAccepted)
	}

	// Subscribe before seeding so no event falls between the two.
	s.subs.Attach(ctx, s.handleEvent)

	if err := s.sync.Open(ctx, connectionID); err != nil {
		return err
	}
	s.reads.ConversationOpened(ctx, connectionID)

	logging.Debug().
		Str("user", s.userID).
		Str("connection_id", connectionID).
		Msg("conversation opened")
	return nil
}

// CloseConversation detaches from the stream and drops the view.
func (s *Session) CloseConversation() {
	connID := s.sync.Conversation()
	if connID != "" {
		s.reads.ConversationClosed(connID)
	}
	s.subs.Detach()
	s.sync.Close()
}

// SendMessage sends content over the open conversation.
func (s *Session) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	return s.sync.Send(ctx, content)
}

// View returns a copy of the open conversation's message view.
func (s *Session) View() []models.Message {
	return s.sync.View()
}

// Conversation returns the open connection ID, or "".
func (s *Session) Conversation() string {
	return s.sync.Conversation()
}

// Summary returns the cached summary for a conversation.
func (s *Session) Summary(ctx context.Context, connectionID string) (*models.ConversationSummary, error) {
	return s.summaries.Summary(ctx, connectionID)
}

// ConnectionStatuses returns the user's connection status views.
func (s *Session) ConnectionStatuses(ctx context.Context) ([]models.ConnectionStatusView, error) {
	return s.conns.StatusFor(ctx, s.userID)
}

// SubscriptionState exposes the stream attachment state.
func (s *Session) SubscriptionState() subscription.State {
	return s.subs.State()
}

// Close releases every session resource.
func (s *Session) Close() {
	s.CloseConversation()
	s.reads.Stop()
	s.summaries.Close()
}

// handleEvent is the stream handler: the synchronizer reconciles the view,
// the read tracker propagates read state and stales summaries.
func (s *Session) handleEvent(event *stream.MessageEvent) {
	s.sync.ApplyEvent(event)
	s.reads.ObserveEvent(event)
}

// ViewChanged implements conversation.ViewListener.
func (s *Session) ViewChanged(connectionID string, view []models.Message) {
	if s.notifier != nil {
		s.notifier.ViewChanged(s.userID, connectionID, view)
	}
}

// SendResolved implements conversation.ViewListener.
func (s *Session) SendResolved(connectionID, localID string, err error) {
	if s.notifier != nil {
		s.notifier.SendResolved(s.userID, connectionID, localID, err)
	}
}

func (s *Session) summariesInvalidated(connectionIDs []string) {
	s.summaries.Invalidate(connectionIDs...)
	if s.notifier != nil {
		s.notifier.SummariesInvalidated(s.userID, connectionIDs)
	}
}
