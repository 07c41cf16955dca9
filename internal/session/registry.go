// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package session

import (
	"sync"

	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/subscription"
)

// Registry hands out one session per user, creating them lazily.
type Registry struct {
	conns    *connection.Manager
	msgs     store.MessageStore
	attach   subscription.AttachFunc
	notifier Notifier
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry with shared dependencies.
func NewRegistry(conns *connection.Manager, msgs store.MessageStore, attach subscription.AttachFunc, notifier Notifier, cfg Config) *Registry {
	return &Registry{
		conns:    conns,
		msgs:     msgs,
		attach:   attach,
		notifier: notifier,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating it on first use.
func (r *Registry) Session(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := New(userID, r.conns, r.msgs, r.attach, r.notifier, r.cfg)
	r.sessions[userID] = s
	return s
}

// Remove closes and forgets the user's session.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Close releases every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
