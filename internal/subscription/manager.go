// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package subscription manages one session's attachment to the message
// event stream. Attachment is asynchronous; when attach requests overlap,
// the last one wins and every superseded handle is torn down as soon as it
// resolves, so at most one live subscription exists per session.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/stream"
)

// ErrAttachFailed wraps a transport-level subscribe failure.
var ErrAttachFailed = fmt.Errorf("subscription attach failed")

// State is the subscription lifecycle state.
type State int

const (
	// Detached means no subscription exists and none is being set up.
	Detached State = iota
	// Attaching means an attach is resolving in the background.
	Attaching
	// Attached means a live subscription is delivering events.
	Attached
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	default:
		return "unknown"
	}
}

// Teardown releases one subscription handle.
type Teardown = func() error

// AttachFunc establishes a subscription delivering events to the handler
// and returns its teardown. stream.Bridge.Attach satisfies it trivially;
// remote transports may block.
type AttachFunc func(ctx context.Context, h stream.Handler) (Teardown, error)

// Manager serializes attach and detach for one session. All methods are
// safe for concurrent use.
type Manager struct {
	attach AttachFunc

	mu         sync.Mutex
	state      State
	generation uint64
	teardown   Teardown
}

// NewManager creates a detached manager.
func NewManager(attach AttachFunc) *Manager {
	return &Manager{attach: attach}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attach tears down any existing subscription synchronously, then attaches
// the handler in the background. If several attaches overlap, the newest
// wins; handles resolved for superseded attaches are torn down immediately.
// Teardown failures are logged and swallowed: a handle we cannot release
// cleanly must not wedge the session.
func (m *Manager) Attach(ctx context.Context, h stream.Handler) {
	m.mu.Lock()
	old := m.teardown
	m.teardown = nil
	m.generation++
	gen := m.generation
	m.state = Attaching
	m.mu.Unlock()

	m.release(old)

	go func() {
		teardown, err := m.attach(ctx, h)

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			metrics.SubscriptionAttaches.WithLabelValues("superseded").Inc()
			if teardown != nil {
				m.release(teardown)
			}
			return
		}

		if err != nil {
			m.state = Detached
			m.mu.Unlock()
			metrics.SubscriptionAttaches.WithLabelValues("failed").Inc()
			logging.Error().Err(err).Msg("event stream attach failed")
			return
		}

		m.teardown = teardown
		m.state = Attached
		m.mu.Unlock()
		metrics.SubscriptionAttaches.WithLabelValues("attached").Inc()
	}()
}

// Detach releases the live subscription, if any, and cancels any in-flight
// attach. It is idempotent.
func (m *Manager) Detach() {
	m.mu.Lock()
	old := m.teardown
	m.teardown = nil
	m.generation++
	m.state = Detached
	m.mu.Unlock()

	m.release(old)
}

func (m *Manager) release(teardown Teardown) {
	if teardown == nil {
		return
	}
	if err := teardown(); err != nil {
		logging.Warn().Err(err).Msg("subscription teardown failed")
	}
}
