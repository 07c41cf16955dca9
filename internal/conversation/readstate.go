// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
)

// DefaultDebounceInterval is the quiet period before coalesced summary
// invalidations fire.
const DefaultDebounceInterval = 500 * time.Millisecond

// ReadTracker propagates read state for one user. Opening a conversation
// bulk-marks the user's unread messages; messages arriving while the
// conversation stays open are marked individually. Read marks never clear:
// the flag is monotonic. Summary invalidations ride a debouncer so event
// bursts collapse into a single recomputation per conversation.
type ReadTracker struct {
	userID    string
	store     store.MessageStore
	debouncer *Debouncer

	mu       sync.Mutex
	openConn string
}

// NewReadTracker creates a tracker for userID. onInvalidate receives the
// debounced set of conversations whose summaries went stale; it may be nil.
// A non-positive interval falls back to DefaultDebounceInterval.
func NewReadTracker(userID string, msgStore store.MessageStore, interval time.Duration, onInvalidate func(connectionIDs []string)) *ReadTracker {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	if onInvalidate == nil {
		onInvalidate = func([]string) {}
	}
	return &ReadTracker{
		userID:    userID,
		store:     msgStore,
		debouncer: NewDebouncer(interval, onInvalidate),
	}
}

// ConversationOpened records the open conversation and bulk-marks the
// user's unread messages in it. The store write runs in the background;
// read marks are best-effort and retried implicitly on the next open.
func (t *ReadTracker) ConversationOpened(ctx context.Context, connectionID string) {
	t.mu.Lock()
	t.openConn = connectionID
	t.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		changed, err := t.store.MarkConversationRead(bg, connectionID, t.userID)
		if err != nil {
			logging.Warn().Err(err).
				Str("connection_id", connectionID).
				Msg("bulk mark-read failed")
			return
		}
		if len(changed) > 0 {
			metrics.RecordMarkRead("conversation")
		}
	}()

	t.debouncer.Trigger(connectionID)
}

// ConversationClosed clears the open conversation if it is still the given
// one.
func (t *ReadTracker) ConversationClosed(connectionID string) {
	t.mu.Lock()
	if t.openConn == connectionID {
		t.openConn = ""
	}
	t.mu.Unlock()
}

// ObserveEvent reacts to one stream event: any event for a conversation
// the user participates in stales its summary, and an unread create
// addressed to the user in the open conversation is marked read
// immediately since the user is looking at it.
func (t *ReadTracker) ObserveEvent(event *stream.MessageEvent) {
	if !event.Record.Involves(t.userID) {
		return
	}

	t.debouncer.Trigger(event.Record.ConnectionID)

	if event.Action != stream.ActionCreate || event.Record.Read {
		return
	}
	if event.Record.Receiver != t.userID {
		return
	}

	t.mu.Lock()
	open := t.openConn == event.Record.ConnectionID
	t.mu.Unlock()
	if !open {
		return
	}

	id := event.Record.ID
	go func() {
		_, changed, err := t.store.MarkRead(context.Background(), id)
		if err != nil {
			logging.Warn().Err(err).
				Str("message_id", id).
				Msg("mark-read failed")
			return
		}
		if changed {
			metrics.RecordMarkRead("message")
		}
	}()
}

// Flush fires any pending summary invalidations immediately.
func (t *ReadTracker) Flush() {
	t.debouncer.Flush()
}

// Stop cancels the debouncer.
func (t *ReadTracker) Stop() {
	t.debouncer.Stop()
}
