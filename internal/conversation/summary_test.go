// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import (
	"context"
	"testing"
	"time"
)

func TestSummaryComputation(t *testing.T) {
	msgs := newFakeMessageStore()
	base := time.Now().UTC()
	msgs.seed("conn-1", "bob", "alice", "one", base)
	msgs.seed("conn-1", "bob", "alice", "two", base.Add(time.Second))
	msgs.seed("conn-1", "alice", "bob", "latest", base.Add(2*time.Second))

	sc := NewSummaryCache("alice", msgs, time.Minute)
	defer sc.Close()

	summary, err := sc.Summary(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if summary.UnreadCount != 2 {
		t.Errorf("expected 2 unread, got %d", summary.UnreadCount)
	}
	if summary.LatestMessage == nil || summary.LatestMessage.Content != "latest" {
		t.Errorf("unexpected latest message: %+v", summary.LatestMessage)
	}
}

func TestSummaryEmptyConversation(t *testing.T) {
	msgs := newFakeMessageStore()
	sc := NewSummaryCache("alice", msgs, time.Minute)
	defer sc.Close()

	summary, err := sc.Summary(context.Background(), "conn-empty")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if summary.UnreadCount != 0 || summary.LatestMessage != nil {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestSummaryCachedUntilInvalidated(t *testing.T) {
	msgs := newFakeMessageStore()
	base := time.Now().UTC()
	msgs.seed("conn-1", "bob", "alice", "one", base)

	sc := NewSummaryCache("alice", msgs, time.Minute)
	defer sc.Close()

	first, err := sc.Summary(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if first.UnreadCount != 1 {
		t.Fatalf("expected 1 unread, got %d", first.UnreadCount)
	}

	// New message lands; the cached summary is still served.
	msgs.seed("conn-1", "bob", "alice", "two", base.Add(time.Second))
	cached, err := sc.Summary(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if cached.UnreadCount != 1 {
		t.Errorf("expected stale cached count 1, got %d", cached.UnreadCount)
	}

	sc.Invalidate("conn-1")
	fresh, err := sc.Summary(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if fresh.UnreadCount != 2 {
		t.Errorf("expected recomputed count 2, got %d", fresh.UnreadCount)
	}
}
