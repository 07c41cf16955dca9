// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/subscription"
)

// testNotifier records notifications per user.
type testNotifier struct {
	mu           sync.Mutex
	views        map[string][][]models.Message
	invalidated  map[string][][]string
	sendFailures []error
}

func newTestNotifier() *testNotifier {
	return &testNotifier{
		views:       make(map[string][][]models.Message),
		invalidated: make(map[string][][]string),
	}
}

func (n *testNotifier) ViewChanged(userID, connectionID string, view []models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views[userID] = append(n.views[userID], view)
}

func (n *testNotifier) SendResolved(userID, connectionID, localID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.sendFailures = append(n.sendFailures, err)
	}
}

func (n *testNotifier) SummariesInvalidated(userID string, connectionIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invalidated[userID] = append(n.invalidated[userID], connectionIDs)
}

func (n *testNotifier) invalidations(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.invalidated[userID])
}

type testEnv struct {
	registry *Registry
	conns    *connection.Manager
	notifier *testNotifier
	cancel   context.CancelFunc
}

// newTestEnv wires the full single-process stack: in-memory Badger, the
// GoChannel bus, the bridge, and an evented message store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	badgerStore, err := store.NewBadgerStore(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerStore() error: %v", err)
	}
	t.Cleanup(func() { badgerStore.Close() })

	bus := stream.NewInProcessBus(nil)
	t.Cleanup(func() { bus.Close() })

	bridge := stream.NewBridge(bus)
	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	publisher := stream.NewPublisher(bus)
	msgs := store.NewEventedMessageStore(badgerStore.Messages(), publisher)

	conns := connection.NewManager(badgerStore, 30*time.Second)
	t.Cleanup(conns.Close)

	notifier := newTestNotifier()
	attach := func(ctx context.Context, h stream.Handler) (subscription.Teardown, error) {
		return bridge.Attach(h), nil
	}
	registry := NewRegistry(conns, msgs, attach, notifier, Config{
		MatchTolerance:   5 * time.Second,
		DebounceInterval: 20 * time.Millisecond,
		SummaryTTL:       time.Minute,
	})
	t.Cleanup(registry.Close)
	t.Cleanup(cancel)

	return &testEnv{registry: registry, conns: conns, notifier: notifier, cancel: cancel}
}

func (e *testEnv) connect(t *testing.T, from, to string) *models.Connection {
	t.Helper()
	conn, err := e.conns.SendRequest(context.Background(), &models.Connection{
		PartyA: from,
		PartyB: to,
	})
	if err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}
	if err := e.conns.Accept(context.Background(), conn.ID, to); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	return conn
}

func waitView(t *testing.T, s *Session, cond func([]models.Message) bool) []models.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		view := s.View()
		if cond(view) {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("view never converged, last: %+v", s.View())
	return nil
}

func TestMessageFlowsBetweenSessions(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "alice", "bob")
	ctx := context.Background()

	alice := env.registry.Session("alice")
	bob := env.registry.Session("bob")

	if err := alice.OpenConversation(ctx, conn.ID); err != nil {
		t.Fatalf("alice open error: %v", err)
	}
	if err := bob.OpenConversation(ctx, conn.ID); err != nil {
		t.Fatalf("bob open error: %v", err)
	}

	if _, err := alice.SendMessage(ctx, "hello bob"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	// Bob receives the durable copy over the stream.
	bobView := waitView(t, bob, func(view []models.Message) bool {
		return len(view) == 1 && view[0].Content == "hello bob"
	})
	if bobView[0].IsLocal() {
		t.Errorf("bob must only ever see durable records, got %q", bobView[0].ID)
	}

	// Alice converges to exactly one durable copy: the optimistic entry is
	// gone, the streamed record replaced it.
	aliceView := waitView(t, alice, func(view []models.Message) bool {
		return len(view) == 1 && !view[0].IsLocal()
	})
	if aliceView[0].Content != "hello bob" {
		t.Errorf("unexpected content: %q", aliceView[0].Content)
	}

	// Bob has the conversation open, so the message is marked read and the
	// update event flows back to alice.
	waitView(t, alice, func(view []models.Message) bool {
		return len(view) == 1 && view[0].Read
	})
}

func TestSessionIsolation(t *testing.T) {
	env := newTestEnv(t)
	abConn := env.connect(t, "alice", "bob")
	acConn := env.connect(t, "alice", "carol")
	ctx := context.Background()

	alice := env.registry.Session("alice")
	bob := env.registry.Session("bob")
	carol := env.registry.Session("carol")

	if err := alice.OpenConversation(ctx, abConn.ID); err != nil {
		t.Fatalf("alice open error: %v", err)
	}
	if err := bob.OpenConversation(ctx, abConn.ID); err != nil {
		t.Fatalf("bob open error: %v", err)
	}
	if err := carol.OpenConversation(ctx, acConn.ID); err != nil {
		t.Fatalf("carol open error: %v", err)
	}

	if _, err := alice.SendMessage(ctx, "for bob only"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	waitView(t, bob, func(view []models.Message) bool {
		return len(view) == 1
	})

	time.Sleep(100 * time.Millisecond)
	if view := carol.View(); len(view) != 0 {
		t.Errorf("carol's view must stay empty, got %+v", view)
	}
}

func TestOpenSwitchesConversation(t *testing.T) {
	env := newTestEnv(t)
	abConn := env.connect(t, "alice", "bob")
	acConn := env.connect(t, "alice", "carol")
	ctx := context.Background()

	bob := env.registry.Session("bob")
	if err := bob.OpenConversation(ctx, abConn.ID); err != nil {
		t.Fatalf("open error: %v", err)
	}

	alice := env.registry.Session("alice")
	if err := alice.OpenConversation(ctx, abConn.ID); err != nil {
		t.Fatalf("open ab error: %v", err)
	}
	if _, err := alice.SendMessage(ctx, "to bob"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	waitView(t, bob, func(view []models.Message) bool { return len(view) == 1 })

	// Switching conversations drops the old view entirely.
	if err := alice.OpenConversation(ctx, acConn.ID); err != nil {
		t.Fatalf("open ac error: %v", err)
	}
	if alice.Conversation() != acConn.ID {
		t.Fatalf("expected %s open, got %s", acConn.ID, alice.Conversation())
	}
	if view := alice.View(); len(view) != 0 {
		t.Errorf("expected empty view for fresh conversation, got %+v", view)
	}
}

func TestNonParticipantCannotOpen(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "alice", "bob")

	mallory := env.registry.Session("mallory")
	if err := mallory.OpenConversation(context.Background(), conn.ID); err == nil {
		t.Error("expected open to fail for non-participant")
	}
	if err := mallory.OpenConversation(context.Background(), "missing"); err == nil {
		t.Error("expected open to fail for unknown connection")
	}
}

func TestPendingConnectionCannotOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conn, err := env.conns.SendRequest(ctx, &models.Connection{PartyA: "alice", PartyB: "bob"})
	if err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}

	alice := env.registry.Session("alice")
	if err := alice.OpenConversation(ctx, conn.ID); !errors.Is(err, conversation.ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted opening a pending conversation, got %v", err)
	}
	if got := alice.Conversation(); got != "" {
		t.Errorf("expected no open conversation after rejected open, got %q", got)
	}

	if err := env.conns.Reject(ctx, conn.ID, "bob"); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if err := alice.OpenConversation(ctx, conn.ID); !errors.Is(err, conversation.ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted opening a rejected conversation, got %v", err)
	}
}

func TestSummariesInvalidatedOnTraffic(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "alice", "bob")
	ctx := context.Background()

	alice := env.registry.Session("alice")
	bob := env.registry.Session("bob")
	if err := alice.OpenConversation(ctx, conn.ID); err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := bob.OpenConversation(ctx, conn.ID); err != nil {
		t.Fatalf("open error: %v", err)
	}

	if _, err := alice.SendMessage(ctx, "ping"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if env.notifier.invalidations("bob") > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if env.notifier.invalidations("bob") == 0 {
		t.Fatal("expected bob's summaries to be invalidated")
	}

	summary, err := bob.Summary(ctx, conn.ID)
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if summary.LatestMessage == nil || summary.LatestMessage.Content != "ping" {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestCloseConversationDetaches(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "alice", "bob")
	ctx := context.Background()

	alice := env.registry.Session("alice")
	if err := alice.OpenConversation(ctx, conn.ID); err != nil {
		t.Fatalf("open error: %v", err)
	}
	alice.CloseConversation()

	if alice.Conversation() != "" {
		t.Errorf("expected no open conversation, got %q", alice.Conversation())
	}
	if state := alice.SubscriptionState(); state != subscription.Detached {
		t.Errorf("expected detached subscription, got %s", state)
	}
}

func TestRegistryReusesSessions(t *testing.T) {
	env := newTestEnv(t)

	first := env.registry.Session("alice")
	second := env.registry.Session("alice")
	if first != second {
		t.Error("expected the same session instance per user")
	}

	env.registry.Remove("alice")
	third := env.registry.Session("alice")
	if third == first {
		t.Error("expected a fresh session after removal")
	}
}
