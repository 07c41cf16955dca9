// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/subscription"
	"github.com/parleyhq/parley/internal/websocket"
)

// newTestServer wires the full single-process stack behind the router.
func newTestServer(t *testing.T) *httptest.Server {
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
	t.Cleanup(cancel)
	go bridge.Serve(ctx)

	hub := websocket.NewHub()
	go hub.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	msgs := store.NewEventedMessageStore(badgerStore.Messages(), stream.NewPublisher(bus))
	conns := connection.NewManager(badgerStore, 30*time.Second)
	t.Cleanup(conns.Close)

	attach := func(ctx context.Context, h stream.Handler) (subscription.Teardown, error) {
		return bridge.Attach(h), nil
	}
	registry := session.NewRegistry(conns, msgs, attach, hub, session.Config{
		MatchTolerance:   5 * time.Second,
		DebounceInterval: 20 * time.Millisecond,
		SummaryTTL:       time.Minute,
	})
	t.Cleanup(registry.Close)

	handler := NewHandler(registry, conns, hub, nil)
	server := httptest.NewServer(NewRouter(handler, RouterConfig{RateLimitPerMinute: 10000}))
	t.Cleanup(server.Close)
	return server
}

type apiResponse struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func doRequest(t *testing.T, server *httptest.Server, user, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, envelope
}

func createAcceptedConnection(t *testing.T, server *httptest.Server, from, to string) string {
	t.Helper()

	status, resp := doRequest(t, server, from, http.MethodPost, "/api/v1/connections",
		map[string]string{"target": to, "message": "hi"})
	if status != http.StatusCreated {
		t.Fatalf("create connection: status %d, error %+v", status, resp.Error)
	}
	var conn models.Connection
	if err := json.Unmarshal(resp.Data, &conn); err != nil {
		t.Fatalf("unmarshal connection: %v", err)
	}

	status, resp = doRequest(t, server, to, http.MethodPost,
		fmt.Sprintf("/api/v1/connections/%s/accept", conn.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("accept: status %d, error %+v", status, resp.Error)
	}
	return conn.ID
}

func TestIdentityRequired(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, "", http.MethodGet, "/api/v1/connections", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != "MISSING_IDENTITY" {
		t.Errorf("unexpected error: %+v", resp.Error)
	}

	// Health needs no identity.
	status, _ = doRequest(t, server, "", http.MethodGet, "/api/v1/health/live", nil)
	if status != http.StatusOK {
		t.Errorf("expected 200 for health, got %d", status)
	}
}

func TestConnectionLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, "alice", http.MethodPost, "/api/v1/connections",
		map[string]string{"target": "bob"})
	if status != http.StatusCreated {
		t.Fatalf("create: status %d, error %+v", status, resp.Error)
	}
	var conn models.Connection
	if err := json.Unmarshal(resp.Data, &conn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Duplicate request conflicts.
	status, resp = doRequest(t, server, "bob", http.MethodPost, "/api/v1/connections",
		map[string]string{"target": "alice"})
	if status != http.StatusConflict || resp.Error.Code != "DUPLICATE_REQUEST" {
		t.Errorf("expected DUPLICATE_REQUEST conflict, got %d %+v", status, resp.Error)
	}

	// The initiator cannot accept their own request.
	status, resp = doRequest(t, server, "alice", http.MethodPost,
		fmt.Sprintf("/api/v1/connections/%s/accept", conn.ID), nil)
	if status != http.StatusConflict || resp.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("expected INVALID_TRANSITION, got %d %+v", status, resp.Error)
	}

	status, _ = doRequest(t, server, "bob", http.MethodPost,
		fmt.Sprintf("/api/v1/connections/%s/accept", conn.ID), nil)
	if status != http.StatusOK {
		t.Fatalf("accept failed: %d", status)
	}

	// Status views for both parties.
	status, resp = doRequest(t, server, "alice", http.MethodGet, "/api/v1/connections/status", nil)
	if status != http.StatusOK {
		t.Fatalf("status views: %d", status)
	}
	var views []models.ConnectionStatusView
	if err := json.Unmarshal(resp.Data, &views); err != nil {
		t.Fatalf("unmarshal views: %v", err)
	}
	if len(views) != 1 || views[0].Status != models.StatusAccepted || !views[0].IsInitiator {
		t.Errorf("unexpected views: %+v", views)
	}

	// Unknown connection is a 404.
	status, resp = doRequest(t, server, "bob", http.MethodPost,
		"/api/v1/connections/missing/accept", nil)
	if status != http.StatusNotFound || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %d %+v", status, resp.Error)
	}
}

func TestMessagingOverHTTP(t *testing.T) {
	server := newTestServer(t)
	connID := createAcceptedConnection(t, server, "alice", "bob")

	status, resp := doRequest(t, server, "alice", http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/open", connID), nil)
	if status != http.StatusOK {
		t.Fatalf("open: status %d, error %+v", status, resp.Error)
	}

	status, resp = doRequest(t, server, "alice", http.MethodPost,
		"/api/v1/conversations/messages", map[string]string{"content": "hello"})
	if status != http.StatusAccepted {
		t.Fatalf("send: status %d, error %+v", status, resp.Error)
	}
	var local models.Message
	if err := json.Unmarshal(resp.Data, &local); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if !local.IsLocal() {
		t.Errorf("expected optimistic local entry, got id %q", local.ID)
	}

	// The view converges to the durable record.
	deadline := time.Now().Add(3 * time.Second)
	for {
		status, resp = doRequest(t, server, "alice", http.MethodGet, "/api/v1/conversations/view", nil)
		if status != http.StatusOK {
			t.Fatalf("view: status %d", status)
		}
		var payload struct {
			ConnectionID string           `json:"connection_id"`
			View         []models.Message `json:"view"`
		}
		if err := json.Unmarshal(resp.Data, &payload); err != nil {
			t.Fatalf("unmarshal view: %v", err)
		}
		if len(payload.View) == 1 && !payload.View[0].IsLocal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("view never converged: %+v", payload.View)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Summary for the other party shows the unread message.
	status, resp = doRequest(t, server, "bob", http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/summary", connID), nil)
	if status != http.StatusOK {
		t.Fatalf("summary: status %d", status)
	}
	var summary models.ConversationSummary
	if err := json.Unmarshal(resp.Data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.UnreadCount != 1 || summary.LatestMessage == nil {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// Close, then sending conflicts.
	status, _ = doRequest(t, server, "alice", http.MethodDelete, "/api/v1/conversations/", nil)
	if status != http.StatusOK {
		t.Fatalf("close: status %d", status)
	}
	status, resp = doRequest(t, server, "alice", http.MethodPost,
		"/api/v1/conversations/messages", map[string]string{"content": "late"})
	if status != http.StatusConflict || resp.Error.Code != "NO_CONVERSATION" {
		t.Errorf("expected NO_CONVERSATION, got %d %+v", status, resp.Error)
	}
}

func TestPendingConnectionBlocksConversation(t *testing.T) {
	server := newTestServer(t)

	status, resp := doRequest(t, server, "alice", http.MethodPost, "/api/v1/connections",
		map[string]string{"target": "bob"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d", status)
	}
	var conn models.Connection
	if err := json.Unmarshal(resp.Data, &conn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Messaging eligibility is derived from status; a pending connection
	// cannot be opened at all.
	status, resp = doRequest(t, server, "alice", http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/open", conn.ID), nil)
	if status != http.StatusForbidden || resp.Error.Code != "NOT_ACCEPTED" {
		t.Errorf("expected NOT_ACCEPTED on open, got %d %+v", status, resp.Error)
	}

	status, resp = doRequest(t, server, "alice", http.MethodPost,
		"/api/v1/conversations/messages", map[string]string{"content": "too soon"})
	if status != http.StatusConflict || resp.Error.Code != "NO_CONVERSATION" {
		t.Errorf("expected NO_CONVERSATION for send with nothing open, got %d %+v", status, resp.Error)
	}
}

func TestSendMessageValidation(t *testing.T) {
	server := newTestServer(t)
	connID := createAcceptedConnection(t, server, "alice", "bob")

	status, _ := doRequest(t, server, "alice", http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/open", connID), nil)
	if status != http.StatusOK {
		t.Fatalf("open: %d", status)
	}

	status, resp := doRequest(t, server, "alice", http.MethodPost,
		"/api/v1/conversations/messages", map[string]string{"content": ""})
	if status != http.StatusBadRequest || resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %d %+v", status, resp.Error)
	}
}
