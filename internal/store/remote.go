// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/models"
)

// RemoteConfig configures the HTTP message store client.
type RemoteConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerMaxFails   uint32
	BreakerOpenFor    time.Duration
}

// RemoteMessageStore is a MessageStore backed by a remote Parley-compatible
// message service over HTTP. Requests are paced by a token bucket and guarded
// by a circuit breaker so a degraded upstream fails fast instead of piling up
// blocked sends.
type RemoteMessageStore struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewRemoteMessageStore creates a remote store client.
func NewRemoteMessageStore(cfg RemoteConfig) (*RemoteMessageStore, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote store base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	maxFails := cfg.BreakerMaxFails
	if maxFails == 0 {
		maxFails = 5
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "remote-message-store",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("remote store circuit breaker state change")
		},
	})

	return &RemoteMessageStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
	}, nil
}

// do sends one request through the limiter and breaker, decoding the JSON
// response body into out when out is non-nil.
func (r *RemoteMessageStore) do(ctx context.Context, method, path string, body, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.breaker.Execute(func() (*http.Response, error) {
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		// 5xx counts against the breaker; 4xx is the caller's problem.
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("remote store returned %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Create persists the message remotely and returns the durable copy.
func (r *RemoteMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var durable models.Message
	if err := r.do(ctx, http.MethodPost, "/api/v1/messages", msg, &durable); err != nil {
		return nil, err
	}
	return &durable, nil
}

// Get retrieves a message by ID.
func (r *RemoteMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := r.do(ctx, http.MethodGet, "/api/v1/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type markReadResponse struct {
	Message models.Message `json:"message"`
	Changed bool           `json:"changed"`
}

// MarkRead marks one message read.
func (r *RemoteMessageStore) MarkRead(ctx context.Context, id string) (*models.Message, bool, error) {
	var out markReadResponse
	if err := r.do(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(id)+"/read", nil, &out); err != nil {
		return nil, false, err
	}
	return &out.Message, out.Changed, nil
}

// MarkConversationRead bulk-marks the receiver's unread messages.
func (r *RemoteMessageStore) MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error) {
	path := fmt.Sprintf("/api/v1/conversations/%s/read?receiver=%s",
		url.PathEscape(connectionID), url.QueryEscape(receiverID))
	var changed []*models.Message
	if err := r.do(ctx, http.MethodPost, path, nil, &changed); err != nil {
		return nil, err
	}
	return changed, nil
}

// List returns the conversation's messages in ascending creation order.
func (r *RemoteMessageStore) List(ctx context.Context, connectionID string) ([]*models.Message, error) {
	var msgs []*models.Message
	path := "/api/v1/conversations/" + url.PathEscape(connectionID) + "/messages"
	if err := r.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Delete removes a message, returning the deleted record.
func (r *RemoteMessageStore) Delete(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := r.do(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

var _ MessageStore = (*RemoteMessageStore)(nil)
