// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/stream"
)

// fakeTransport records attaches and teardowns, optionally blocking each
// attach until released.
type fakeTransport struct {
	mu        sync.Mutex
	attaches  int
	teardowns int
	attachErr error
	gate      chan struct{} // when non-nil, attach waits on it
}

func (f *fakeTransport) attach(ctx context.Context, h stream.Handler) (Teardown, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.attaches++
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.teardowns++
		return nil
	}, nil
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches, f.teardowns
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, m.State())
}

func TestAttachLifecycle(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager(transport.attach)

	if m.State() != Detached {
		t.Fatalf("expected detached initially, got %s", m.State())
	}

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)

	attaches, teardowns := transport.counts()
	if attaches != 1 || teardowns != 0 {
		t.Errorf("expected 1 attach, 0 teardowns; got %d, %d", attaches, teardowns)
	}

	m.Detach()
	if m.State() != Detached {
		t.Errorf("expected detached after Detach, got %s", m.State())
	}
	_, teardowns = transport.counts()
	if teardowns != 1 {
		t.Errorf("expected 1 teardown, got %d", teardowns)
	}

	// Detach is idempotent.
	m.Detach()
	_, teardowns = transport.counts()
	if teardowns != 1 {
		t.Errorf("second Detach must not tear down again, got %d", teardowns)
	}
}

func TestReattachTearsDownPrevious(t *testing.T) {
	transport := &fakeTransport{}
	m := NewManager(transport.attach)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)

	attaches, teardowns := transport.counts()
	if attaches != 2 {
		t.Errorf("expected 2 attaches, got %d", attaches)
	}
	if teardowns != 1 {
		t.Errorf("expected the first handle torn down, got %d teardowns", teardowns)
	}
}

func TestLastWriterWinsOnOverlappingAttaches(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	m := NewManager(transport.attach)

	// Two attaches race; both resolve only after the gate opens.
	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	m.Attach(context.Background(), func(*stream.MessageEvent) {})

	if m.State() != Attaching {
		t.Fatalf("expected attaching, got %s", m.State())
	}

	close(transport.gate)
	waitState(t, m, Attached)

	// Exactly one handle survives; the superseded resolution is released.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		attaches, teardowns := transport.counts()
		if attaches == 2 && teardowns == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	attaches, teardowns := transport.counts()
	if attaches != 2 || teardowns != 1 {
		t.Errorf("expected 2 attaches and 1 teardown, got %d, %d", attaches, teardowns)
	}
}

func TestDetachDuringAttachDiscardsHandle(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	m := NewManager(transport.attach)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	m.Detach()
	close(transport.gate)

	// The late resolution must be torn down, never surfaced.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, teardowns := transport.counts(); teardowns == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, teardowns := transport.counts(); teardowns != 1 {
		t.Errorf("expected the stale handle torn down, got %d teardowns", teardowns)
	}
	if m.State() != Detached {
		t.Errorf("expected detached, got %s", m.State())
	}
}

func TestAttachFailureReturnsToDetached(t *testing.T) {
	transport := &fakeTransport{attachErr: errors.New("broker down")}
	m := NewManager(transport.attach)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Detached)
}

func TestTeardownErrorsSwallowed(t *testing.T) {
	var attached atomic.Bool
	attach := func(ctx context.Context, h stream.Handler) (Teardown, error) {
		attached.Store(true)
		return func() error { return errors.New("flaky teardown") }, nil
	}
	m := NewManager(attach)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)

	// A failing teardown must not prevent detach or a fresh attach.
	m.Detach()
	if m.State() != Detached {
		t.Errorf("expected detached despite teardown failure, got %s", m.State())
	}

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)
	if !attached.Load() {
		t.Error("expected re-attach to proceed")
	}
}

func TestBridgeSatisfiesAttachFunc(t *testing.T) {
	bus := stream.NewInProcessBus(nil)
	defer bus.Close()
	bridge := stream.NewBridge(bus)

	var attach AttachFunc = func(ctx context.Context, h stream.Handler) (Teardown, error) {
		return bridge.Attach(h), nil
	}
	m := NewManager(attach)

	m.Attach(context.Background(), func(*stream.MessageEvent) {})
	waitState(t, m, Attached)
	if bridge.HandlerCount() != 1 {
		t.Fatalf("expected 1 bridge handler, got %d", bridge.HandlerCount())
	}

	m.Detach()
	if bridge.HandlerCount() != 0 {
		t.Errorf("expected bridge handler released, got %d", bridge.HandlerCount())
	}
}
