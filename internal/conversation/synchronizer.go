// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package conversation keeps one user's open conversation view converged
// with the durable message store. Sends are optimistic: the message appears
// in the view immediately under a local ID, the durable write happens in
// the background, and the stream delivers the confirmed copy. Reconciliation
// matches streamed creates back to their optimistic entries so the sender
// never sees their own message twice.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
)

// DefaultMatchTolerance bounds the creation-time skew allowed when matching
// a streamed create to an outstanding optimistic entry.
const DefaultMatchTolerance = 5 * time.Second

// ConnectionInfo answers the messaging-permission questions the
// synchronizer gates sends on. connection.Manager implements it.
type ConnectionInfo interface {
	CanMessage(ctx context.Context, connectionID, userID string) (bool, error)
	Counterpart(ctx context.Context, connectionID, userID string) (string, error)
}

// ViewListener observes view changes and send outcomes. Both callbacks run
// outside the synchronizer's lock; the view slice is a private copy.
type ViewListener interface {
	ViewChanged(connectionID string, view []models.Message)
	SendResolved(connectionID, localID string, err error)
}

// Synchronizer maintains the message view for one user's open conversation.
// All methods are safe for concurrent use; stream events and send
// completions may arrive on any goroutine.
type Synchronizer struct {
	userID    string
	store     store.MessageStore
	conns     ConnectionInfo
	tolerance time.Duration
	listener  ViewListener

	mu         sync.Mutex
	connID     string
	generation uint64
	view       []models.Message
	optimistic map[string]struct{}
}

// NewSynchronizer creates a synchronizer for userID. listener may be nil.
// A non-positive tolerance falls back to DefaultMatchTolerance.
func NewSynchronizer(userID string, msgStore store.MessageStore, conns ConnectionInfo, tolerance time.Duration, listener ViewListener) *Synchronizer {
	if tolerance <= 0 {
		tolerance = DefaultMatchTolerance
	}
	return &Synchronizer{
		userID:     userID,
		store:      msgStore,
		conns:      conns,
		tolerance:  tolerance,
		listener:   listener,
		optimistic: make(map[string]struct{}),
	}
}

// Open switches the synchronizer to connectionID and seeds the view from
// the store. Events that raced in while the seed was loading are merged,
// not lost. Returns ErrSuperseded when another Open or Close happened
// before the seed completed.
func (s *Synchronizer) Open(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.connID = connectionID
	s.view = nil
	s.optimistic = make(map[string]struct{})
	s.mu.Unlock()

	msgs, err := s.store.List(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("seed conversation %s: %w", connectionID, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrSuperseded
	}

	seeded := make([]models.Message, 0, len(msgs)+len(s.view))
	present := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		seeded = append(seeded, *msg)
		present[msg.ID] = struct{}{}
	}
	// Stream events applied while the seed was in flight.
	for _, msg := range s.view {
		if _, ok := present[msg.ID]; !ok {
			seeded = append(seeded, msg)
		}
	}
	s.view = seeded
	s.sortViewLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyView(connectionID, snapshot)
	return nil
}

// Close detaches from the open conversation. Pending send completions and
// late stream events for it are discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.generation++
	s.connID = ""
	s.view = nil
	s.optimistic = make(map[string]struct{})
	s.mu.Unlock()
}

// Conversation returns the open connection ID, or "" when detached.
func (s *Synchronizer) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// View returns a copy of the current message view in ascending creation
// order.
func (s *Synchronizer) View() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send appends an optimistic message to the view and persists it in the
// background. The returned message carries the local ID the entry is
// tracked under. A connection that does not permit messaging fails with
// ErrNotAccepted before anything is appended or persisted.
func (s *Synchronizer) Send(ctx context.Context, content string) (*models.Message, error) {
	s.mu.Lock()
	connID := s.connID
	gen := s.generation
	s.mu.Unlock()

	if connID == "" {
		return nil, ErrNoConversation
	}

	ok, err := s.conns.CanMessage(ctx, connID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("check connection %s: %w", connID, err)
	}
	if !ok {
		return nil, ErrNotAccepted
	}
	receiver, err := s.conns.Counterpart(ctx, connID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("resolve counterpart: %w", err)
	}

	local := models.NewLocalMessage(connID, s.userID, receiver, content)
	if verr := local.Validate(); verr != nil {
		return nil, verr
	}

	s.mu.Lock()
	if s.generation != gen || s.connID != connID {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.view = append(s.view, *local)
	s.sortViewLocked()
	s.optimistic[local.ID] = struct{}{}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyView(connID, snapshot)

	// The durable write must outlive the caller's request context.
	go s.persist(context.WithoutCancel(ctx), gen, connID, local)

	return local, nil
}

// persist performs the durable create for one optimistic entry and settles
// the view when it completes.
func (s *Synchronizer) persist(ctx context.Context, gen uint64, connID string, local *models.Message) {
	_, err := s.store.Create(ctx, local)

	s.mu.Lock()
	if s.generation != gen || s.connID != connID {
		// The conversation moved on; nothing to settle.
		s.mu.Unlock()
		return
	}

	if _, outstanding := s.optimistic[local.ID]; !outstanding {
		// Already matched by the streamed create.
		s.mu.Unlock()
		if err == nil {
			s.notifySend(connID, local.ID, nil)
		}
		return
	}

	delete(s.optimistic, local.ID)
	s.removeLocked(local.ID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		metrics.OptimisticRollbacks.Inc()
		logging.Warn().Err(err).
			Str("connection_id", connID).
			Str("local_id", local.ID).
			Msg("optimistic send rolled back")
		s.notifyView(connID, snapshot)
		s.notifySend(connID, local.ID, fmt.Errorf("%w: %v", ErrSendFailed, err))
		return
	}

	// Success: the durable copy arrives over the stream; dropping the
	// optimistic entry here keeps a single code path for view inserts.
	s.notifyView(connID, snapshot)
	s.notifySend(connID, local.ID, nil)
}

// ApplyEvent reconciles one stream event into the view. Events for other
// conversations or other participants are ignored; re-delivered events are
// idempotent.
func (s *Synchronizer) ApplyEvent(event *stream.MessageEvent) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	if s.connID == "" || event.Record.ConnectionID != s.connID || !event.Record.Involves(s.userID) {
		s.mu.Unlock()
		metrics.EventsIgnoredStale.Inc()
		return
	}

	var mutated bool
	switch event.Action {
	case stream.ActionCreate:
		mutated = s.applyCreateLocked(&event.Record)
	case stream.ActionUpdate:
		mutated = s.replaceLocked(&event.Record)
	case stream.ActionDelete:
		mutated = s.removeLocked(event.Record.ID)
	}

	if !mutated {
		s.mu.Unlock()
		return
	}

	s.sortViewLocked()
	connID := s.connID
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.RecordEventApplied(string(event.Action))
	s.notifyView(connID, snapshot)
}

// applyCreateLocked inserts a streamed create, first trying to claim an
// outstanding optimistic entry from the same sender with identical content
// created within the match tolerance.
func (s *Synchronizer) applyCreateLocked(record *models.Message) bool {
	for _, msg := range s.view {
		if msg.ID == record.ID {
			metrics.EventsIgnoredDuplicate.Inc()
			return false
		}
	}

	for i := range s.view {
		msg := &s.view[i]
		if !msg.IsLocal() {
			continue
		}
		if _, outstanding := s.optimistic[msg.ID]; !outstanding {
			continue
		}
		if msg.Sender != record.Sender || msg.Content != record.Content {
			continue
		}
		if absDuration(record.CreatedAt.Sub(msg.CreatedAt)) > s.tolerance {
			continue
		}

		delete(s.optimistic, msg.ID)
		s.view[i] = *record
		metrics.OptimisticMatches.Inc()
		return true
	}

	s.view = append(s.view, *record)
	return true
}

// replaceLocked swaps the record with the same ID. Updates for records not
// in the view are no-ops, not errors.
func (s *Synchronizer) replaceLocked(record *models.Message) bool {
	for i := range s.view {
		if s.view[i].ID == record.ID {
			s.view[i] = *record
			return true
		}
	}
	return false
}

// removeLocked drops the record with the given ID if present.
func (s *Synchronizer) removeLocked(id string) bool {
	for i := range s.view {
		if s.view[i].ID == id {
			s.view = append(s.view[:i], s.view[i+1:]...)
			return true
		}
	}
	return false
}

// sortViewLocked keeps the view in ascending creation order. The sort is
// stable so same-timestamp entries keep their arrival order.
func (s *Synchronizer) sortViewLocked() {
	sort.SliceStable(s.view, func(i, j int) bool {
		return s.view[i].CreatedAt.Before(s.view[j].CreatedAt)
	})
}

func (s *Synchronizer) snapshotLocked() []models.Message {
	snapshot := make([]models.Message, len(s.view))
	copy(snapshot, s.view)
	return snapshot
}

func (s *Synchronizer) notifyView(connID string, view []models.Message) {
	if s.listener != nil {
		s.listener.ViewChanged(connID, view)
	}
}

func (s *Synchronizer) notifySend(connID, localID string, err error) {
	if s.listener != nil {
		s.listener.SendResolved(connID, localID, err)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
