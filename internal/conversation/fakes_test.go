// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
)

// fakeMessageStore is an in-memory MessageStore with hooks for failing or
// stalling creates.
type fakeMessageStore struct {
	mu   sync.Mutex
	msgs map[string]*models.Message

	createErr   error
	createBlock chan struct{} // when non-nil, Create waits until closed
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{msgs: make(map[string]*models.Message)}
}

func (f *fakeMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	block := f.createBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	durable := *msg
	durable.ID = uuid.New().String()
	now := time.Now().UTC()
	durable.CreatedAt = now
	durable.UpdatedAt = now
	f.msgs[durable.ID] = &durable
	out := durable
	return &out, nil
}

func (f *fakeMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *msg
	return &out, nil
}

func (f *fakeMessageStore) MarkRead(ctx context.Context, id string) (*models.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if msg.Read {
		out := *msg
		return &out, false, nil
	}
	msg.Read = true
	msg.UpdatedAt = time.Now().UTC()
	out := *msg
	return &out, true, nil
}

func (f *fakeMessageStore) MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var changed []*models.Message
	for _, msg := range f.msgs {
		if msg.ConnectionID == connectionID && msg.Receiver == receiverID && !msg.Read {
			msg.Read = true
			msg.UpdatedAt = time.Now().UTC()
			out := *msg
			changed = append(changed, &out)
		}
	}
	return changed, nil
}

func (f *fakeMessageStore) List(ctx context.Context, connectionID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var msgs []*models.Message
	for _, msg := range f.msgs {
		if msg.ConnectionID == connectionID {
			out := *msg
			msgs = append(msgs, &out)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (f *fakeMessageStore) Delete(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(f.msgs, id)
	out := *msg
	return &out, nil
}

// seed inserts a durable message directly.
func (f *fakeMessageStore) seed(connID, sender, receiver, content string, createdAt time.Time) *models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &models.Message{
		ID:           uuid.New().String(),
		ConnectionID: connID,
		Sender:       sender,
		Receiver:     receiver,
		Content:      content,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	f.msgs[msg.ID] = msg
	out := *msg
	return &out
}

var _ store.MessageStore = (*fakeMessageStore)(nil)

// fakeConnectionInfo answers messaging-permission checks from a fixed map.
type fakeConnectionInfo struct {
	mu       sync.Mutex
	accepted map[string]bool // connID -> accepted
	parties  map[string][2]string
}

func newFakeConnectionInfo() *fakeConnectionInfo {
	return &fakeConnectionInfo{
		accepted: make(map[string]bool),
		parties:  make(map[string][2]string),
	}
}

func (f *fakeConnectionInfo) add(connID, partyA, partyB string, accepted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted[connID] = accepted
	f.parties[connID] = [2]string{partyA, partyB}
}

func (f *fakeConnectionInfo) CanMessage(ctx context.Context, connectionID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parties, ok := f.parties[connectionID]
	if !ok {
		return false, store.ErrNotFound
	}
	involved := parties[0] == userID || parties[1] == userID
	return involved && f.accepted[connectionID], nil
}

func (f *fakeConnectionInfo) Counterpart(ctx context.Context, connectionID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parties, ok := f.parties[connectionID]
	if !ok {
		return "", store.ErrNotFound
	}
	if parties[0] == userID {
		return parties[1], nil
	}
	return parties[0], nil
}

// recordingListener captures view changes and send resolutions.
type recordingListener struct {
	views chan []models.Message
	sends chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		views: make(chan []models.Message, 64),
		sends: make(chan error, 16),
	}
}

func (l *recordingListener) ViewChanged(connectionID string, view []models.Message) {
	l.views <- view
}

func (l *recordingListener) SendResolved(connectionID, localID string, err error) {
	l.sends <- err
}
