// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
)

// Key prefixes for BadgerDB storage. Message primary keys embed the creation
// timestamp (zero-padded nanoseconds) so a prefix iteration yields the
// conversation in chronological order without sorting large result sets.
const (
	connKeyPrefix     = "conn:"
	connPairKeyPrefix = "connpair:"
	connUserKeyPrefix = "connuser:"
	msgKeyPrefix      = "msg:"
	msgIDKeyPrefix    = "msgid:"
)

// BadgerStore implements ConnectionStore and MessageStore on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// Options configures the BadgerDB backing store.
type Options struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory runs the store without persistence, for tests and dev.
	InMemory bool
}

// NewBadgerStore opens the database. Callers own Close.
func NewBadgerStore(opts Options) (*BadgerStore, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// DB exposes the underlying database for maintenance tasks.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Messages returns the MessageStore view of this database. The connection
// side is served by BadgerStore directly; message methods carry a Message
// suffix to avoid colliding with it, and this adapter restores the
// interface names.
func (s *BadgerStore) Messages() MessageStore {
	return badgerMessages{s}
}

type badgerMessages struct {
	s *BadgerStore
}

func (m badgerMessages) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return m.s.CreateMessage(ctx, msg)
}

func (m badgerMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	return m.s.GetMessage(ctx, id)
}

func (m badgerMessages) MarkRead(ctx context.Context, id string) (*models.Message, bool, error) {
	return m.s.MarkMessageRead(ctx, id)
}

func (m badgerMessages) MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error) {
	return m.s.MarkConversationRead(ctx, connectionID, receiverID)
}

func (m badgerMessages) List(ctx context.Context, connectionID string) ([]*models.Message, error) {
	return m.s.ListMessages(ctx, connectionID)
}

func (m badgerMessages) Delete(ctx context.Context, id string) (*models.Message, error) {
	return m.s.DeleteMessage(ctx, id)
}

var (
	_ ConnectionStore = (*BadgerStore)(nil)
	_ MessageStore    = badgerMessages{}
)

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func connKey(id string) []byte {
	return []byte(connKeyPrefix + id)
}

func connPairKey(pairKey string) []byte {
	return []byte(connPairKeyPrefix + pairKey)
}

func connUserKey(userID, connID string) []byte {
	return []byte(connUserKeyPrefix + userID + ":" + connID)
}

func msgKey(connectionID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", msgKeyPrefix, connectionID, createdAt.UnixNano(), id))
}

func msgIDKey(id string) []byte {
	return []byte(msgIDKeyPrefix + id)
}

// Create stores a new connection, enforcing one non-terminal connection per
// unordered pair.
func (s *BadgerStore) Create(ctx context.Context, conn *models.Connection) error {
	defer metrics.RecordStoreOp("connection_create", time.Now())

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}

	pairKey := connPairKey(conn.PairKey())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(pairKey)
		if err == nil {
			return ErrDuplicatePair
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check pair: %w", err)
		}

		if err := txn.Set(connKey(conn.ID), data); err != nil {
			return fmt.Errorf("set connection: %w", err)
		}
		if err := txn.Set(pairKey, []byte(conn.ID)); err != nil {
			return fmt.Errorf("set pair reservation: %w", err)
		}
		if err := txn.Set(connUserKey(conn.PartyA, conn.ID), []byte(conn.ID)); err != nil {
			return fmt.Errorf("set party index: %w", err)
		}
		if err := txn.Set(connUserKey(conn.PartyB, conn.ID), []byte(conn.ID)); err != nil {
			return fmt.Errorf("set party index: %w", err)
		}
		return nil
	})
}

// Get retrieves a connection by ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*models.Connection, error) {
	defer metrics.RecordStoreOp("connection_get", time.Now())

	var conn models.Connection
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(connKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get connection: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conn)
		})
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// UpdateStatus sets the connection's status. Moving to a terminal status
// releases the pair reservation so the parties can connect again later.
func (s *BadgerStore) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	defer metrics.RecordStoreOp("connection_update_status", time.Now())

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(connKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get connection: %w", err)
		}

		var conn models.Connection
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conn)
		}); err != nil {
			return fmt.Errorf("unmarshal connection: %w", err)
		}

		conn.Status = status
		data, err := json.Marshal(&conn)
		if err != nil {
			return fmt.Errorf("marshal connection: %w", err)
		}
		if err := txn.Set(connKey(id), data); err != nil {
			return fmt.Errorf("set connection: %w", err)
		}

		if conn.Terminal() {
			if err := txn.Delete(connPairKey(conn.PairKey())); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("release pair: %w", err)
			}
		}
		return nil
	})
}

// Delete removes a connection, its pair reservation, and its party indexes.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	defer metrics.RecordStoreOp("connection_delete", time.Now())

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(connKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get connection: %w", err)
		}

		var conn models.Connection
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conn)
		}); err != nil {
			return fmt.Errorf("unmarshal connection: %w", err)
		}

		if err := txn.Delete(connKey(id)); err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		if err := txn.Delete(connPairKey(conn.PairKey())); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("release pair: %w", err)
		}
		if err := txn.Delete(connUserKey(conn.PartyA, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete party index: %w", err)
		}
		if err := txn.Delete(connUserKey(conn.PartyB, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete party index: %w", err)
		}
		return nil
	})
}

// ListForUser returns every connection the user participates in, newest first.
func (s *BadgerStore) ListForUser(ctx context.Context, userID string) ([]*models.Connection, error) {
	defer metrics.RecordStoreOp("connection_list_user", time.Now())

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(connUserKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list user connections: %w", err)
	}

	conns := make([]*models.Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].CreatedAt.After(conns[j].CreatedAt)
	})
	return conns, nil
}

// CreateMessage persists a message under a fresh durable ID with server
// timestamps. The caller's optimistic local ID, if any, is discarded.
func (s *BadgerStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	defer metrics.RecordStoreOp("message_create", time.Now())

	durable := *msg
	durable.ID = uuid.New().String()
	now := time.Now().UTC()
	durable.CreatedAt = now
	durable.UpdatedAt = now

	data, err := json.Marshal(&durable)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	primary := msgKey(durable.ConnectionID, durable.CreatedAt, durable.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, data); err != nil {
			return fmt.Errorf("set message: %w", err)
		}
		if err := txn.Set(msgIDKey(durable.ID), primary); err != nil {
			return fmt.Errorf("set message index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &durable, nil
}

// GetMessage retrieves a message by its durable ID.
func (s *BadgerStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer metrics.RecordStoreOp("message_get", time.Now())

	var msg models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		primary, err := resolveMessageKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		})
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkMessageRead marks one message read. Already-read messages are left
// untouched and reported with changed=false.
func (s *BadgerStore) MarkMessageRead(ctx context.Context, id string) (*models.Message, bool, error) {
	defer metrics.RecordStoreOp("message_mark_read", time.Now())

	var (
		msg     models.Message
		changed bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		primary, err := resolveMessageKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}

		if msg.Read {
			return nil
		}
		msg.Read = true
		msg.UpdatedAt = time.Now().UTC()
		changed = true

		data, err := json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		return txn.Set(primary, data)
	})
	if err != nil {
		return nil, false, err
	}
	return &msg, changed, nil
}

// MarkConversationRead marks every unread message addressed to receiverID in
// the conversation as read, returning the changed records in creation order.
func (s *BadgerStore) MarkConversationRead(ctx context.Context, connectionID, receiverID string) ([]*models.Message, error) {
	defer metrics.RecordStoreOp("message_mark_conversation_read", time.Now())

	var changed []*models.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()
		prefix := []byte(msgKeyPrefix + connectionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var msg models.Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			if msg.Read || msg.Receiver != receiverID {
				continue
			}

			msg.Read = true
			msg.UpdatedAt = now
			data, err := json.Marshal(&msg)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			if err := txn.Set(item.KeyCopy(nil), data); err != nil {
				return fmt.Errorf("set message: %w", err)
			}

			record := msg
			changed = append(changed, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// ListMessages returns the conversation's messages in ascending creation
// order, which the key layout provides for free.
func (s *BadgerStore) ListMessages(ctx context.Context, connectionID string) ([]*models.Message, error) {
	defer metrics.RecordStoreOp("message_list", time.Now())

	var msgs []*models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(msgKeyPrefix + connectionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg models.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			record := msg
			msgs = append(msgs, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessage removes a message and returns the deleted record.
func (s *BadgerStore) DeleteMessage(ctx context.Context, id string) (*models.Message, error) {
	defer metrics.RecordStoreOp("message_delete", time.Now())

	var msg models.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		primary, err := resolveMessageKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}

		if err := txn.Delete(primary); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if err := txn.Delete(msgIDKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete message index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// resolveMessageKey maps a durable message ID to its primary key.
func resolveMessageKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(msgIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message key: %w", err)
	}
	return item.ValueCopy(nil)
}
