// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/parleyhq/parley/internal/logging"
)

// GCService periodically runs Badger value-log garbage collection.
// It implements suture.Service and runs under the data supervisor.
type GCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewGCService creates a GC service. A non-positive interval defaults to
// ten minutes.
func NewGCService(db *badger.DB, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{db: db, interval: interval}
}

// Serve runs GC cycles until the context is canceled.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.runOnce()
		}
	}
}

// runOnce reclaims value-log space. ErrNoRewrite means nothing qualified,
// which is the common case.
func (g *GCService) runOnce() {
	for {
		err := g.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			logging.Warn().Err(err).Msg("badger value log GC failed")
			return
		}
		logging.Debug().Msg("badger value log GC reclaimed space")
	}
}

func (g *GCService) String() string {
	return "store-gc"
}
