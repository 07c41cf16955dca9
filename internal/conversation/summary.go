// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import (
	"context"
	"time"

	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
)

// SummaryCache serves one user's conversation summaries (latest message,
// unread count) from a TTL cache. The read tracker invalidates entries
// through the debouncer, so a burst of events costs one recomputation.
type SummaryCache struct {
	userID string
	store  store.MessageStore
	cache  *cache.Cache[*models.ConversationSummary]
}

// NewSummaryCache creates a summary cache for userID.
func NewSummaryCache(userID string, msgStore store.MessageStore, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{
		userID: userID,
		store:  msgStore,
		cache:  cache.New[*models.ConversationSummary](ttl),
	}
}

// Summary returns the conversation's summary, computing it from the store
// on a cache miss.
func (c *SummaryCache) Summary(ctx context.Context, connectionID string) (*models.ConversationSummary, error) {
	if summary, ok := c.cache.Get(connectionID); ok {
		return summary, nil
	}

	msgs, err := c.store.List(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	summary := &models.ConversationSummary{
		ConnectionID: connectionID,
		ComputedAt:   time.Now().UTC(),
	}
	for _, msg := range msgs {
		if msg.Receiver == c.userID && !msg.Read {
			summary.UnreadCount++
		}
	}
	if len(msgs) > 0 {
		latest := *msgs[len(msgs)-1]
		summary.LatestMessage = &latest
	}

	c.cache.Set(connectionID, summary)
	return summary, nil
}

// Invalidate drops the cached summaries for the given conversations.
func (c *SummaryCache) Invalidate(connectionIDs ...string) {
	for _, id := range connectionIDs {
		c.cache.Delete(id)
		metrics.SummaryInvalidations.Inc()
	}
}

// Stats returns cache counters for observability endpoints.
func (c *SummaryCache) Stats() cache.Stats {
	return c.cache.GetStats()
}

// Close releases the cache.
func (c *SummaryCache) Close() {
	c.cache.Stop()
}
