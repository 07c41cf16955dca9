// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package metrics exposes Prometheus instrumentation for the conversation
// synchronization core: reconciliation outcomes, optimistic send rollbacks,
// read-state propagation, store latencies, and websocket fan-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsApplied counts stream events that mutated a conversation view,
	// labeled by action (create, update, delete).
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_applied_total",
			Help: "Total stream events applied to conversation views",
		},
		[]string{"action"},
	)

	// EventsIgnoredDuplicate counts create events whose durable id was
	// already present in the view (idempotent re-delivery).
	EventsIgnoredDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_events_ignored_duplicate_total",
			Help: "Total stream events ignored because the record was already present",
		},
	)

	// EventsIgnoredStale counts events dropped by the connection-identity
	// and participant filters. Stale events are expected, not errors.
	EventsIgnoredStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_events_ignored_stale_total",
			Help: "Total stream events dropped for a conversation that is not open",
		},
	)

	// OptimisticMatches counts streamed creates that replaced an
	// outstanding optimistic entry in place.
	OptimisticMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_optimistic_matches_total",
			Help: "Total optimistic entries replaced in place by their confirmed record",
		},
	)

	// OptimisticRollbacks counts optimistic entries retracted after a
	// failed durable create.
	OptimisticRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_optimistic_rollbacks_total",
			Help: "Total optimistic entries rolled back after a failed send",
		},
	)

	// ReconcileDuration observes the time spent applying one stream event
	// to the open view.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_reconcile_duration_seconds",
			Help:    "Duration of single-event view reconciliation",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	// MarkReadTotal counts read-flag propagations, labeled by scope
	// (conversation for the bulk open-time mark, message for single marks).
	MarkReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_mark_read_total",
			Help: "Total read-state propagations to the message store",
		},
		[]string{"scope"},
	)

	// SummaryInvalidations counts debounced conversation-summary cache
	// invalidations after coalescing.
	SummaryInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_summary_invalidations_total",
			Help: "Total summary cache invalidations fired after debounce",
		},
	)

	// SubscriptionAttaches counts subscription lifecycle attach outcomes.
	SubscriptionAttaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_subscription_attaches_total",
			Help: "Total event-stream subscription attach attempts by outcome",
		},
		[]string{"outcome"}, // attached, superseded, failed
	)

	// StoreOpDuration observes backing-store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_store_op_duration_seconds",
			Help:    "Duration of backing-store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// WebsocketClients tracks currently connected UI clients.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_websocket_clients",
			Help: "Currently connected websocket clients",
		},
	)

	// StreamPublishes counts events published to the message event stream.
	StreamPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_stream_publishes_total",
			Help: "Total events published to the message event stream",
		},
		[]string{"action"},
	)
)

// RecordEventApplied records a view mutation caused by a stream event.
func RecordEventApplied(action string) {
	EventsApplied.WithLabelValues(action).Inc()
}

// RecordStoreOp observes the duration of a store operation.
func RecordStoreOp(op string, start time.Time) {
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordMarkRead records a read-state propagation.
func RecordMarkRead(scope string) {
	MarkReadTotal.WithLabelValues(scope).Inc()
}

// RecordStreamPublish records one published stream event.
func RecordStreamPublish(action string) {
	StreamPublishes.WithLabelValues(action).Inc()
}
