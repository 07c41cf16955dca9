// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one trailing-edge callback.
// Keys triggered while the timer is pending are collected and delivered
// together; every trigger pushes the deadline out again.
type Debouncer struct {
	interval time.Duration
	fn       func(keys []string)

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
}

// NewDebouncer creates a debouncer firing fn after interval of quiet.
func NewDebouncer(interval time.Duration, fn func(keys []string)) *Debouncer {
	return &Debouncer{
		interval: interval,
		fn:       fn,
		pending:  make(map[string]struct{}),
	}
}

// Trigger records key and (re)arms the timer.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[key] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Flush delivers any pending keys immediately.
func (d *Debouncer) Flush() {
	d.fire()
}

// Stop cancels the pending timer. Collected keys are dropped.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	d.pending = make(map[string]struct{})
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fn(keys)
}
