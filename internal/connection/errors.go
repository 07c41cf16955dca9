// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package connection

import "errors"

var (
	// ErrDuplicateRequest indicates a pending or accepted connection already
	// exists between the two parties.
	ErrDuplicateRequest = errors.New("connection request already exists")

	// ErrInvalidTransition indicates the requested lifecycle operation is not
	// valid for the connection's current state or for the calling party.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)
