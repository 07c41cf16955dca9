// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package conversation

import "errors"

var (
	// ErrNoConversation indicates no conversation is currently open.
	ErrNoConversation = errors.New("no conversation open")

	// ErrNotAccepted indicates the connection does not permit messaging;
	// it is pending, rejected, or does not involve the caller.
	ErrNotAccepted = errors.New("connection not accepted")

	// ErrSendFailed wraps a durable create failure after the optimistic
	// entry has been rolled back.
	ErrSendFailed = errors.New("message send failed")

	// ErrSuperseded indicates the operation completed for a conversation
	// that is no longer the open one.
	ErrSuperseded = errors.New("conversation superseded")
)
