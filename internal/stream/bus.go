// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package stream

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewInProcessBus creates an in-memory GoChannel pub/sub for single-process
// deployments and tests. Publisher and subscriber share one bus; events are
// delivered to every subscriber, mirroring the NATS fan-out semantics the
// synchronizers rely on.
func NewInProcessBus(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = NewWatermillLogger()
	}
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
		},
		logger,
	)
}

// Compile-time checks: the bus serves as both ends of the stream.
var (
	_ message.Publisher  = (*gochannel.GoChannel)(nil)
	_ message.Subscriber = (*gochannel.GoChannel)(nil)
)
