// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package main is the entry point for the Parley server.
//
// Parley keeps two-party conversations synchronized in real time: connection
// requests, optimistic message sends reconciled against a durable event
// stream, read-state tracking, and per-user websocket push.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, PARLEY_* environment (Koanf v2)
//  2. Store: Badger-backed connection and message records, optionally a
//     remote HTTP message store
//  3. Stream: in-process GoChannel bus, or NATS JetStream (external or embedded)
//  4. Sessions: per-user synchronizers, read trackers, and summary caches
//  5. WebSocket hub: per-user push of view changes and invalidations
//  6. HTTP API: chi router with identity, rate limiting, and Prometheus metrics
//
// Everything runs under a suture supervisor tree so a crashing stream
// consumer restarts without taking down the API server.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - PARLEY_* environment variables
//   - Config file (parley.yaml, or PARLEY_CONFIG)
//   - Built-in defaults
//
// Single-process deployments need no external infrastructure: the default
// transport is the in-process bus and the store is a local Badger directory.
// Multi-instance deployments set PARLEY_STREAM_TRANSPORT=nats, pointing at an
// external JetStream server or enabling the embedded one.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the API server
// drains in-flight requests, sessions flush pending read-state work, and the
// store closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/connection"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/stream"
	"github.com/parleyhq/parley/internal/subscription"
	"github.com/parleyhq/parley/internal/supervisor"
	"github.com/parleyhq/parley/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	badgerStore, err := store.NewBadgerStore(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer badgerStore.Close()

	msgs, err := messageStore(cfg, badgerStore)
	if err != nil {
		return err
	}

	pub, sub, cleanup, err := transport(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher := stream.NewPublisher(pub)
	defer publisher.Close()
	if cfg.Stream.Transport == "nats" {
		// A degraded JetStream should fail publishes fast rather than
		// stall every store mutation behind retries.
		publisher.SetCircuitBreaker(gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name: "stream-publish",
		}))
	}

	evented := store.NewEventedMessageStore(msgs, publisher)
	bridge := stream.NewBridge(sub)
	hub := websocket.NewHub()

	conns := connection.NewManager(badgerStore, cfg.Sync.StatusCacheTTL)
	defer conns.Close()

	attach := func(_ context.Context, h stream.Handler) (subscription.Teardown, error) {
		return bridge.Attach(h), nil
	}
	sessions := session.NewRegistry(conns, evented, attach, hub, session.Config{
		MatchTolerance:   cfg.Sync.MatchTolerance,
		DebounceInterval: cfg.Sync.DebounceInterval,
		SummaryTTL:       cfg.Sync.SummaryTTL,
	})
	defer sessions.Close()

	ready := func() bool { return !badgerStore.DB().IsClosed() }
	handler := api.NewHandler(sessions, conns, hub, ready)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
	})
	server := api.NewServer(router, api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeConfig)
	tree.AddDataService(store.NewGCService(badgerStore.DB(), cfg.Store.GCInterval))
	tree.AddMessagingService(bridge)
	tree.AddMessagingService(hub)
	tree.AddAPIService(server)

	logging.Info().
		Str("transport", cfg.Stream.Transport).
		Bool("remote_store", cfg.Store.Remote.Enabled).
		Msg("starting Parley")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprintf("%v", svc.Service)).Msg("service did not stop")
		}
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

// messageStore selects the message backend: the local Badger store by
// default, the platform-hosted HTTP store when remote mode is enabled.
// Connection records always live in the local store.
func messageStore(cfg *config.Config, badgerStore *store.BadgerStore) (store.MessageStore, error) {
	if !cfg.Store.Remote.Enabled {
		return badgerStore.Messages(), nil
	}
	remote, err := store.NewRemoteMessageStore(store.RemoteConfig{
		BaseURL:           cfg.Store.Remote.BaseURL,
		Timeout:           cfg.Store.Remote.Timeout,
		RequestsPerSecond: cfg.Store.Remote.RequestsPerSecond,
		Burst:             cfg.Store.Remote.Burst,
		BreakerMaxFails:   cfg.Store.Remote.BreakerMaxFails,
		BreakerOpenFor:    cfg.Store.Remote.BreakerOpenFor,
	})
	if err != nil {
		return nil, fmt.Errorf("remote message store: %w", err)
	}
	return remote, nil
}

// transport builds the stream publisher and subscriber pair. The returned
// cleanup shuts down whatever the transport owns (the bus, or the embedded
// NATS server).
func transport(cfg *config.Config) (message.Publisher, message.Subscriber, func(), error) {
	switch cfg.Stream.Transport {
	case "nats":
		url := cfg.Stream.URL
		cleanup := func() {}
		if cfg.Stream.EmbeddedServer {
			embedded, err := stream.NewEmbeddedServer(&stream.EmbeddedServerConfig{
				Host:     "127.0.0.1",
				Port:     cfg.Stream.EmbeddedPort,
				StoreDir: cfg.Stream.StoreDir,
			})
			if err != nil {
				return nil, nil, nil, fmt.Errorf("embedded NATS: %w", err)
			}
			url = embedded.ClientURL()
			cleanup = embedded.Shutdown
			logging.Info().Str("url", url).Msg("embedded NATS server ready")
		}

		natsCfg := &stream.NATSConfig{
			URL:              url,
			StreamName:       cfg.Stream.StreamName,
			DurableName:      cfg.Stream.DurableName,
			QueueGroup:       cfg.Stream.QueueGroup,
			SubscribersCount: cfg.Stream.SubscribersCount,
			MaxReconnects:    cfg.Stream.MaxReconnects,
			MaxDeliver:       cfg.Stream.MaxDeliver,
			MaxAckPending:    cfg.Stream.MaxAckPending,
			ReconnectWait:    cfg.Stream.ReconnectWait,
			AckWaitTimeout:   cfg.Stream.AckWaitTimeout,
			CloseTimeout:     cfg.Stream.CloseTimeout,
		}
		pub, err := stream.NewNATSPublisher(natsCfg, nil)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("NATS publisher: %w", err)
		}
		sub, err := stream.NewNATSSubscriber(natsCfg, nil)
		if err != nil {
			pub.Close()
			cleanup()
			return nil, nil, nil, fmt.Errorf("NATS subscriber: %w", err)
		}
		return pub, sub, cleanup, nil

	default:
		bus := stream.NewInProcessBus(nil)
		return bus, bus, func() { bus.Close() }, nil
	}
}
