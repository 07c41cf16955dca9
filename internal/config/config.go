// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

// Package config defines Parley's configuration and loads it with layered
// precedence: built-in defaults, then an optional YAML file, then PARLEY_*
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Parley server.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Store   StoreConfig   `koanf:"store"`
	Stream  StreamConfig  `koanf:"stream"`
	Sync    SyncConfig    `koanf:"sync"`
	API     APIConfig     `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig holds backing-store settings. The bundled store is
// Badger-backed; when Remote.Enabled is set, connection and message records
// live in a platform-hosted store reached over HTTP instead.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
	Remote     RemoteConfig  `koanf:"remote"`
}

// RemoteConfig holds the remote store client settings.
type RemoteConfig struct {
	Enabled           bool          `koanf:"enabled"`
	BaseURL           string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	BreakerMaxFails   uint32        `koanf:"breaker_max_fails"`
	BreakerOpenFor    time.Duration `koanf:"breaker_open_for"`
}

// StreamConfig holds event-stream settings. The in-process GoChannel bus is
// the default; NATS JetStream (external or embedded) is the multi-instance
// transport.
type StreamConfig struct {
	// Transport selects the pub/sub backend: "gochannel" or "nats".
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`

	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	EmbeddedPort     int           `koanf:"embedded_port"`
	StoreDir         string        `koanf:"store_dir"`
	StreamName       string        `koanf:"stream_name"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
}

// SyncConfig tunes the conversation synchronization core.
type SyncConfig struct {
	// MatchTolerance bounds the CreatedAt distance within which a streamed
	// create is matched against an outstanding optimistic send.
	MatchTolerance time.Duration `koanf:"match_tolerance" validate:"min=0"`

	// DebounceInterval coalesces bursts of summary invalidations.
	DebounceInterval time.Duration `koanf:"debounce_interval" validate:"min=0"`

	// SummaryTTL bounds how long a computed conversation summary is served
	// without recomputation.
	SummaryTTL time.Duration `koanf:"summary_ttl"`

	// StatusCacheTTL bounds the bulk connection-status cache used to avoid
	// per-counterpart lookups at list-rendering time.
	StatusCacheTTL time.Duration `koanf:"status_cache_ttl"`
}

// APIConfig holds API surface settings.
type APIConfig struct {
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=1"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8084,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:       "/data/parley",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
			Remote: RemoteConfig{
				Enabled:           false,
				BaseURL:           "",
				Timeout:           10 * time.Second,
				RequestsPerSecond: 50,
				Burst:             25,
				BreakerMaxFails:   5,
				BreakerOpenFor:    30 * time.Second,
			},
		},
		Stream: StreamConfig{
			Transport:        "gochannel",
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   false,
			EmbeddedPort:     4222,
			StoreDir:         "/data/parley/jetstream",
			StreamName:       "PARLEY_MESSAGES",
			DurableName:      "parley-sync",
			QueueGroup:       "",
			SubscribersCount: 1,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
			MaxDeliver:       5,
			MaxAckPending:    1024,
		},
		Sync: SyncConfig{
			MatchTolerance:   5 * time.Second,
			DebounceInterval: 500 * time.Millisecond,
			SummaryTTL:       time.Minute,
			StatusCacheTTL:   30 * time.Second,
		},
		API: APIConfig{
			RateLimitPerMinute: 300,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Remote.Enabled && c.Store.Remote.BaseURL == "" {
		return fmt.Errorf("invalid configuration: store.remote.base_url required when remote store is enabled")
	}
	return nil
}
