// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"parley.yaml",
	"parley.yml",
	"/etc/parley/parley.yaml",
	"/etc/parley/parley.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "PARLEY_CONFIG"

// envPrefix is the prefix for environment variable overrides.
// PARLEY_SERVER_PORT -> server.port, PARLEY_SYNC_MATCH_TOLERANCE -> sync.match_tolerance.
const envPrefix = "PARLEY_"

// Load builds the configuration with layered precedence:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML config file
//  3. PARLEY_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps PARLEY_SECTION_SOME_KEY to section.some_key. The first
// underscore separates the section; the rest of the key keeps its
// underscores, which matches the koanf tags on the config structs.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	// Nested remote store keys: PARLEY_STORE_REMOTE_BASE_URL -> store.remote.base_url
	if section == "store" {
		if sub, tail, ok := strings.Cut(rest, "_"); ok && sub == "remote" {
			return "store.remote." + tail
		}
	}
	return section + "." + rest
}

// findConfigFile returns the config file path to load, or "" for none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
