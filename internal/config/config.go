// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package config loads the engine configuration from three layers in
// priority order: struct defaults, an optional YAML file, then environment
// variables.
package config

import (
	"time"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Store    StoreConfig    `koanf:"store"`
	NATS     NATSConfig     `koanf:"nats"`
	Sync     SyncConfig     `koanf:"sync"`
	Worker   WorkerConfig   `koanf:"worker"`
	Conflict ConflictConfig `koanf:"conflict"`
	Beds24   Beds24Config   `koanf:"beds24"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig configures the Badger-backed durable store.
type StoreConfig struct {
	Path string `koanf:"path"`
	// InMemory is for tests and local development only.
	InMemory       bool          `koanf:"in_memory"`
	EventRetention time.Duration `koanf:"event_retention"`
}

// NATSConfig configures the JetStream broker. With EmbeddedServer the
// engine runs its own nats-server in-process.
type NATSConfig struct {
	URL             string        `koanf:"url"`
	EmbeddedServer  bool          `koanf:"embedded_server"`
	StoreDir        string        `koanf:"store_dir"`
	MaxMemory       int64         `koanf:"max_memory"`
	MaxStore        int64         `koanf:"max_store"`
	RetentionDays   int           `koanf:"retention_days"`
	DurablePrefix   string        `koanf:"durable_prefix"`
	AckWait         time.Duration `koanf:"ack_wait"`
	CloseTimeout    time.Duration `koanf:"close_timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
}

// SyncConfig configures the periodic pull and push loops.
type SyncConfig struct {
	Interval     time.Duration `koanf:"interval"`
	PushInterval time.Duration `koanf:"push_interval"`
}

// WorkerConfig configures event consumers.
type WorkerConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
}

// ConflictConfig configures the resolution engine. Strategies maps an
// entity kind to pms_wins, external_wins, newest_wins, merge or manual.
type ConflictConfig struct {
	Default         string            `koanf:"default"`
	Strategies      map[string]string `koanf:"strategies"`
	MergeableFields []string          `koanf:"mergeable_fields"`
}

// Beds24Config configures the Beds24 channel manager integration.
type Beds24Config struct {
	Enabled      bool          `koanf:"enabled"`
	BaseURL      string        `koanf:"base_url"`
	RefreshToken string        `koanf:"refresh_token"`
	PropertyID   string        `koanf:"property_id"`
	Timeout      time.Duration `koanf:"timeout"`
	// RequestsPerMinute feeds the client-side token bucket.
	RequestsPerMinute int    `koanf:"requests_per_minute"`
	BreakerFailures   uint32 `koanf:"breaker_failures"`
}

// defaultConfig returns the engine defaults. Layered under the config file
// and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8471,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:           "/data/channelsync/store",
			InMemory:       false,
			EventRetention: 30 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			EmbeddedServer:  true,
			StoreDir:        "/data/channelsync/jetstream",
			MaxMemory:       1 << 30,
			MaxStore:        10 << 30,
			RetentionDays:   7,
			DurablePrefix:   "channelsync",
			AckWait:         30 * time.Second,
			CloseTimeout:    30 * time.Second,
			BreakerFailures: 5,
		},
		Sync: SyncConfig{
			Interval:     5 * time.Minute,
			PushInterval: time.Minute,
		},
		Worker: WorkerConfig{
			MaxAttempts: 3,
		},
		Conflict: ConflictConfig{
			Default: "newest_wins",
			Strategies: map[string]string{
				"reservation": "newest_wins",
				"customer":    "merge",
			},
			MergeableFields: []string{"notes", "tags"},
		},
		Beds24: Beds24Config{
			Enabled:           false,
			BaseURL:           "https://api.beds24.com/v2",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 100,
			BreakerFailures:   5,
		},
	}
}
