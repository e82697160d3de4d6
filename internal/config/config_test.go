// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8471 {
		t.Errorf("server port = %d, want 8471", cfg.Server.Port)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("sync interval = %s, want 5m", cfg.Sync.Interval)
	}
	if !cfg.NATS.EmbeddedServer {
		t.Error("embedded NATS should default on")
	}
	if cfg.Conflict.Default != "newest_wins" {
		t.Errorf("default strategy = %q, want newest_wins", cfg.Conflict.Default)
	}
	if cfg.Beds24.Enabled {
		t.Error("beds24 should default off")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
sync:
  interval: 1m
conflict:
  default: merge
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("sync interval = %s, want 1m", cfg.Sync.Interval)
	}
	if cfg.Conflict.Default != "merge" {
		t.Errorf("default strategy = %q, want merge", cfg.Conflict.Default)
	}
	// Untouched keys keep their defaults.
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("nats url = %q, want default", cfg.NATS.URL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CHANNELSYNC_SERVER_PORT", "9100")
	t.Setenv("CHANNELSYNC_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad strategy", map[string]string{"CHANNELSYNC_CONFLICT_DEFAULT": "coin_flip"}},
		{"bad log level", map[string]string{"CHANNELSYNC_LOGGING_LEVEL": "verbose"}},
		{"bad port", map[string]string{"CHANNELSYNC_SERVER_PORT": "70000"}},
		{"beds24 without token", map[string]string{"CHANNELSYNC_BEDS24_ENABLED": "true"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"CHANNELSYNC_SERVER_PORT":                "server.port",
		"CHANNELSYNC_NATS_URL":                   "nats.url",
		"CHANNELSYNC_BEDS24_REFRESH_TOKEN":       "beds24.refresh_token",
		"CHANNELSYNC_STORE_EVENT_RETENTION":      "store.event_retention",
		"CHANNELSYNC_SYNC_PUSH_INTERVAL":         "sync.push_interval",
		"CHANNELSYNC_SERVER_RATE_LIMIT_REQS":     "server.rate_limit_reqs",
		"CHANNELSYNC_BEDS24_REQUESTS_PER_MINUTE": "beds24.requests_per_minute",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}
