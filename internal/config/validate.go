// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package config

import (
	"fmt"
	"strings"
)

var validStrategies = map[string]bool{
	"pms_wins":      true,
	"external_wins": true,
	"newest_wins":   true,
	"merge":         true,
	"manual":        true,
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
}

// Validate checks cross-field constraints that the type system cannot.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateStore,
		c.validateNATS,
		c.validateConflict,
		c.validateBeds24,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when nats.embedded_server is disabled")
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("nats.store_dir is required for the embedded server")
	}
	return nil
}

func (c *Config) validateConflict() error {
	if !validStrategies[c.Conflict.Default] {
		return fmt.Errorf("conflict.default %q is not a valid strategy", c.Conflict.Default)
	}
	for kind, strategy := range c.Conflict.Strategies {
		if !validStrategies[strategy] {
			return fmt.Errorf("conflict.strategies.%s %q is not a valid strategy", kind, strategy)
		}
	}
	return nil
}

func (c *Config) validateBeds24() error {
	if !c.Beds24.Enabled {
		return nil
	}
	if c.Beds24.RefreshToken == "" {
		return fmt.Errorf("beds24.refresh_token is required when beds24 is enabled")
	}
	if c.Beds24.BaseURL == "" {
		return fmt.Errorf("beds24.base_url is required when beds24 is enabled")
	}
	if c.Beds24.RequestsPerMinute <= 0 {
		return fmt.Errorf("beds24.requests_per_minute must be positive")
	}
	return nil
}
