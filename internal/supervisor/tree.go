// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package supervisor builds the suture service tree. Three layers isolate
// failures: the broker layer (embedded NATS, router), the sync layer
// (manager loops) and the api layer (admin HTTP). A crashing sync loop is
// restarted without tearing down the broker or the API.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/stayward/channelsync/internal/logging"
)

// TreeConfig holds the restart policy shared by all layers.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig matches suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the channelsync supervisor hierarchy.
type Tree struct {
	root   *suture.Supervisor
	broker *suture.Supervisor
	sync   *suture.Supervisor
	api    *suture.Supervisor
}

// NewTree builds the three-layer tree. Supervisor events are logged through
// zerolog.
func NewTree(cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	rootSpec := suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("channelsync", rootSpec)
	broker := suture.New("broker-layer", childSpec)
	syncLayer := suture.New("sync-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(broker)
	root.Add(syncLayer)
	root.Add(api)

	return &Tree{root: root, broker: broker, sync: syncLayer, api: api}
}

// logEvent routes suture lifecycle events into the structured log.
func logEvent(ev suture.Event) {
	switch ev.Type() {
	case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		logging.Warn().Interface("event", ev.Map()).Msg("Supervisor event")
	case suture.EventTypeServicePanic:
		logging.Error().Interface("event", ev.Map()).Msg("Supervised service panicked")
	default:
		logging.Debug().Interface("event", ev.Map()).Msg("Supervisor event")
	}
}

// AddBrokerService supervises a broker-layer service (embedded NATS server,
// stream initializer, Watermill router).
func (t *Tree) AddBrokerService(svc suture.Service) suture.ServiceToken {
	return t.broker.Add(svc)
}

// AddSyncService supervises a sync-layer service (the sync manager).
func (t *Tree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

// AddAPIService supervises an api-layer service (the admin HTTP server).
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until the context is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns the error channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
