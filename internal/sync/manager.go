// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/models"
)

// Target pairs one upstream's pull orchestrator with its outbound pusher.
type Target struct {
	Name         string
	Orchestrator *Orchestrator
	Pusher       *Pusher
}

// Manager runs the periodic sync and push loops for every configured
// upstream and exposes manual triggering for the admin API.
type Manager struct {
	targets      map[string]*Target
	syncInterval time.Duration
	pushInterval time.Duration

	lastSync map[string]time.Time
	running  bool
	mu       sync.RWMutex
	syncMu   sync.Mutex // prevents concurrent sync execution per manager
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a sync manager over the given targets. A pushInterval
// of zero disables the outbound sweep loop.
func NewManager(targets []*Target, syncInterval, pushInterval time.Duration) *Manager {
	byName := make(map[string]*Target, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	return &Manager{
		targets:      byName,
		syncInterval: syncInterval,
		pushInterval: pushInterval,
		lastSync:     make(map[string]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// Start begins the periodic loops. The initial full sync runs in the
// background so startup is not blocked by a slow upstream.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.mu.Unlock()

	logging.Info().
		Int("upstreams", len(m.targets)).
		Dur("sync_interval", m.syncInterval).
		Dur("push_interval", m.pushInterval).
		Msg("Starting sync manager")

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.syncAll(ctx); err != nil {
			logging.Warn().Err(err).Msg("Initial sync failed (will retry on interval)")
		}
	}()
	go m.syncLoop(ctx)

	if m.pushInterval > 0 {
		m.wg.Add(1)
		go m.pushLoop(ctx)
	}
	return nil
}

// Stop shuts the loops down and waits for any in-flight sync to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

// Serve adapts the manager to a supervised service: it starts the loops and
// blocks until the context is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop()
}

func (m *Manager) String() string { return "sync-manager" }

// LastSyncTime returns when the named upstream last completed a full sync.
func (m *Manager) LastSyncTime(upstream string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync[upstream]
}

// TriggerSync runs a full sync for one upstream immediately. Used by the
// admin API; serialized against the periodic loop.
func (m *Manager) TriggerSync(ctx context.Context, upstream string) (*models.FullSyncResult, error) {
	t, ok := m.targets[upstream]
	if !ok {
		return nil, fmt.Errorf("unknown upstream %q", upstream)
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.runSync(ctx, t)
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			if err := m.syncAll(ctx); err != nil {
				logging.Error().Err(err).Msg("Periodic sync failed")
			}
		}
	}
}

func (m *Manager) pushLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			for name, t := range m.targets {
				if t.Pusher == nil {
					continue
				}
				if _, err := t.Pusher.Sweep(ctx); err != nil {
					logging.Error().Err(err).Str("upstream", name).Msg("Outbound sweep failed")
				}
			}
		}
	}
}

func (m *Manager) syncAll(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	var firstErr error
	for _, t := range m.targets {
		if _, err := m.runSync(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) runSync(ctx context.Context, t *Target) (*models.FullSyncResult, error) {
	result, err := t.Orchestrator.FullSync(ctx)
	if err != nil {
		return result, fmt.Errorf("full sync for %s: %w", t.Name, err)
	}

	m.mu.Lock()
	m.lastSync[t.Name] = result.StartedAt
	m.mu.Unlock()
	return result, nil
}
