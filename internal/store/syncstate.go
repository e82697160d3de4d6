// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/models"
)

// StateStore persists per (upstream, entity kind) sync cursors and health.
type StateStore struct {
	store *Store
}

// States returns the sync state store view.
func (s *Store) States() *StateStore {
	return &StateStore{store: s}
}

func syncStateKey(upstream string, kind models.EntityKind) string {
	return syncStateKeyPrefix + upstream + ":" + string(kind)
}

// Get returns the sync state, or a zero-valued state when none is recorded
// yet (first sync is a full sync).
func (ss *StateStore) Get(ctx context.Context, upstream string, kind models.EntityKind) (*models.SyncState, error) {
	state := &models.SyncState{Upstream: upstream, EntityKind: kind}
	err := ss.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, syncStateKey(upstream, kind), state)
	})
	if errors.Is(err, ErrNotFound) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// RecordSuccess advances the sync cursor and clears the failure streak.
func (ss *StateStore) RecordSuccess(ctx context.Context, upstream string, kind models.EntityKind, at time.Time) error {
	return ss.mutate(upstream, kind, func(state *models.SyncState) {
		state.LastSuccessfulSyncAt = at
		state.LastError = ""
		state.ConsecutiveFailures = 0
	})
}

// RecordFailure notes a phase-level failure without moving the cursor.
func (ss *StateStore) RecordFailure(ctx context.Context, upstream string, kind models.EntityKind, cause string) error {
	return ss.mutate(upstream, kind, func(state *models.SyncState) {
		state.LastError = cause
		state.ConsecutiveFailures++
	})
}

func (ss *StateStore) mutate(upstream string, kind models.EntityKind, fn func(*models.SyncState)) error {
	return ss.store.db.Update(func(txn *badger.Txn) error {
		state := models.SyncState{Upstream: upstream, EntityKind: kind}
		err := getJSON(txn, syncStateKey(upstream, kind), &state)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		fn(&state)
		state.UpdatedAt = time.Now().UTC()
		return putJSON(txn, syncStateKey(upstream, kind), &state)
	})
}

// All returns every recorded sync state.
func (ss *StateStore) All(ctx context.Context) ([]models.SyncState, error) {
	var out []models.SyncState
	err := ss.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(syncStateKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var state models.SyncState
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return err
			}
			out = append(out, state)
		}
		return nil
	})
	return out, err
}
