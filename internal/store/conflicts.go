// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package store

import (
	"context"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stayward/channelsync/internal/models"
)

// ConflictStore persists sync conflicts for audit and manual review.
type ConflictStore struct {
	store *Store
}

// Conflicts returns the conflict store view.
func (s *Store) Conflicts() *ConflictStore {
	return &ConflictStore{store: s}
}

// Insert stores a new conflict.
func (cs *ConflictStore) Insert(ctx context.Context, c *models.SyncConflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = models.ConflictDetected
	}
	return cs.store.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, conflictKeyPrefix+c.ID, c)
	})
}

// Get loads one conflict.
func (cs *ConflictStore) Get(ctx context.Context, id string) (*models.SyncConflict, error) {
	var c models.SyncConflict
	err := cs.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, conflictKeyPrefix+id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve records the resolution outcome and marks the conflict resolved.
func (cs *ConflictStore) Resolve(ctx context.Context, id string, resolution *models.ConflictResolution) error {
	return cs.store.db.Update(func(txn *badger.Txn) error {
		var c models.SyncConflict
		if err := getJSON(txn, conflictKeyPrefix+id, &c); err != nil {
			return err
		}
		c.Status = models.ConflictResolved
		c.Resolution = resolution
		return putJSON(txn, conflictKeyPrefix+id, &c)
	})
}

// MarkIgnored dismisses a conflict without resolution.
func (cs *ConflictStore) MarkIgnored(ctx context.Context, id string) error {
	return cs.store.db.Update(func(txn *badger.Txn) error {
		var c models.SyncConflict
		if err := getJSON(txn, conflictKeyPrefix+id, &c); err != nil {
			return err
		}
		c.Status = models.ConflictIgnored
		return putJSON(txn, conflictKeyPrefix+id, &c)
	})
}

// ListPending returns conflicts awaiting manual review, oldest first.
func (cs *ConflictStore) ListPending(ctx context.Context, limit int) ([]models.SyncConflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var out []models.SyncConflict
	err := cs.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(conflictKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c models.SyncConflict
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			if c.Status == models.ConflictPendingReview {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
