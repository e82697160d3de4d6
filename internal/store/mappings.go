// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stayward/channelsync/internal/models"
)

// MappingStore persists local<->external entity mappings. The index keys
// enforce at most one active mapping per (localID, kind) and per
// (externalID, kind) within one upstream: index entries always point at the
// single active mapping, and Upsert deactivates whatever they pointed at
// before.
type MappingStore struct {
	store *Store
}

// Mappings returns the mapping store view.
func (s *Store) Mappings() *MappingStore {
	return &MappingStore{store: s}
}

func mappingLocalKey(upstream string, kind models.EntityKind, localID string) []byte {
	return []byte(mappingLocalKeyPrefix + upstream + ":" + string(kind) + ":" + localID)
}

func mappingExtKey(upstream string, kind models.EntityKind, externalID string) []byte {
	return []byte(mappingExtKeyPrefix + upstream + ":" + string(kind) + ":" + externalID)
}

// Upsert stores the mapping as the active one for both its local and
// external identity, deactivating any mapping previously active for either.
func (ms *MappingStore) Upsert(ctx context.Context, m *models.EntityMapping) error {
	if m.LocalID == "" || m.ExternalID == "" {
		return fmt.Errorf("mapping store: local and external IDs required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.IsActive = true
	m.LastSyncedAt = time.Now().UTC()

	return ms.store.db.Update(func(txn *badger.Txn) error {
		return upsertMappingTxn(txn, m)
	})
}

// UpsertSharedLocal stores a mapping whose local entity is legitimately
// shared by many external identities, such as the unknown-guest singleton.
// Only the external identity is claimed exclusively; the local index is left
// alone so sibling mappings stay resolvable.
func (ms *MappingStore) UpsertSharedLocal(ctx context.Context, m *models.EntityMapping) error {
	if m.LocalID == "" || m.ExternalID == "" {
		return fmt.Errorf("mapping store: local and external IDs required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.IsActive = true
	m.LastSyncedAt = time.Now().UTC()

	return ms.store.db.Update(func(txn *badger.Txn) error {
		idxKey := mappingExtKey(m.Upstream, m.EntityKind, m.ExternalID)
		item, err := txn.Get(idxKey)
		if err == nil {
			var existingID string
			if err := item.Value(func(val []byte) error {
				existingID = string(val)
				return nil
			}); err != nil {
				return err
			}
			if existingID != m.ID {
				if err := deactivateMappingTxn(txn, existingID); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read mapping index: %w", err)
		}

		if err := putJSON(txn, mappingKeyPrefix+m.ID, m); err != nil {
			return err
		}
		return txn.Set(idxKey, []byte(m.ID))
	})
}

// UpsertMapping stores a mapping inside an enclosing transaction. See
// Store.Atomically.
func (tx *Tx) UpsertMapping(m *models.EntityMapping) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.IsActive = true
	m.LastSyncedAt = time.Now().UTC()
	return upsertMappingTxn(tx.txn, m)
}

func upsertMappingTxn(txn *badger.Txn, m *models.EntityMapping) error {
	// Deactivate whichever mappings currently hold this local or external
	// identity, unless it's this same row.
	for _, idxKey := range [][]byte{
		mappingLocalKey(m.Upstream, m.EntityKind, m.LocalID),
		mappingExtKey(m.Upstream, m.EntityKind, m.ExternalID),
	} {
		item, err := txn.Get(idxKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read mapping index: %w", err)
		}
		var existingID string
		if err := item.Value(func(val []byte) error {
			existingID = string(val)
			return nil
		}); err != nil {
			return err
		}
		if existingID == m.ID {
			continue
		}
		if err := deactivateMappingTxn(txn, existingID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if err := putJSON(txn, mappingKeyPrefix+m.ID, m); err != nil {
		return err
	}
	if err := txn.Set(mappingLocalKey(m.Upstream, m.EntityKind, m.LocalID), []byte(m.ID)); err != nil {
		return fmt.Errorf("set local index: %w", err)
	}
	if err := txn.Set(mappingExtKey(m.Upstream, m.EntityKind, m.ExternalID), []byte(m.ID)); err != nil {
		return fmt.Errorf("set external index: %w", err)
	}
	return nil
}

func deactivateMappingTxn(txn *badger.Txn, id string) error {
	var old models.EntityMapping
	if err := getJSON(txn, mappingKeyPrefix+id, &old); err != nil {
		return err
	}
	old.IsActive = false
	return putJSON(txn, mappingKeyPrefix+id, &old)
}

// GetByLocal returns the active mapping for a local entity, or ErrNotFound.
func (ms *MappingStore) GetByLocal(ctx context.Context, upstream string, kind models.EntityKind, localID string) (*models.EntityMapping, error) {
	return ms.getByIndex(mappingLocalKey(upstream, kind, localID))
}

// GetByExternal returns the active mapping for an external entity, or
// ErrNotFound.
func (ms *MappingStore) GetByExternal(ctx context.Context, upstream string, kind models.EntityKind, externalID string) (*models.EntityMapping, error) {
	return ms.getByIndex(mappingExtKey(upstream, kind, externalID))
}

func (ms *MappingStore) getByIndex(idxKey []byte) (*models.EntityMapping, error) {
	var m models.EntityMapping
	err := ms.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idxKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read mapping index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, mappingKeyPrefix+id, &m)
	})
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, ErrNotFound
	}
	return &m, nil
}

// Deactivate retires a mapping without deleting it. The index entries for
// its identities are removed so a successor mapping can claim them.
func (ms *MappingStore) Deactivate(ctx context.Context, id string) error {
	return ms.store.db.Update(func(txn *badger.Txn) error {
		var m models.EntityMapping
		if err := getJSON(txn, mappingKeyPrefix+id, &m); err != nil {
			return err
		}
		m.IsActive = false
		if err := putJSON(txn, mappingKeyPrefix+id, &m); err != nil {
			return err
		}
		if err := txn.Delete(mappingLocalKey(m.Upstream, m.EntityKind, m.LocalID)); err != nil {
			return err
		}
		return txn.Delete(mappingExtKey(m.Upstream, m.EntityKind, m.ExternalID))
	})
}

// ListByKind returns all active mappings of one kind for one upstream.
func (ms *MappingStore) ListByKind(ctx context.Context, upstream string, kind models.EntityKind) ([]models.EntityMapping, error) {
	var out []models.EntityMapping
	err := ms.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(mappingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m models.EntityMapping
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			if m.Upstream == upstream && m.EntityKind == kind && m.IsActive {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}
