// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stayward/channelsync/internal/models"
)

// EventStore is the durable idempotent record of every sync event. The unique
// idempotency key is the single source of truth for "already applied".
type EventStore struct {
	store *Store
}

// Events returns the event store view.
func (s *Store) Events() *EventStore {
	return &EventStore{store: s}
}

// Insert persists a new sync event in status received. Returns
// ErrDuplicateEvent when the idempotency key is already known; the caller
// then loads the existing event and decides whether to skip.
func (es *EventStore) Insert(ctx context.Context, ev *models.SyncEvent) error {
	if ev.IdempotencyKey == "" {
		return fmt.Errorf("event store: empty idempotency key")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = models.EventStatusReceived
	}
	if ev.MaxAttempts <= 0 {
		ev.MaxAttempts = 3
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	return es.store.db.Update(func(txn *badger.Txn) error {
		idemKey := []byte(eventIdemKeyPrefix + ev.IdempotencyKey)
		if _, err := txn.Get(idemKey); err == nil {
			return ErrDuplicateEvent
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := txn.Set([]byte(eventKeyPrefix+ev.ID), data); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		if err := txn.Set(idemKey, []byte(ev.ID)); err != nil {
			return fmt.Errorf("set idempotency index: %w", err)
		}
		return nil
	})
}

// GetByID loads one event.
func (es *EventStore) GetByID(ctx context.Context, id string) (*models.SyncEvent, error) {
	var ev models.SyncEvent
	err := es.store.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, eventKeyPrefix+id, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetByIdempotencyKey loads the event registered under the key, if any.
func (es *EventStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.SyncEvent, error) {
	var ev models.SyncEvent
	err := es.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventIdemKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get idempotency index: %w", err)
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, eventKeyPrefix+id, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// MarkProcessing transitions received -> processing.
func (es *EventStore) MarkProcessing(ctx context.Context, id string) (*models.SyncEvent, error) {
	return es.mutate(id, func(ev *models.SyncEvent) error {
		if ev.Status != models.EventStatusReceived {
			return fmt.Errorf("%w: %s -> processing", ErrInvalidTransition, ev.Status)
		}
		ev.Status = models.EventStatusProcessing
		return nil
	})
}

// MarkDone transitions processing -> done and stamps completion.
func (es *EventStore) MarkDone(ctx context.Context, id string) (*models.SyncEvent, error) {
	return es.mutate(id, func(ev *models.SyncEvent) error {
		if ev.Status != models.EventStatusProcessing {
			return fmt.Errorf("%w: %s -> done", ErrInvalidTransition, ev.Status)
		}
		ev.Status = models.EventStatusDone
		now := time.Now().UTC()
		ev.CompletedAt = &now
		ev.LastError = ""
		return nil
	})
}

// RecordFailure increments the attempt counter and either returns the event
// to received (retry budget remaining) or moves it to terminal failed. The
// terminal failure always persists the error message.
func (es *EventStore) RecordFailure(ctx context.Context, id string, cause string) (*models.SyncEvent, error) {
	return es.mutate(id, func(ev *models.SyncEvent) error {
		if ev.Status != models.EventStatusProcessing {
			return fmt.Errorf("%w: %s -> failure", ErrInvalidTransition, ev.Status)
		}
		ev.Attempts++
		ev.LastError = cause
		if ev.Attempts >= ev.MaxAttempts {
			ev.Status = models.EventStatusFailed
			now := time.Now().UTC()
			ev.CompletedAt = &now
		} else {
			ev.Status = models.EventStatusReceived
		}
		return nil
	})
}

// MarkFailed moves a processing event straight to terminal failed,
// bypassing the retry budget. Used for permanent failures that retrying
// cannot fix.
func (es *EventStore) MarkFailed(ctx context.Context, id string, cause string) (*models.SyncEvent, error) {
	return es.mutate(id, func(ev *models.SyncEvent) error {
		if ev.Status != models.EventStatusProcessing {
			return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, ev.Status)
		}
		ev.Attempts++
		ev.LastError = cause
		ev.Status = models.EventStatusFailed
		now := time.Now().UTC()
		ev.CompletedAt = &now
		return nil
	})
}

// ResetForRetry returns a failed event to received with a cleared attempt
// counter. Used by the admin retry operation before republishing.
func (es *EventStore) ResetForRetry(ctx context.Context, id string) (*models.SyncEvent, error) {
	return es.mutate(id, func(ev *models.SyncEvent) error {
		if ev.Status != models.EventStatusFailed {
			return fmt.Errorf("%w: %s -> received", ErrInvalidTransition, ev.Status)
		}
		ev.Status = models.EventStatusReceived
		ev.Attempts = 0
		ev.LastError = ""
		ev.CompletedAt = nil
		return nil
	})
}

// EventFilter narrows List results. Zero values match everything.
type EventFilter struct {
	Direction  models.Direction
	EntityType models.EntityKind
	Status     models.SyncEventStatus
	Limit      int
	Offset     int
}

// List returns events matching the filter, newest first.
func (es *EventStore) List(ctx context.Context, filter EventFilter) ([]models.SyncEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	var all []models.SyncEvent
	err := es.store.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev models.SyncEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			if filter.Direction != "" && ev.Direction != filter.Direction {
				continue
			}
			if filter.EntityType != "" && ev.EntityType != filter.EntityType {
				continue
			}
			if filter.Status != "" && ev.Status != filter.Status {
				continue
			}
			all = append(all, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortEventsNewestFirst(all)

	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

// ListFailed returns the DLQ view: terminal failed events matching the filter.
func (es *EventStore) ListFailed(ctx context.Context, filter EventFilter) ([]models.SyncEvent, error) {
	filter.Status = models.EventStatusFailed
	return es.List(ctx, filter)
}

// PruneOlderThan deletes terminal events whose last update is older than
// the cutoff. Events still in flight are never pruned.
func (es *EventStore) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	pruned := 0

	err := es.store.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		var deleteKeys [][]byte
		var deleteIdem []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev models.SyncEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			if !ev.Terminal() || ev.UpdatedAt.After(cutoff) {
				continue
			}
			deleteKeys = append(deleteKeys, it.Item().KeyCopy(nil))
			deleteIdem = append(deleteIdem, ev.IdempotencyKey)
		}

		for i, key := range deleteKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete([]byte(eventIdemKeyPrefix + deleteIdem[i])); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// mutate loads, mutates, and stores one event within a transaction.
func (es *EventStore) mutate(id string, fn func(*models.SyncEvent) error) (*models.SyncEvent, error) {
	var ev models.SyncEvent
	err := es.store.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, eventKeyPrefix+id, &ev); err != nil {
			return err
		}
		if err := fn(&ev); err != nil {
			return err
		}
		ev.UpdatedAt = time.Now().UTC()
		return putJSON(txn, eventKeyPrefix+id, &ev)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// MarkDone marks an event done inside an enclosing transaction. See
// Store.Atomically.
func (tx *Tx) MarkEventDone(id string) error {
	var ev models.SyncEvent
	if err := getJSON(tx.txn, eventKeyPrefix+id, &ev); err != nil {
		return err
	}
	if ev.Status != models.EventStatusProcessing {
		return fmt.Errorf("%w: %s -> done", ErrInvalidTransition, ev.Status)
	}
	now := time.Now().UTC()
	ev.Status = models.EventStatusDone
	ev.CompletedAt = &now
	ev.LastError = ""
	ev.UpdatedAt = now
	return putJSON(tx.txn, eventKeyPrefix+ev.ID, &ev)
}

// getJSON loads and unmarshals one key.
func getJSON(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// putJSON marshals and stores one key.
func putJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// sortEventsNewestFirst orders by UpdatedAt descending.
func sortEventsNewestFirst(events []models.SyncEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].UpdatedAt.After(events[j].UpdatedAt)
	})
}
