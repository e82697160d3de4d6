// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package store persists the engine's long-lived shared state in BadgerDB:
// the idempotent sync event log, entity mappings, sync conflicts, and
// per-upstream sync cursors. All mutations are single-key updates inside
// Badger transactions; the one multi-row case (mapping + event completion for
// a single sync operation) goes through Atomically.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage.
const (
	eventKeyPrefix     = "event:"
	eventIdemKeyPrefix = "event_idem:"

	mappingKeyPrefix      = "mapping:"
	mappingLocalKeyPrefix = "mapping_local:"
	mappingExtKeyPrefix   = "mapping_ext:"

	conflictKeyPrefix = "conflict:"

	syncStateKeyPrefix = "syncstate:"
)

// Sentinel errors shared by the sub-stores.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrDuplicateEvent    = errors.New("store: duplicate idempotency key")
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Store wraps one Badger database shared by all sub-stores.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logger is too chatty; we log outcomes ourselves.

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral database. Used by tests and local mode.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC triggers one value-log garbage collection cycle. Callers run this
// periodically; badger.ErrNoRewrite simply means nothing needed collecting.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Tx exposes the mutations that may need to share one Badger transaction.
type Tx struct {
	store *Store
	txn   *badger.Txn
}

// Atomically runs fn inside a single read-write transaction. Used where one
// sync operation must commit an entity mapping together with its event
// completion marker.
func (s *Store) Atomically(fn func(tx *Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{store: s, txn: txn})
	})
}
