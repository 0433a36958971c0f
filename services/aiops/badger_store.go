// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// opKeyPrefix namespaces operation records inside the shared database.
const opKeyPrefix = "op/"

// BadgerStore is a Store backed by an embedded BadgerDB instance.
//
// # Description
//
// Operation snapshots are stored as JSON values under "op/<id>". BadgerDB
// gives low-latency local persistence so operation status survives process
// restarts without an external database.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig holds storage configuration for the operation store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability. Recommended in
	// production.
	SyncWrites bool
}

// NewBadgerStore opens (or creates) the backing database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent operation store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create operation store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil) // Badger's internal logging is too chatty

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open operation store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Save implements the Store interface.
func (s *BadgerStore) Save(_ context.Context, op *Operation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(opKeyPrefix+op.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("persist operation %s: %w", op.ID, err)
	}
	return nil
}

// Get implements the Store interface.
func (s *BadgerStore) Get(_ context.Context, id string) (*Operation, error) {
	var op Operation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(opKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &op)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operation %s: %w", id, err)
	}
	return &op, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
