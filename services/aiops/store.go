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
	"sync"
)

// Store persists operation records so that progress can be observed by
// polling and survives process restarts. The orchestrator writes a full
// snapshot after every state transition; the transition log inside the
// record keeps the history append-mostly.
type Store interface {
	// Save upserts the operation snapshot.
	Save(ctx context.Context, op *Operation) error

	// Get returns the stored snapshot, or ErrOperationNotFound.
	Get(ctx context.Context, id string) (*Operation, error)

	// Close releases the underlying storage.
	Close() error
}

// MemoryStore is an in-process Store for tests and single-node dev setups.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*Operation)}
}

// Save implements the Store interface.
func (m *MemoryStore) Save(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = op.Clone()
	return nil
}

// Get implements the Store interface.
func (m *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.Clone(), nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
