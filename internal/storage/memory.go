// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"sync"
)

// MemoryStore keeps records in a map. Values are copied on the way in and
// out so callers can never alias stored bytes.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// sets counts successful Set calls, for tests asserting write behaviour.
	sets int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, notFound(key)
	}
	return bytes.Clone(v), nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = bytes.Clone(value)
	s.sets++
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// SetCount returns how many writes the store has accepted.
func (s *MemoryStore) SetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets
}
