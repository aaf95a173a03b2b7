package kia

import (
	"maps"
	"sync"
)

type idemKey struct {
	mode Mode
	key  string
}

// IdempotencyStore caches successful order responses by
// (mode, clientOrderID). A later submit with the same key that times out
// returns the cached response instead of risking a duplicate order.
type IdempotencyStore struct {
	mu    sync.Mutex
	store map[idemKey]map[string]any
}

// NewIdempotencyStore builds an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{store: make(map[idemKey]map[string]any)}
}

// Save records an order response. Empty keys are ignored.
func (s *IdempotencyStore) Save(mode Mode, key string, response map[string]any) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[idemKey{mode, key}] = maps.Clone(response)
}

// Find returns a copy of the cached response, or nil.
func (s *IdempotencyStore) Find(mode Mode, key string) map[string]any {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	response, ok := s.store[idemKey{mode, key}]
	if !ok {
		return nil
	}
	return maps.Clone(response)
}
