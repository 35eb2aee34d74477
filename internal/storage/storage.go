// Package storage provides the agent's two key/value stores: a durable one
// shared by every agent on the same data directory, and a tab-scoped one that
// lives only as long as the agent instance. Storage never fails the agent:
// when the durable backend cannot be opened the agent runs on memory for the
// rest of the page lifetime.
package storage

import "sync"

// Prefix is the reserved key namespace for everything the agent persists.
const Prefix = "sp:"

// Store is a whole-value key/value store. Writes are last-write-wins; there
// is no fine-grained locking across agents sharing a durable store.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Memory is a map-backed Store. It backs the tab-scoped store and the
// degraded mode used when durable storage is unavailable.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Memory) Close() error {
	return nil
}
