package dedupe

import (
	"context"
	"sync"
)

// MemoryStore is the process-local default. It is single-writer per source
// in practice but guarded anyway so tests can hammer it.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]bool{}}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[key], nil
}

func (s *MemoryStore) Add(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = true
	return nil
}

func (s *MemoryStore) Close() error { return nil }
