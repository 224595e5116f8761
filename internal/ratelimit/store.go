package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store owns the entries of one Limiter. Hit must read, decide and write as
// one step with respect to other calls for the same key.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Hit(ctx context.Context, key string, now time.Time, config Config) (Entry, Outcome, error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.entries[key]
	return entry, found, nil
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, config Config) (Entry, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, found := s.entries[key]
	next, outcome := countHit(current, found, now, config)
	s.entries[key] = next
	return next, outcome, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.expiredAt(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of tracked identifiers, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
