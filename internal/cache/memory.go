package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are only swept when
// their cache is next written.
type MemoryStore struct {
	mu     sync.RWMutex
	caches map[Name]map[string]memEntry
	now    func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{caches: make(map[Name]map[string]memEntry), now: now}
}

func (s *MemoryStore) Get(_ context.Context, cache Name, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.caches[cache][key]
	return e.Entry, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, cache Name, key string, e Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.caches[cache]
	if entries == nil {
		entries = make(map[string]memEntry)
		s.caches[cache] = entries
	}
	now := s.now()
	for k, old := range entries {
		if !now.Before(old.expiresAt) {
			delete(entries, k)
		}
	}
	entries[key] = memEntry{Entry: e, expiresAt: e.WrittenAt.Add(ttl)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, cache Name) error {
	s.mu.Lock()
	delete(s.caches, cache)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries (live or stale) in a cache.
func (s *MemoryStore) Len(cache Name) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.caches[cache])
}
