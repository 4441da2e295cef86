package fetchcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process cache for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return e.Content, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return nil
	}
	if e.CachedAt.IsZero() {
		e.CachedAt = s.now()
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, e := range s.entries {
		st.Entries++
		st.Bytes += int64(len(e.Content))
		if st.Oldest.IsZero() || e.CachedAt.Before(st.Oldest) {
			st.Oldest = e.CachedAt
		}
		if e.CachedAt.After(st.Newest) {
			st.Newest = e.CachedAt
		}
	}
	return st, nil
}

func (s *MemoryStore) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	cutoff := s.now().Add(-olderThan)
	for k, e := range s.entries {
		if olderThan <= 0 || e.CachedAt.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
