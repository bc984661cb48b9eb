package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Expired windows are dropped
// lazily on increment and in bulk by Cleanup, which the maintenance
// scheduler runs.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]window
	now      func() time.Time
}

type window struct {
	count int64
	ends  time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]window),
		now:      time.Now,
	}
}

// Increment adds one to key's current window
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.counters[key]
	if !ok || !now.Before(w.ends) {
		w = window{ends: now.Add(length)}
	}
	w.count++
	s.counters[key] = w
	return w.count, w.ends, nil
}

// Len returns the number of tracked keys, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Cleanup drops ended windows and returns how many were removed
func (s *MemoryStore) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, w := range s.counters {
		if !now.Before(w.ends) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
