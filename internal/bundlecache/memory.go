package bundlecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/storage/memory/v2"
)

// MemoryIndex keeps entries in process memory with per-entry expiry
type MemoryIndex struct {
	store *memory.Storage
}

// NewMemoryIndex creates an in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{store: memory.New(memory.Config{GCInterval: time.Minute})}
}

// Get returns the entry for hash
func (m *MemoryIndex) Get(_ context.Context, hash string) (*Entry, error) {
	raw, err := m.store.Get(hash)
	if err != nil || raw == nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Put stores entry until entry.ExpiresAt
func (m *MemoryIndex) Put(_ context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return m.store.Set(entry.Hash, raw, ttlUntil(entry.ExpiresAt))
}

// UpdateURL replaces the signed URL of an existing entry
func (m *MemoryIndex) UpdateURL(ctx context.Context, hash, url string, expiresAt time.Time) error {
	e, err := m.Get(ctx, hash)
	if err != nil || e == nil {
		return err
	}
	e.URL = url
	e.URLExpiresAt = expiresAt
	return m.Put(ctx, e)
}

// Delete removes the entry for hash
func (m *MemoryIndex) Delete(_ context.Context, hash string) error {
	return m.store.Delete(hash)
}

// Close stops the garbage collector
func (m *MemoryIndex) Close() error {
	return m.store.Close()
}

// ttlUntil converts an absolute expiry into a storage TTL; zero means no expiry
func ttlUntil(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	if d := time.Until(t); d > 0 {
		return d
	}
	return time.Millisecond
}
