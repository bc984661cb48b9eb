// Package bundlecache maps content hashes of bundle inputs to stored bundle
// documents and keeps their signed access URLs fresh.
package bundlecache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/storage"
)

// ObjectSigner is the storage subset the cache needs
type ObjectSigner interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	GenerateSignedURL(ctx context.Context, bucket, key string, opts *storage.SignedURLOptions) (*storage.SignedURL, error)
}

// Config tunes cache behavior
type Config struct {
	Bucket string
	// TTL is how long an index entry lives
	TTL time.Duration
	// URLTTL is the validity requested for re-signed URLs
	URLTTL time.Duration
	// RefreshWindow re-signs URLs expiring within this window
	RefreshWindow time.Duration
	// StoreTimeout bounds detached store operations
	StoreTimeout time.Duration
}

// LookupResult is the outcome of a cache lookup
type LookupResult struct {
	Hit       bool
	URL       string
	ExpiresAt time.Time
	Entry     *Entry
	// Refreshed is set when the URL was re-signed during lookup
	Refreshed bool
}

// Cache is the content-addressed bundle cache
type Cache struct {
	index  Index
	store  ObjectSigner
	cfg    Config
	now    func() time.Time
	onDone func(hit bool)
}

// New creates a cache over index and store
func New(index Index, store ObjectSigner, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 14 * 24 * time.Hour
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 14 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &Cache{index: index, store: store, cfg: cfg, now: time.Now}
}

// OnLookup registers an observer called with the outcome of every lookup
func (c *Cache) OnLookup(fn func(hit bool)) {
	c.onDone = fn
}

// Index returns the underlying index
func (c *Cache) Index() Index {
	return c.index
}

// Lookup returns the stored bundle for hash. A hit always carries a URL valid
// beyond the refresh window; an entry whose object has disappeared is a miss.
func (c *Cache) Lookup(ctx context.Context, hash string) (res *LookupResult, err error) {
	defer func() {
		if c.onDone != nil && err == nil {
			c.onDone(res.Hit)
		}
	}()

	entry, err := c.index.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &LookupResult{}, nil
	}

	exists, err := c.store.Exists(ctx, c.cfg.Bucket, entry.StoragePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Warn().Str("hash", hash).Str("path", entry.StoragePath).Msg("Cached bundle object missing, dropping index entry")
		if err := c.index.Delete(ctx, hash); err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("Failed to delete stale cache entry")
		}
		return &LookupResult{}, nil
	}

	now := c.now()
	if entry.URLExpiresAt.After(now.Add(c.cfg.RefreshWindow)) {
		return &LookupResult{Hit: true, URL: entry.URL, ExpiresAt: entry.URLExpiresAt, Entry: entry}, nil
	}

	signed, err := c.store.GenerateSignedURL(ctx, c.cfg.Bucket, entry.StoragePath, &storage.SignedURLOptions{ExpiresIn: c.cfg.URLTTL})
	if err != nil {
		if entry.URLExpiresAt.After(now) {
			log.Warn().Err(err).Str("hash", hash).Msg("Failed to re-sign cached bundle URL, serving current URL")
			return &LookupResult{Hit: true, URL: entry.URL, ExpiresAt: entry.URLExpiresAt, Entry: entry}, nil
		}
		log.Warn().Err(err).Str("hash", hash).Msg("Failed to re-sign expired cached bundle URL, treating as miss")
		return &LookupResult{}, nil
	}

	entry.URL = signed.URL
	entry.URLExpiresAt = signed.ExpiresAt
	if err := c.index.UpdateURL(ctx, hash, signed.URL, signed.ExpiresAt); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("Failed to persist refreshed bundle URL")
	}

	return &LookupResult{Hit: true, URL: signed.URL, ExpiresAt: signed.ExpiresAt, Entry: entry, Refreshed: true}, nil
}

// Store records a stored bundle under hash
func (c *Cache) Store(ctx context.Context, hash, storagePath, url string, urlExpiresAt time.Time, size int64, depCount int) error {
	now := c.now()
	return c.index.Put(ctx, &Entry{
		Hash:            hash,
		StoragePath:     storagePath,
		URL:             url,
		URLExpiresAt:    urlExpiresAt,
		Size:            size,
		DependencyCount: depCount,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.cfg.TTL),
	})
}

// StoreAsync runs Store detached from ctx's cancellation. Failures are logged
// and never reach the caller. The returned channel closes when the write ends.
func (c *Cache) StoreAsync(ctx context.Context, hash, storagePath, url string, urlExpiresAt time.Time, size int64, depCount int) <-chan struct{} {
	done := make(chan struct{})
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)

	go func() {
		defer close(done)
		defer cancel()
		if err := c.Store(bg, hash, storagePath, url, urlExpiresAt, size, depCount); err != nil {
			log.Error().Err(err).Str("hash", hash).Msg("Failed to store bundle cache entry")
			return
		}
		log.Debug().Str("hash", hash).Str("path", storagePath).Msg("Stored bundle cache entry")
	}()

	return done
}

// Close closes the index
func (c *Cache) Close() error {
	return c.index.Close()
}
