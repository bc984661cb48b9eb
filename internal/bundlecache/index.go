package bundlecache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

// Entry is one cache index row
type Entry struct {
	Hash            string    `json:"hash"`
	StoragePath     string    `json:"storage_path"`
	URL             string    `json:"url"`
	URLExpiresAt    time.Time `json:"url_expires_at"`
	Size            int64     `json:"size"`
	DependencyCount int       `json:"dependency_count"`
	CreatedAt       time.Time `json:"created_at"`
	// ExpiresAt is when the index entry itself lapses
	ExpiresAt time.Time `json:"expires_at"`
}

// Index persists cache entries keyed by content hash. Get returns nil, nil
// for a missing or expired entry.
type Index interface {
	Get(ctx context.Context, hash string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	UpdateURL(ctx context.Context, hash, url string, expiresAt time.Time) error
	Delete(ctx context.Context, hash string) error
	Close() error
}

// NewIndex creates the cache index selected by cfg.Backend.
//
// Backend options:
// - "memory": in-process index (single instance)
// - "postgres": artifact_bundle_cache table (requires pool)
// - "redis": Redis-compatible backend at redisURL
func NewIndex(cfg *config.CacheConfig, pool *pgxpool.Pool, redisURL string) (Index, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Info().Msg("Using in-memory bundle cache index")
		return NewMemoryIndex(), nil

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres cache backend")
		}
		log.Info().Msg("Using PostgreSQL bundle cache index")
		return NewPostgresIndex(pool), nil

	case "redis":
		if redisURL == "" {
			return nil, fmt.Errorf("scaling.redis_url is required for redis cache backend")
		}
		idx, err := NewRedisIndex(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info().Msg("Using Redis bundle cache index")
		return idx, nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s (valid options: memory, postgres, redis)", cfg.Backend)
	}
}
