package ratelimit

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

// Backend names where bundle quota counters live
type Backend string

const (
	BackendLocal    Backend = "local"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// ParseBackend accepts the scaling.backend setting; empty means local
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendLocal, nil
	case BackendLocal, BackendPostgres, BackendRedis:
		return b, nil
	}
	return "", fmt.Errorf("unknown rate limit backend: %s (valid options: local, postgres, redis)", s)
}

// Shared reports whether every instance sees the same counters
func (b Backend) Shared() bool {
	return b != BackendLocal
}

// NewStore creates the counter store for cfg.Backend. Postgres needs pool;
// redis needs cfg.RedisURL.
func NewStore(cfg *config.ScalingConfig, pool *pgxpool.Pool) (Store, error) {
	backend, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var store Store
	switch backend {
	case BackendLocal:
		store = NewMemoryStore()

	case BackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres rate limit backend")
		}
		store = NewPostgresStore(pool)

	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		rs, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		store = rs
	}

	event := log.Info().Str("backend", string(backend))
	if !backend.Shared() {
		event = event.Bool("per_instance", true)
	}
	event.Msg("Bundle quota store ready")
	return store, nil
}
