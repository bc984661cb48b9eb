package bundlecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

func TestNewIndex(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		idx, err := NewIndex(&config.CacheConfig{}, nil, "")
		require.NoError(t, err)
		defer idx.Close()
		assert.IsType(t, &MemoryIndex{}, idx)
	})

	t.Run("postgres needs a pool", func(t *testing.T) {
		_, err := NewIndex(&config.CacheConfig{Backend: "postgres"}, nil, "")
		assert.ErrorContains(t, err, "database pool is required")
	})

	t.Run("redis needs a url", func(t *testing.T) {
		_, err := NewIndex(&config.CacheConfig{Backend: "redis"}, nil, "")
		assert.ErrorContains(t, err, "redis_url is required")
	})

	t.Run("redis url must parse", func(t *testing.T) {
		_, err := NewIndex(&config.CacheConfig{Backend: "redis"}, nil, "not a url")
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewIndex(&config.CacheConfig{Backend: "etcd"}, nil, "")
		assert.ErrorContains(t, err, "unknown cache backend")
	})
}
