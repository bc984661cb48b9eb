package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		shared  bool
		wantErr bool
	}{
		{in: "", want: BackendLocal},
		{in: "local", want: BackendLocal},
		{in: " Redis ", want: BackendRedis, shared: true},
		{in: "postgres", want: BackendPostgres, shared: true},
		{in: "memcached", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "valid options: local, postgres, redis")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.shared, got.Shared())
		})
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ScalingConfig
		wantErr string
	}{
		{name: "empty backend is memory", cfg: config.ScalingConfig{}},
		{name: "local backend is memory", cfg: config.ScalingConfig{Backend: "local"}},
		{name: "postgres needs a pool", cfg: config.ScalingConfig{Backend: "postgres"}, wantErr: "database pool is required"},
		{name: "redis needs a url", cfg: config.ScalingConfig{Backend: "redis"}, wantErr: "redis_url is required"},
		{name: "redis url must parse", cfg: config.ScalingConfig{Backend: "redis", RedisURL: "invalid://url"}, wantErr: "failed to connect to Redis"},
		{name: "unknown backend", cfg: config.ScalingConfig{Backend: "memcached"}, wantErr: "valid options: local, postgres, redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(&tt.cfg, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, store)
				return
			}

			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, &MemoryStore{}, store)
			assert.Implements(t, (*Cleaner)(nil), store)
		})
	}
}
