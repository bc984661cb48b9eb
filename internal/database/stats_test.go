package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCollector(t *testing.T) {
	// Pools connect lazily, so no server is needed to read stats
	pool, err := pgxpool.New(context.Background(), "postgres://artifacts@127.0.0.1:1/artifacts?pool_max_conns=3")
	require.NoError(t, err)
	defer pool.Close()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewPoolCollector(pool.Stat)))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	count, err = testutil.GatherAndCount(reg, "artifacts_db_pool_max_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
