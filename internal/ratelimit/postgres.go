package ratelimit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Querier is the subset of pgxpool.Pool used by PostgresStore
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps counters in the rate_limits table. One upsert both
// increments and restarts ended windows, so concurrent instances agree.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore creates a new PostgreSQL-backed rate limit store.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// incrementSQL takes window ends from the database clock so instances with
// skewed clocks share the same windows
const incrementSQL = `
	INSERT INTO rate_limits (key, count, expires_at)
	VALUES ($1, 1, NOW() + make_interval(secs => $2))
	ON CONFLICT (key) DO UPDATE SET
		count = CASE WHEN rate_limits.expires_at <= NOW() THEN 1 ELSE rate_limits.count + 1 END,
		expires_at = CASE WHEN rate_limits.expires_at <= NOW() THEN EXCLUDED.expires_at ELSE rate_limits.expires_at END
	RETURNING count, expires_at`

// Increment adds one to key's current window
func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	var (
		count     int64
		expiresAt time.Time
	)
	if err := s.db.QueryRow(ctx, incrementSQL, key, window.Seconds()).Scan(&count, &expiresAt); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment rate limit counter")
		return 0, time.Time{}, err
	}
	return count, expiresAt, nil
}

// Close is a no-op; the pool belongs to the database connection
func (s *PostgresStore) Close() error {
	return nil
}

// Cleanup deletes ended windows and returns how many rows went
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM rate_limits WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
