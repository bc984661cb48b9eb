package bundlecache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by PostgresIndex
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresIndex stores entries in the artifact_bundle_cache table
type PostgresIndex struct {
	db Querier
}

// NewPostgresIndex creates a PostgreSQL-backed index
func NewPostgresIndex(db Querier) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Get returns the unexpired entry for hash
func (p *PostgresIndex) Get(ctx context.Context, hash string) (*Entry, error) {
	var e Entry
	err := p.db.QueryRow(ctx, `
		SELECT hash, storage_path, url, url_expires_at, size, dependency_count, created_at, expires_at
		FROM artifact_bundle_cache
		WHERE hash = $1 AND expires_at > NOW()
	`, hash).Scan(&e.Hash, &e.StoragePath, &e.URL, &e.URLExpiresAt, &e.Size, &e.DependencyCount, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Put upserts entry; a concurrent writer for the same hash is overwritten
func (p *PostgresIndex) Put(ctx context.Context, e *Entry) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO artifact_bundle_cache
			(hash, storage_path, url, url_expires_at, size, dependency_count, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hash) DO UPDATE SET
			storage_path = EXCLUDED.storage_path,
			url = EXCLUDED.url,
			url_expires_at = EXCLUDED.url_expires_at,
			size = EXCLUDED.size,
			dependency_count = EXCLUDED.dependency_count,
			expires_at = EXCLUDED.expires_at
	`, e.Hash, e.StoragePath, e.URL, e.URLExpiresAt, e.Size, e.DependencyCount, e.CreatedAt, e.ExpiresAt)
	return err
}

// UpdateURL replaces the signed URL of an existing entry
func (p *PostgresIndex) UpdateURL(ctx context.Context, hash, url string, expiresAt time.Time) error {
	_, err := p.db.Exec(ctx, `
		UPDATE artifact_bundle_cache SET url = $2, url_expires_at = $3 WHERE hash = $1
	`, hash, url, expiresAt)
	return err
}

// Delete removes the entry for hash
func (p *PostgresIndex) Delete(ctx context.Context, hash string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM artifact_bundle_cache WHERE hash = $1`, hash)
	return err
}

// Cleanup removes expired entries
func (p *PostgresIndex) Cleanup(ctx context.Context) (int64, error) {
	result, err := p.db.Exec(ctx, `DELETE FROM artifact_bundle_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the caller
func (p *PostgresIndex) Close() error {
	return nil
}
