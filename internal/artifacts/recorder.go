package artifacts

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// BundleRecord summarizes one finished bundle request
type BundleRecord struct {
	RequestID       string
	ArtifactID      string
	SessionID       string
	UserID          string
	Hash            string
	Outcome         string
	CacheHit        bool
	UseFrameworkEsm bool
	Streaming       bool
	Size            int64
	DependencyCount int
	Duration        time.Duration
	CreatedAt       time.Time
}

// Recorder persists bundle records
type Recorder interface {
	Record(ctx context.Context, rec BundleRecord) error
}

// Execer is the subset of pgxpool.Pool used by PostgresRecorder
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder writes records to artifact_bundle_metrics
type PostgresRecorder struct {
	db Execer
}

// NewPostgresRecorder creates a recorder over db
func NewPostgresRecorder(db Execer) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record inserts one row
func (r *PostgresRecorder) Record(ctx context.Context, rec BundleRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO artifact_bundle_metrics
			(request_id, artifact_id, session_id, user_id, bundle_hash, outcome, cache_hit,
			 use_framework_esm, streaming, bundle_size, dependency_count, duration_ms, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.RequestID, rec.ArtifactID, rec.SessionID, rec.UserID, rec.Hash, rec.Outcome, rec.CacheHit,
		rec.UseFrameworkEsm, rec.Streaming, rec.Size, rec.DependencyCount, rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	return err
}
