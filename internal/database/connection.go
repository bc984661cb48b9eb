// Package database owns the PostgreSQL pool shared by the ownership checks,
// bundle cache index, rate limit counters and metrics rows.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

// Connection is a pgx pool that logs slow statements
type Connection struct {
	pool      *pgxpool.Pool
	config    config.DatabaseConfig
	slowQuery time.Duration
}

// NewConnection opens the pool and checks the database answers
func NewConnection(cfg config.DatabaseConfig) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MinConns = cfg.MinConnections
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheck
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "artifacts"

	// Connections that died while idle are dropped instead of handed out
	poolConfig.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return conn.Ping(ctx) == nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	slow := cfg.SlowQuery
	if slow <= 0 {
		slow = time.Second
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int32("max_conns", cfg.MaxConnections).
		Msg("Database connection established")

	return &Connection{pool: pool, config: cfg, slowQuery: slow}, nil
}

// Pool returns the underlying pool
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}

// Close closes the pool
func (c *Connection) Close() {
	c.pool.Close()
	log.Info().Msg("Database connection closed")
}

// QueryRow runs a single-row query
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	defer c.observe(sql, time.Now())
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that returns no rows
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	defer c.observe(sql, time.Now())
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) observe(sql string, start time.Time) {
	if d := time.Since(start); d > c.slowQuery {
		log.Warn().
			Int64("duration_ms", d.Milliseconds()).
			Str("query", truncateQuery(sql, 200)).
			Bool("slow_query", true).
			Msg("Slow query detected")
	}
}

// Health runs a trivial query with a short deadline
func (c *Connection) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := c.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// truncateQuery shortens query to maxLen bytes for logging
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "... (truncated)"
}
