package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when an ownership row does not exist
var ErrNotFound = errors.New("not found")

// OwnershipStore answers who owns chat sessions and artifacts
type OwnershipStore interface {
	// SessionOwner returns the user owning the chat session, or ErrNotFound
	SessionOwner(ctx context.Context, sessionID string) (string, error)
	// ArtifactSession returns the session an existing artifact belongs to, or ErrNotFound
	ArtifactSession(ctx context.Context, artifactID string) (string, error)
}

// RowQuerier is the subset of pgxpool.Pool used by PostgresOwnership
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresOwnership reads ownership from the chat_sessions and artifacts tables
type PostgresOwnership struct {
	db RowQuerier
}

// NewPostgresOwnership creates a PostgreSQL-backed ownership store
func NewPostgresOwnership(db RowQuerier) *PostgresOwnership {
	return &PostgresOwnership{db: db}
}

// SessionOwner returns the owner of a chat session
func (p *PostgresOwnership) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	return p.lookup(ctx, `SELECT user_id::text FROM chat_sessions WHERE id::text = $1`, sessionID)
}

// ArtifactSession returns the chat session of an artifact
func (p *PostgresOwnership) ArtifactSession(ctx context.Context, artifactID string) (string, error) {
	return p.lookup(ctx, `SELECT session_id::text FROM artifacts WHERE id::text = $1`, artifactID)
}

func (p *PostgresOwnership) lookup(ctx context.Context, sql, id string) (string, error) {
	var owner string
	err := p.db.QueryRow(ctx, sql, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

// MemoryOwnership is an in-process ownership store for deployments without
// a database and for tests
type MemoryOwnership struct {
	mu        sync.RWMutex
	sessions  map[string]string
	artifacts map[string]string
}

// NewMemoryOwnership creates an empty in-memory ownership store
func NewMemoryOwnership() *MemoryOwnership {
	return &MemoryOwnership{
		sessions:  make(map[string]string),
		artifacts: make(map[string]string),
	}
}

// SetSession records userID as the owner of sessionID
func (m *MemoryOwnership) SetSession(sessionID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = userID
}

// SetArtifact records that artifactID belongs to sessionID
func (m *MemoryOwnership) SetArtifact(artifactID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[artifactID] = sessionID
}

// SessionOwner returns the owner of a chat session
func (m *MemoryOwnership) SessionOwner(_ context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if owner, ok := m.sessions[sessionID]; ok {
		return owner, nil
	}
	return "", ErrNotFound
}

// ArtifactSession returns the chat session of an artifact
func (m *MemoryOwnership) ArtifactSession(_ context.Context, artifactID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session, ok := m.artifacts[artifactID]; ok {
		return session, nil
	}
	return "", ErrNotFound
}
