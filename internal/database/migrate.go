package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable records applied schema versions. It is separate from the
// chat application's own migration table in a shared database.
const MigrationsTable = "artifacts_schema_migrations"

// Migrate applies the embedded schema migrations
func (c *Connection) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(&c.config))
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Debug().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Migration close returned errors")
		}
	}()

	return applyMigrations(m, latestVersion)
}

// migrationURL returns the golang-migrate pgx5 URL for cfg
func migrationURL(cfg *config.DatabaseConfig) string {
	u := cfg.URL("pgx5")
	q := u.Query()
	q.Set("x-migrations-table", MigrationsTable)
	u.RawQuery = q.Encode()
	return u.String()
}

// migrator is the subset of *migrate.Migrate used by applyMigrations
type migrator interface {
	Version() (uint, bool, error)
	Force(version int) error
	Up() error
}

// applyMigrations brings the schema up to date. A dirty version left by an
// interrupted run is forced clean first; a recorded version newer than any
// embedded file (a rollback to an older binary) is reset to the newest one.
func applyMigrations(m migrator, latest func() (uint, error)) error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("Database is in dirty state, forcing version to clean")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	}

	err = m.Up()
	switch {
	case err == nil:
		version, _, _ = m.Version()
		log.Info().Uint("version", version).Msg("Migrations applied successfully")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Uint("version", version).Msg("No new migrations to apply")
		return nil
	case isMissingVersion(err):
		newest, lerr := latest()
		if lerr != nil || version <= newest {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Warn().
			Uint("recorded_version", version).
			Uint("newest_embedded", newest).
			Msg("Database version is ahead of this binary, resetting to the newest embedded migration")
		if err := m.Force(int(newest)); err != nil {
			return fmt.Errorf("failed to force migration version to %d: %w", newest, err)
		}
		return nil
	default:
		return fmt.Errorf("failed to run migrations: %w", err)
	}
}

func isMissingVersion(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) ||
		strings.Contains(err.Error(), "file does not exist") ||
		strings.Contains(err.Error(), "no migration found")
}

// latestVersion walks the embedded source to its last migration
func latestVersion() (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, err
	}
	defer src.Close()

	return lastVersion(src)
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, err
		}
		v = next
	}
}
