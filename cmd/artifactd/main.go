// Command artifactd serves the artifact bundling API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/api"
	"github.com/fluxbase-eu/artifacts/internal/config"
	"github.com/fluxbase-eu/artifacts/internal/database"
)

var (
	// Set via ldflags during build
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version information and exit")
	logFormat := flag.String("log-format", "console", "log output: console or json")
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("artifactd %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	setupLogger(*logFormat)

	if err := run(*migrateOnly); err != nil {
		log.Error().Err(err).Msg("artifactd exited with error")
		os.Exit(1)
	}
}

func setupLogger(format string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "artifactd").Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func run(migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting artifact bundling service")

	var db *database.Connection
	if cfg.Database.Enabled {
		db, err = database.NewConnection(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("Database disabled: cache, rate limits and ownership use in-process backends")
	}

	if migrateOnly {
		if db == nil {
			return errors.New("--migrate-only needs database.enabled")
		}
		log.Info().Msg("Migrations applied")
		return nil
	}

	api.Version = Version
	server, err := api.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Listening")
		listenErr <- server.Start()
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutdown signal received")

	// In-flight bundles get the write timeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info().Msg("Server exited")
	return nil
}
