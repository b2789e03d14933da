// Package main provides the schema migration CLI for the works database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/crossref-ingest/internal/config"
	"github.com/helixir/crossref-ingest/internal/database"
	"github.com/helixir/crossref-ingest/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "Apply all pending migrations")
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Apply N migration steps (negative rolls back)")
	version := flag.Bool("version", false, "Print the current migration version")
	force := flag.Int("force", -1, "Force the recorded version (recovers a dirty schema)")
	migrationsPath := flag.String("path", "", "Override the migrations directory")
	flag.Parse()

	selected := 0
	for _, set := range []bool{*up, *down, *steps != 0, *version, *force >= 0} {
		if set {
			selected++
		}
	}
	if selected == 0 {
		flag.Usage()
		return fmt.Errorf("specify one of -up, -down, -steps N, -version, -force V")
	}
	if selected > 1 {
		return fmt.Errorf("specify only one action at a time")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Console logging suits an interactive CLI better than the service's
	// JSON default.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		migrationDir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch {
	case *up:
		err = migrator.Up()
	case *down:
		err = migrator.Down()
	case *steps != 0:
		err = migrator.Steps(*steps)
	case *force >= 0:
		err = migrator.Force(*force)
	}
	if err != nil {
		return err
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
