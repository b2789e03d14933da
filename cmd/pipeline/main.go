// Package main provides the entry point for the CrossRef ingestion pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/crossref-ingest/internal/config"
	"github.com/helixir/crossref-ingest/internal/crossref"
	"github.com/helixir/crossref-ingest/internal/database"
	"github.com/helixir/crossref-ingest/internal/extract"
	"github.com/helixir/crossref-ingest/internal/load"
	"github.com/helixir/crossref-ingest/internal/observability"
	"github.com/helixir/crossref-ingest/internal/pipeline"
	"github.com/helixir/crossref-ingest/internal/rawstore"
	"github.com/helixir/crossref-ingest/internal/server"
)

// ingestLockKey is the session advisory lock guarding against concurrent
// ingest runs into the same database.
const ingestLockKey int64 = 874_110_021

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Define CLI flags.
	stage := flag.String("stage", "all", "Pipeline stage to run: all, extract (capture only), or replay (transform captured pages)")
	runIDFlag := flag.String("run-id", "", "Run identifier (UUID). Generated when empty; required for -stage replay")
	maxPages := flag.Int("max-pages", 0, "Override the configured page budget for this run")
	flag.Parse()

	switch *stage {
	case "all", "extract", "replay":
	default:
		return fmt.Errorf("invalid -stage %q: want all, extract or replay", *stage)
	}

	var runID uuid.UUID
	if *runIDFlag != "" {
		parsed, err := uuid.Parse(*runIDFlag)
		if err != nil {
			return fmt.Errorf("invalid -run-id %q: %w", *runIDFlag, err)
		}
		runID = parsed
	}
	if *stage == "replay" && runID == uuid.Nil {
		return fmt.Errorf("-stage replay requires -run-id")
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "pipeline").Logger()
	logger.Info().Msg("crossref-ingest pipeline starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("crossref_ingest")

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		if err := runMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	// One ingest run per database at a time. The lock is tied to the
	// connection pool session and released on exit.
	acquired, err := db.AcquireAdvisoryLock(ctx, ingestLockKey)
	if err != nil {
		return fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another ingest run holds the lock, refusing to start")
	}
	defer func() {
		if err := db.ReleaseAdvisoryLock(context.Background(), ingestLockKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release ingest lock")
		}
	}()

	// Create the raw capture store.
	store, err := newRawStore(cfg.RawStore)
	if err != nil {
		return fmt.Errorf("create raw store: %w", err)
	}
	logger.Info().
		Str("backend", cfg.RawStore.Backend).
		Str("path", cfg.RawStore.Path).
		Msg("raw store ready")

	// Create the CrossRef client and pipeline stages.
	client := crossref.New(crossref.Config{
		BaseURL:    cfg.Source.BaseURL,
		Email:      cfg.Source.Email,
		PlusToken:  cfg.Source.APIKey,
		Rows:       cfg.Source.Rows,
		Sort:       cfg.Source.Sort,
		Order:      cfg.Source.Order,
		Filter:     cfg.Source.Filter,
		Timeout:    cfg.Source.Timeout,
		RateLimit:  cfg.Source.RateLimit,
		BurstSize:  cfg.Source.BurstSize,
		MaxRetries: cfg.Source.MaxRetries,
		RetryDelay: cfg.Source.RetryDelay,
	})

	extractor := extract.New(client, store, cfg.Source.Rows, logger, metrics)
	loader := load.New(db, cfg.Pipeline.BatchSize, logger, metrics)
	pipe := pipeline.New(extractor, loader, store, cfg.Pipeline, logger, metrics)

	// Expose health and metrics for the duration of the run.
	if cfg.Metrics.Enabled {
		ops := server.NewServer(server.Config{
			Address:      cfg.Server.Address(),
			MetricsPath:  cfg.Metrics.Path,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, db, nil, logger)

		go func() {
			if err := ops.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("ops server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("ops server shutdown failed")
			}
		}()
	}

	// Execute the run and emit the report on stdout.
	var (
		report *pipeline.RunReport
		runErr error
	)
	switch *stage {
	case "extract":
		report, runErr = pipe.Extract(ctx, pipeline.RunParams{RunID: runID, MaxPages: *maxPages})
	case "replay":
		report, runErr = pipe.Replay(ctx, runID)
	default:
		report, runErr = pipe.Run(ctx, pipeline.RunParams{RunID: runID, MaxPages: *maxPages})
	}

	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			logger.Warn().Err(encErr).Msg("failed to write run report")
		}
	}
	if runErr != nil {
		return fmt.Errorf("pipeline run: %w", runErr)
	}
	return nil
}

// runMigrations applies all pending migrations on startup.
func runMigrations(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// newRawStore builds the configured raw page store.
func newRawStore(cfg config.RawStoreConfig) (rawstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return rawstore.NewMemoryStore(), nil
	case "fs", "":
		return rawstore.NewFSStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown raw store backend %q", cfg.Backend)
	}
}
