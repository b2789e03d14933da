// Package observability provides logging and metrics support for the
// CrossRef ingestion pipeline.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for extraction, normalization, dedup, and load
//   - Context helpers for propagating run and stage identity
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("run started")
//
// Add run context to logger:
//
//	logger = observability.WithRunContext(logger, runID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("crossref_ingest")
//
// Record metrics:
//
//	metrics.PagesFetched.Inc()
//	metrics.RowsLoaded.WithLabelValues("inserted").Add(42)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - run_id: Pipeline run identifier
//   - stage: Pipeline stage (extracting, normalizing, deduplicating, loading)
//   - page_index: Ordinal index of a fetched page
//   - cursor: Source API pagination cursor
//   - record_id: Stable bibliographic record identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
