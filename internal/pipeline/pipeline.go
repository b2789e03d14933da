package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/crossref-ingest/internal/config"
	"github.com/helixir/crossref-ingest/internal/crossref"
	"github.com/helixir/crossref-ingest/internal/dedup"
	"github.com/helixir/crossref-ingest/internal/domain"
	"github.com/helixir/crossref-ingest/internal/extract"
	"github.com/helixir/crossref-ingest/internal/normalize"
	"github.com/helixir/crossref-ingest/internal/observability"
	"github.com/helixir/crossref-ingest/internal/rawstore"
)

// Extractor pages through the source API for a run. *extract.Extractor
// implements it.
type Extractor interface {
	Fetch(ctx context.Context, runID uuid.UUID, maxPages int) (*extract.Result, error)
}

// Loader applies canonical records to the works table. *load.Loader
// implements it.
type Loader interface {
	Load(ctx context.Context, records []domain.CanonicalRecord) (*domain.LoadSummary, error)
}

// RunParams names the inputs of one pipeline run.
type RunParams struct {
	// RunID identifies the run. uuid.Nil generates a fresh one.
	RunID uuid.UUID

	// MaxPages bounds extraction; <= 0 defers to configuration.
	MaxPages int
}

// RunReport describes the outcome of a run.
type RunReport struct {
	RunID               uuid.UUID          `json:"run_id"`
	State               State              `json:"state"`
	FailedStage         Stage              `json:"failed_stage,omitempty"`
	PagesFetched        int                `json:"pages_fetched"`
	RecordsExtracted    int                `json:"records_extracted"`
	RecordsNormalized   int                `json:"records_normalized"`
	DuplicatesCollapsed int                `json:"duplicates_collapsed"`
	Summary             domain.LoadSummary `json:"summary"`
	Warnings            []string           `json:"warnings,omitempty"`
}

// Pipeline wires the stages together and drives one run at a time.
type Pipeline struct {
	extractor Extractor
	loader    Loader
	store     rawstore.Store
	cfg       config.PipelineConfig
	policies  map[Stage]StagePolicy
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a pipeline. metrics may be nil.
func New(extractor Extractor, loader Loader, store rawstore.Store, cfg config.PipelineConfig, logger zerolog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		loader:    loader,
		store:     store,
		cfg:       cfg,
		policies:  policiesFor(cfg),
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes a full extract, normalize, dedup, load sequence. The
// returned report is always non-nil; when the run fails it records the
// failing stage and whatever progress preceded it, and the error is
// returned alongside.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (*RunReport, error) {
	runID := params.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = p.cfg.MaxPages
	}

	ctx = observability.WithRunID(ctx, runID.String())
	logger := observability.WithRunContext(p.logger, runID.String())
	report := &RunReport{RunID: runID, State: StateExtracting}

	start := time.Now()
	if p.metrics != nil {
		p.metrics.RunsStarted.Inc()
	}
	logger.Info().Int("max_pages", maxPages).Msg("pipeline run started")

	// Extract.
	result, err := p.runExtract(ctx, report, runID, maxPages, logger)
	if err != nil {
		return p.fail(report, StageExtract, logger, err)
	}
	report.PagesFetched = result.PagesFetched()
	report.RecordsExtracted = len(result.Records)

	report, err = p.transform(ctx, report, result.Records, logger)
	if err != nil {
		return report, err
	}

	if p.metrics != nil {
		p.metrics.RunDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		if len(report.Warnings) > 0 {
			outcome = "partial"
		}
		p.metrics.RunsCompleted.WithLabelValues(outcome).Inc()
	}
	logger.Info().
		Int("pages", report.PagesFetched).
		Int("records", report.RecordsExtracted).
		Int("collapsed", report.DuplicatesCollapsed).
		Int("inserted", report.Summary.Inserted).
		Int("updated", report.Summary.Updated).
		Int("failed", report.Summary.Failed).
		Msg("pipeline run complete")

	return report, nil
}

// Extract runs only the extraction stage, leaving the captured pages in
// the raw store for a later Replay. Partial-extraction handling follows
// the same allow_partial rule as a full run.
func (p *Pipeline) Extract(ctx context.Context, params RunParams) (*RunReport, error) {
	runID := params.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = p.cfg.MaxPages
	}

	ctx = observability.WithRunID(ctx, runID.String())
	logger := observability.WithRunContext(p.logger, runID.String())
	report := &RunReport{RunID: runID, State: StateExtracting}

	if p.metrics != nil {
		p.metrics.RunsStarted.Inc()
	}
	logger.Info().Int("max_pages", maxPages).Msg("extract-only run started")

	result, err := p.runExtract(ctx, report, runID, maxPages, logger)
	if err != nil {
		return p.fail(report, StageExtract, logger, err)
	}
	report.PagesFetched = result.PagesFetched()
	report.RecordsExtracted = len(result.Records)
	report.State = StateDone

	logger.Info().
		Int("pages", report.PagesFetched).
		Int("records", report.RecordsExtracted).
		Msg("extraction captured, transform deferred to replay")
	return report, nil
}

// runExtract drives the extraction stage with its retry policy. A partial
// result is an error unless allow_partial is set, in which case the
// warning lands on the report and the partial result is returned.
func (p *Pipeline) runExtract(ctx context.Context, report *RunReport, runID uuid.UUID, maxPages int, logger zerolog.Logger) (*extract.Result, error) {
	var result *extract.Result
	err := p.runStage(ctx, StageExtract, func(ctx context.Context) error {
		var fetchErr error
		result, fetchErr = p.extractor.Fetch(ctx, runID, maxPages)
		return fetchErr
	})
	if err != nil {
		partial := result != nil && result.PagesFetched() > 0
		if !partial || !p.cfg.AllowPartial {
			return result, err
		}
		warning := fmt.Sprintf("extraction incomplete after %d pages: %v", result.PagesFetched(), err)
		report.Warnings = append(report.Warnings, warning)
		logger.Warn().Err(err).Int("pages", result.PagesFetched()).
			Msg("continuing with partial extraction")
	}
	return result, nil
}

// Replay re-runs the normalize, dedup and load stages for an existing run
// from its raw-captured pages, without touching the source API. The raw
// store listing is in fetch order, so replay sees records in the same
// order the original extraction did.
func (p *Pipeline) Replay(ctx context.Context, runID uuid.UUID) (*RunReport, error) {
	ctx = observability.WithRunID(ctx, runID.String())
	logger := observability.WithRunContext(p.logger, runID.String())
	report := &RunReport{RunID: runID, State: StateNormalizing}

	keys, err := p.store.List(ctx, runID.String()+"/")
	if err != nil {
		return p.fail(report, StageNormal, logger, domain.NewStorageError("list", runID.String(), err))
	}
	if len(keys) == 0 {
		return p.fail(report, StageNormal, logger, domain.NewNotFoundError("run", runID.String()))
	}

	var records []domain.RawRecord
	for _, key := range keys {
		payload, err := p.store.Get(ctx, key)
		if err != nil {
			return p.fail(report, StageNormal, logger, domain.NewStorageError("get", key, err))
		}
		page, err := crossref.ParsePage(payload)
		if err != nil {
			return p.fail(report, StageNormal, logger, fmt.Errorf("replaying page %s: %w", key, err))
		}
		records = append(records, page.Records...)
	}

	report.PagesFetched = len(keys)
	report.RecordsExtracted = len(records)
	logger.Info().
		Int("pages", len(keys)).
		Int("records", len(records)).
		Msg("replaying run from raw store")

	return p.transform(ctx, report, records, logger)
}

// transform runs the normalize, dedup and load stages over raw records,
// filling in the report as it goes.
func (p *Pipeline) transform(ctx context.Context, report *RunReport, records []domain.RawRecord, logger zerolog.Logger) (*RunReport, error) {
	// Normalize.
	report.State = StateNormalizing
	var normalized []domain.NormalizedRecord
	err := p.runStage(ctx, StageNormal, func(ctx context.Context) error {
		var normErr error
		normalized, normErr = normalize.All(ctx, records, p.cfg.NormalizeWorkers)
		return normErr
	})
	if err != nil {
		return p.fail(report, StageNormal, logger, err)
	}
	report.RecordsNormalized = len(normalized)
	if p.metrics != nil {
		p.metrics.RecordsNormalized.Add(float64(len(normalized)))
		for _, rec := range normalized {
			f := rec.Flags
			p.metrics.ObserveQualityFlags(f.MissingTitle, f.MissingDOI, f.MissingJournal, f.MissingAuthors)
		}
	}

	// Deduplicate.
	report.State = StateDeduplicating
	canonical, stats := dedup.Deduplicate(normalized)
	report.DuplicatesCollapsed = stats.Collapsed
	if p.metrics != nil {
		p.metrics.DuplicatesCollapsed.Add(float64(stats.Collapsed))
		for _, rec := range canonical {
			if rec.MergedCount > 1 {
				p.metrics.DedupGroups.Observe(float64(rec.MergedCount))
			}
		}
	}
	logger.Info().
		Int("groups", stats.Groups).
		Int("collapsed", stats.Collapsed).
		Msg("deduplication complete")

	// Load.
	report.State = StateLoading
	err = p.runStage(ctx, StageLoad, func(ctx context.Context) error {
		summary, loadErr := p.loader.Load(ctx, canonical)
		if loadErr != nil {
			return loadErr
		}
		report.Summary = *summary
		return nil
	})
	if err != nil {
		return p.fail(report, StageLoad, logger, err)
	}

	report.State = StateDone
	return report, nil
}

// fail moves the report to the failed state and returns it with the error.
// Raw pages captured before the failure are left in place.
func (p *Pipeline) fail(report *RunReport, stage Stage, logger zerolog.Logger, err error) (*RunReport, error) {
	report.State = StateFailed
	report.FailedStage = stage
	if p.metrics != nil {
		p.metrics.RunsFailed.WithLabelValues(string(stage)).Inc()
	}
	logger.Error().
		Err(err).
		Str("stage", string(stage)).
		Str("category", Classify(err).String()).
		Msg("pipeline run failed")
	return report, err
}
