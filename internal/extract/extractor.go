// Package extract drives cursor-based pagination against the source API
// and captures every fetched page verbatim in the raw store before it is
// handed downstream. Capture-before-yield means a run that fails later
// never loses pages it already paid for.
package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/crossref-ingest/internal/crossref"
	"github.com/helixir/crossref-ingest/internal/domain"
	"github.com/helixir/crossref-ingest/internal/observability"
	"github.com/helixir/crossref-ingest/internal/rawstore"
)

// PageFetcher fetches one works page at the given cursor.
// *crossref.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string) (*crossref.Page, error)
}

// Result is the outcome of an extraction. When Fetch returns an error the
// Result still describes everything fetched and captured before the
// failure.
type Result struct {
	// Pages describes the captured pages in fetch order. Payloads are not
	// retained in memory; they live in the raw store under each page's key.
	Pages []domain.RawPage

	// Records are the parsed raw records of all pages, in fetch order.
	Records []domain.RawRecord

	// TotalResults is the total matching works reported by the source.
	TotalResults int
}

// PagesFetched returns the number of captured pages.
func (r *Result) PagesFetched() int {
	return len(r.Pages)
}

// Extractor pages through the source API for one run.
type Extractor struct {
	source  PageFetcher
	store   rawstore.Store
	rows    int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates an extractor. rows is the page size requested from the
// source; a page shorter than rows terminates pagination. metrics may be
// nil.
func New(source PageFetcher, store rawstore.Store, rows int, logger zerolog.Logger, metrics *observability.Metrics) *Extractor {
	if rows <= 0 {
		rows = crossref.DefaultRows
	}
	return &Extractor{
		source:  source,
		store:   store,
		rows:    rows,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch pages through the source API until the result set is exhausted or
// maxPages is reached (maxPages <= 0 means no bound). Page N+1 is never
// requested before page N's cursor is known.
//
// Each page's verbatim body is written to the raw store before its records
// are appended to the result. On a mid-run failure Fetch returns the
// partial Result together with the error; everything already captured
// stays captured.
func (e *Extractor) Fetch(ctx context.Context, runID uuid.UUID, maxPages int) (*Result, error) {
	result := &Result{}
	cursor := crossref.FirstCursor

	for pageIndex := 0; maxPages <= 0 || pageIndex < maxPages; pageIndex++ {
		logger := observability.WithPageContext(e.logger, pageIndex, cursor)

		page, err := e.source.FetchPage(ctx, cursor)
		if err != nil {
			logger.Warn().Err(err).Msg("page fetch failed")
			return result, err
		}
		result.TotalResults = page.TotalResults

		if len(page.Records) == 0 {
			// Exhausted: the page after the last non-empty one.
			break
		}

		key := domain.PageKey(runID, pageIndex)
		if err := e.store.Put(ctx, key, page.Body); err != nil {
			return result, domain.NewStorageError("put", key, err)
		}

		result.Pages = append(result.Pages, domain.RawPage{
			RunID:       runID,
			PageIndex:   pageIndex,
			FetchedAt:   time.Now().UTC(),
			RecordCount: len(page.Records),
		})
		result.Records = append(result.Records, page.Records...)

		if e.metrics != nil {
			e.metrics.PagesFetched.Inc()
			e.metrics.RecordsExtracted.Add(float64(len(page.Records)))
		}
		logger.Debug().
			Int("records", len(page.Records)).
			Msg("page captured")

		if len(page.Records) < e.rows {
			// Short page: the result set ends here.
			break
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	e.logger.Info().
		Int("pages", len(result.Pages)).
		Int("records", len(result.Records)).
		Int("total_results", result.TotalResults).
		Msg("extraction complete")

	return result, nil
}
