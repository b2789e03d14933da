// Package normalize cleans raw bibliographic records into their canonical
// form: trimmed fields, prefix-stripped lowercase DOIs, non-negative
// counts, a valid publication year, and quality flags for whatever the
// source left out. Missing fields are flagged and defaulted, never treated
// as errors.
package normalize

import (
	"context"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// DOI URL prefixes stripped during normalization. Registrars and older
// records disagree on how a DOI is written; the stored form is always the
// bare identifier.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// Record normalizes one raw record.
//
// The returned record satisfies the canonical-form invariants: counts are
// never negative and PublishedYear is always a valid year, with
// domain.SentinelYear substituted when the source date is absent,
// unparsable, or implausibly far in the future.
func Record(raw domain.RawRecord) domain.NormalizedRecord {
	rec := domain.NormalizedRecord{
		Title:          collapseSpace(raw.Title),
		DOI:            NormalizeDOI(raw.DOI),
		Journal:        collapseSpace(raw.Journal),
		Publisher:      collapseSpace(raw.Publisher),
		CitationCount:  clampCount(raw.CitationCount),
		ReferenceCount: clampCount(raw.ReferenceCount),
		PublishedYear:  yearFrom(raw.DateParts, maxPlausibleYear()),
	}

	for _, a := range raw.Authors {
		if name := collapseSpace(a); name != "" {
			rec.Authors = append(rec.Authors, name)
		}
	}

	rec.Flags = domain.QualityFlags{
		MissingTitle:   rec.Title == "",
		MissingDOI:     rec.DOI == "",
		MissingJournal: rec.Journal == "",
		MissingAuthors: len(rec.Authors) == 0,
	}

	rec.RecordID = domain.DeriveRecordID(rec.DOI, rec.Title, rec.Authors)
	return rec
}

// All normalizes a batch of records, preserving input order. Work is
// spread across at most workers goroutines; workers <= 0 uses one per CPU.
// The only error condition is context cancellation, since normalizing a
// single record cannot fail.
func All(ctx context.Context, records []domain.RawRecord, workers int) ([]domain.NormalizedRecord, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out := make([]domain.NormalizedRecord, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = Record(records[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeDOI strips URL and scheme prefixes from a DOI candidate and
// returns it lower-cased and trimmed. An empty or prefix-only input
// yields "".
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}

	lower := strings.ToLower(doi)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lower, prefix) {
			lower = lower[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(lower)
}

// yearFrom extracts the publication year from CrossRef-style date parts.
// A missing, non-positive, or future year (beyond maxYear) maps to the
// sentinel so downstream temporal grouping always has a valid integer.
func yearFrom(dateParts []int, maxYear int) int {
	if len(dateParts) == 0 {
		return domain.SentinelYear
	}
	year := dateParts[0]
	if year <= 0 || year > maxYear {
		return domain.SentinelYear
	}
	return year
}

// maxPlausibleYear allows dates up to next year; in-press articles are
// often registered with a cover date slightly ahead of the wall clock.
func maxPlausibleYear() int {
	return time.Now().Year() + 1
}

// collapseSpace trims a string and collapses internal whitespace runs to
// single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clampCount floors a count at zero. Source data occasionally carries
// negative counts from upstream correction artifacts.
func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
