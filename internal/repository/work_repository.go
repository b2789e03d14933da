package repository

import (
	"context"
	"time"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// Work is one row of the works table.
type Work struct {
	domain.NormalizedRecord

	// MergedCount is how many duplicate records the row's canonical
	// record subsumed when it was last loaded.
	MergedCount int

	// LoadedAt is when the row was last inserted or overwritten.
	LoadedAt time.Time
}

// WorkRepository manages persistence of canonical bibliographic records.
type WorkRepository interface {
	// Upsert inserts or overwrites a single record keyed by its RecordID.
	// Returns true when a new row was inserted, false when an existing row
	// was overwritten.
	Upsert(ctx context.Context, rec domain.CanonicalRecord) (inserted bool, err error)

	// UpsertBatch applies a batch of records in one database round trip.
	// Either every record in the batch is applied or the error is returned
	// with no summary; callers run it inside a transaction.
	UpsertBatch(ctx context.Context, recs []domain.CanonicalRecord) (domain.LoadSummary, error)

	// GetByRecordID retrieves a work by its record ID.
	// Returns domain.ErrNotFound if no row exists.
	GetByRecordID(ctx context.Context, recordID string) (*Work, error)

	// Count returns the total number of rows in the works table.
	Count(ctx context.Context) (int64, error)
}
