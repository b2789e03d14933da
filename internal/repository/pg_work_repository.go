package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// Compile-time interface verification.
var _ WorkRepository = (*PgWorkRepository)(nil)

// PgWorkRepository is a PostgreSQL implementation of WorkRepository.
type PgWorkRepository struct {
	db DBTX
}

// NewPgWorkRepository creates a new PostgreSQL work repository.
func NewPgWorkRepository(db DBTX) *PgWorkRepository {
	return &PgWorkRepository{db: db}
}

// upsertQuery overwrites every mutable column on conflict so a re-load
// always converges to the latest batch's values (last writer wins).
// (xmax = 0) is true only for rows created by this statement, which is how
// inserts are told apart from updates.
const upsertQuery = `
	INSERT INTO works (
		record_id, doi, title, authors, published_year,
		journal, publisher, citation_count, reference_count,
		quality_flags, merged_count, loaded_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()
	)
	ON CONFLICT (record_id) DO UPDATE SET
		doi = EXCLUDED.doi,
		title = EXCLUDED.title,
		authors = EXCLUDED.authors,
		published_year = EXCLUDED.published_year,
		journal = EXCLUDED.journal,
		publisher = EXCLUDED.publisher,
		citation_count = EXCLUDED.citation_count,
		reference_count = EXCLUDED.reference_count,
		quality_flags = EXCLUDED.quality_flags,
		merged_count = EXCLUDED.merged_count,
		loaded_at = NOW()
	RETURNING (xmax = 0)`

// upsertArgs renders one record as the argument list for upsertQuery.
func upsertArgs(rec domain.CanonicalRecord) ([]interface{}, error) {
	authorsJSON, err := json.Marshal(rec.Authors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	flagsJSON, err := json.Marshal(rec.Flags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quality flags: %w", err)
	}

	return []interface{}{
		rec.RecordID,
		rec.DOI,
		rec.Title,
		authorsJSON,
		rec.PublishedYear,
		rec.Journal,
		rec.Publisher,
		rec.CitationCount,
		rec.ReferenceCount,
		flagsJSON,
		rec.MergedCount,
	}, nil
}

// Upsert inserts or overwrites a single record keyed by its RecordID.
func (r *PgWorkRepository) Upsert(ctx context.Context, rec domain.CanonicalRecord) (bool, error) {
	if rec.RecordID == "" {
		return false, domain.NewValidationError("record_id", "record ID is required")
	}

	args, err := upsertArgs(rec)
	if err != nil {
		return false, err
	}

	var inserted bool
	if err := r.db.QueryRow(ctx, upsertQuery, args...).Scan(&inserted); err != nil {
		return false, fmt.Errorf("failed to upsert work %s: %w", rec.RecordID, err)
	}
	return inserted, nil
}

// UpsertBatch applies a batch of records in one database round trip using
// pgx's batch protocol. All records are queued up front; results are read
// back in order and tallied into a summary.
func (r *PgWorkRepository) UpsertBatch(ctx context.Context, recs []domain.CanonicalRecord) (domain.LoadSummary, error) {
	var summary domain.LoadSummary
	if len(recs) == 0 {
		return summary, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		if rec.RecordID == "" {
			return domain.LoadSummary{}, domain.NewValidationError("record_id", "record ID is required")
		}
		args, err := upsertArgs(rec)
		if err != nil {
			return domain.LoadSummary{}, err
		}
		batch.Queue(upsertQuery, args...)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range recs {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return domain.LoadSummary{}, fmt.Errorf("failed to upsert work %s: %w", recs[i].RecordID, err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}

	return summary, nil
}

// GetByRecordID retrieves a work by its record ID.
func (r *PgWorkRepository) GetByRecordID(ctx context.Context, recordID string) (*Work, error) {
	if recordID == "" {
		return nil, domain.NewValidationError("record_id", "record ID is required")
	}

	query := `
		SELECT record_id, doi, title, authors, published_year,
			journal, publisher, citation_count, reference_count,
			quality_flags, merged_count, loaded_at
		FROM works
		WHERE record_id = $1`

	var (
		work        Work
		authorsJSON []byte
		flagsJSON   []byte
	)

	err := r.db.QueryRow(ctx, query, recordID).Scan(
		&work.RecordID,
		&work.DOI,
		&work.Title,
		&authorsJSON,
		&work.PublishedYear,
		&work.Journal,
		&work.Publisher,
		&work.CitationCount,
		&work.ReferenceCount,
		&flagsJSON,
		&work.MergedCount,
		&work.LoadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("work", recordID)
		}
		return nil, fmt.Errorf("failed to get work by record ID: %w", err)
	}

	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &work.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &work.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quality flags: %w", err)
		}
	}

	return &work, nil
}

// Count returns the total number of rows in the works table.
func (r *PgWorkRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM works").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count works: %w", err)
	}
	return count, nil
}
