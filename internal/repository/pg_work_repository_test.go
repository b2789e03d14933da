package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// Helper to create a valid canonical record for testing.
func newTestRecord(recordID string) domain.CanonicalRecord {
	return domain.CanonicalRecord{
		NormalizedRecord: domain.NormalizedRecord{
			RecordID:       recordID,
			Title:          "CRISPR-Cas Systems for Editing Genomes",
			Authors:        []string{"John Smith", "Jane Doe"},
			PublishedYear:  2014,
			DOI:            "10.1038/nature12373",
			Journal:        "Nature Biotechnology",
			Publisher:      "Springer Nature",
			CitationCount:  5000,
			ReferenceCount: 42,
		},
		MergedCount: 1,
	}
}

func expectUpsert(mock pgxmock.PgxPoolIface, rec domain.CanonicalRecord, inserted bool) {
	mock.ExpectQuery("INSERT INTO works").
		WithArgs(
			rec.RecordID, rec.DOI, rec.Title, pgxmock.AnyArg(), rec.PublishedYear,
			rec.Journal, rec.Publisher, rec.CitationCount, rec.ReferenceCount,
			pgxmock.AnyArg(), rec.MergedCount,
		).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(inserted))
}

func TestNewPgWorkRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgWorkRepository(mock)
	assert.NotNil(t, repo)
	assert.NotNil(t, repo.db)
}

func TestPgWorkRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		rec := newTestRecord("doi:10.1038/nature12373")

		expectUpsert(mock, rec, true)

		inserted, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overwrites existing row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		rec := newTestRecord("doi:10.1038/nature12373")

		expectUpsert(mock, rec, false)

		inserted, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("rejects empty record ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)

		_, err = repo.Upsert(ctx, newTestRecord(""))
		require.Error(t, err)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "record_id", validationErr.Field)
	})

	t.Run("propagates query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		rec := newTestRecord("doi:10.1038/nature12373")

		mock.ExpectQuery("INSERT INTO works").
			WillReturnError(errors.New("connection reset"))

		_, err = repo.Upsert(ctx, rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upsert work")
	})
}

func TestPgWorkRepository_UpsertBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("tallies inserts and updates", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		recs := []domain.CanonicalRecord{
			newTestRecord("doi:10.1/a"),
			newTestRecord("doi:10.1/b"),
			newTestRecord("doi:10.1/c"),
		}

		expectedBatch := mock.ExpectBatch()
		for i, rec := range recs {
			expectedBatch.ExpectQuery("INSERT INTO works").
				WithArgs(
					rec.RecordID, rec.DOI, rec.Title, pgxmock.AnyArg(), rec.PublishedYear,
					rec.Journal, rec.Publisher, rec.CitationCount, rec.ReferenceCount,
					pgxmock.AnyArg(), rec.MergedCount,
				).
				WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(i == 0))
		}

		summary, err := repo.UpsertBatch(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Inserted)
		assert.Equal(t, 2, summary.Updated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent re-load reports updates only", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		rec := newTestRecord("doi:10.1/a")
		recs := []domain.CanonicalRecord{rec}

		// First load inserts; the identical second load updates in place.
		first := mock.ExpectBatch()
		first.ExpectQuery("INSERT INTO works").
			WithArgs(
				rec.RecordID, rec.DOI, rec.Title, pgxmock.AnyArg(), rec.PublishedYear,
				rec.Journal, rec.Publisher, rec.CitationCount, rec.ReferenceCount,
				pgxmock.AnyArg(), rec.MergedCount,
			).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(true))
		second := mock.ExpectBatch()
		second.ExpectQuery("INSERT INTO works").
			WithArgs(
				rec.RecordID, rec.DOI, rec.Title, pgxmock.AnyArg(), rec.PublishedYear,
				rec.Journal, rec.Publisher, rec.CitationCount, rec.ReferenceCount,
				pgxmock.AnyArg(), rec.MergedCount,
			).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(false))

		summary, err := repo.UpsertBatch(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, domain.LoadSummary{Inserted: 1}, summary)

		summary, err = repo.UpsertBatch(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, domain.LoadSummary{Updated: 1}, summary)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		summary, err := repo.UpsertBatch(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, summary.Total())
	})

	t.Run("rejects record with empty ID before sending", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		recs := []domain.CanonicalRecord{newTestRecord("doi:10.1/a"), newTestRecord("")}

		_, err = repo.UpsertBatch(ctx, recs)
		require.Error(t, err)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})

	t.Run("propagates batch failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		recs := []domain.CanonicalRecord{newTestRecord("doi:10.1/a")}

		expectedBatch := mock.ExpectBatch()
		expectedBatch.ExpectQuery("INSERT INTO works").
			WillReturnError(errors.New("deadlock detected"))

		_, err = repo.UpsertBatch(ctx, recs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "doi:10.1/a")
	})
}

func TestPgWorkRepository_GetByRecordID(t *testing.T) {
	ctx := context.Background()

	t.Run("returns work with unmarshalled JSON columns", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		loadedAt := time.Now().UTC()

		authorsJSON, err := json.Marshal([]string{"John Smith"})
		require.NoError(t, err)
		flagsJSON, err := json.Marshal(domain.QualityFlags{MissingJournal: true})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT record_id, doi, title").
			WithArgs("doi:10.1/a").
			WillReturnRows(pgxmock.NewRows([]string{
				"record_id", "doi", "title", "authors", "published_year",
				"journal", "publisher", "citation_count", "reference_count",
				"quality_flags", "merged_count", "loaded_at",
			}).AddRow(
				"doi:10.1/a", "10.1/a", "A Title", authorsJSON, 2020,
				"", "Pub", 3, 7,
				flagsJSON, 2, loadedAt,
			))

		work, err := repo.GetByRecordID(ctx, "doi:10.1/a")
		require.NoError(t, err)
		assert.Equal(t, []string{"John Smith"}, work.Authors)
		assert.True(t, work.Flags.MissingJournal)
		assert.Equal(t, 2, work.MergedCount)
		assert.Equal(t, loadedAt, work.LoadedAt)
	})

	t.Run("maps missing row to not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)

		mock.ExpectQuery("SELECT record_id, doi, title").
			WithArgs("doi:10.1/missing").
			WillReturnRows(pgxmock.NewRows([]string{"record_id"}))

		_, err = repo.GetByRecordID(ctx, "doi:10.1/missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects empty record ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgWorkRepository(mock)
		_, err = repo.GetByRecordID(ctx, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgWorkRepository_Count(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgWorkRepository(mock)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}
