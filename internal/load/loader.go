// Package load applies canonical records to the works table in batched,
// idempotent transactions. Re-loading the same records converges to the
// same row state; a failing batch is replayed record-by-record so a single
// bad record cannot discard its batch mates.
package load

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/helixir/crossref-ingest/internal/domain"
	"github.com/helixir/crossref-ingest/internal/observability"
	"github.com/helixir/crossref-ingest/internal/repository"
)

// DefaultBatchSize is the number of records per load transaction when the
// configuration does not specify one.
const DefaultBatchSize = 100

// TxRunner runs a function inside a database transaction. *database.DB
// implements it.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// repoFactory builds a work repository bound to a pool or transaction.
type repoFactory func(db repository.DBTX) repository.WorkRepository

// Loader writes canonical records to PostgreSQL.
type Loader struct {
	db        TxRunner
	newRepo   repoFactory
	batchSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a loader. batchSize <= 0 falls back to DefaultBatchSize.
// metrics may be nil.
func New(db TxRunner, batchSize int, logger zerolog.Logger, metrics *observability.Metrics) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		db: db,
		newRepo: func(dbtx repository.DBTX) repository.WorkRepository {
			return repository.NewPgWorkRepository(dbtx)
		},
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Load applies records to the works table and reports how many rows were
// inserted, overwritten, or failed. Records with an empty RecordID cannot
// be keyed and are counted failed without touching the database.
//
// Per-record data errors are absorbed into the summary so the rest of the
// set still lands. Connection and transaction faults are returned instead:
// an unreachable database must fail the stage, not dissolve into a Failed
// count.
func (l *Loader) Load(ctx context.Context, records []domain.CanonicalRecord) (*domain.LoadSummary, error) {
	summary := &domain.LoadSummary{}

	loadable := make([]domain.CanonicalRecord, 0, len(records))
	for _, rec := range records {
		if rec.RecordID == "" {
			l.logger.Warn().
				Str("title", rec.Title).
				Msg("record has no identity, skipping")
			summary.Failed++
			continue
		}
		loadable = append(loadable, rec)
	}

	for start := 0; start < len(loadable); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := start + l.batchSize
		if end > len(loadable) {
			end = len(loadable)
		}
		batch := loadable[start:end]

		batchSummary, err := l.loadBatch(ctx, batch)
		if err != nil {
			if !recordFault(err) {
				return summary, err
			}
			l.logger.Warn().
				Err(err).
				Int("batch_size", len(batch)).
				Msg("batch rejected by the database, replaying record by record")
			batchSummary, err = l.replayBatch(ctx, batch)
			if err != nil {
				summary.Add(batchSummary)
				return summary, err
			}
		}
		summary.Add(batchSummary)
	}

	if l.metrics != nil {
		m := l.metrics
		m.RowsLoaded.WithLabelValues("inserted").Add(float64(summary.Inserted))
		m.RowsLoaded.WithLabelValues("updated").Add(float64(summary.Updated))
		m.RowsLoaded.WithLabelValues("failed").Add(float64(summary.Failed))
	}

	l.logger.Info().
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("load complete")

	return summary, nil
}

// loadBatch applies one batch inside a single transaction.
func (l *Loader) loadBatch(ctx context.Context, batch []domain.CanonicalRecord) (domain.LoadSummary, error) {
	var summary domain.LoadSummary
	start := time.Now()

	err := l.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		s, err := l.newRepo(tx).UpsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})

	if l.metrics != nil {
		l.metrics.LoadBatchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return domain.LoadSummary{}, err
	}
	return summary, nil
}

// recordFault reports whether err is a per-record data error the load can
// absorb. Server-reported SQL errors (constraint and data violations)
// arrive as *pgconn.PgError; anything else from the transaction, dial
// failures and broken or closed connections included, means the database
// itself is unhealthy and the stage must fail.
func recordFault(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

// replayBatch retries a failed batch one record at a time, each in its own
// transaction, so the offending record fails alone.
func (l *Loader) replayBatch(ctx context.Context, batch []domain.CanonicalRecord) (domain.LoadSummary, error) {
	var summary domain.LoadSummary

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var inserted bool
		err := l.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			var err error
			inserted, err = l.newRepo(tx).Upsert(ctx, rec)
			return err
		})
		if err != nil {
			if !recordFault(err) {
				return summary, err
			}
			l.logger.Warn().
				Err(err).
				Str("record_id", rec.RecordID).
				Msg("record failed to load")
			summary.Failed++
			continue
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}

	return summary, nil
}
