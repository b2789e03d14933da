// Package repository provides data access interfaces and the PostgreSQL
// implementation for the works table.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple
// goroutines. The underlying pgxpool handles connection pooling and
// synchronization.
//
// # Error Handling
//
// Methods return domain-specific errors from the domain package and wrap
// database errors with context using fmt.Errorf with the %w verb.
//
// # Transactions
//
// Repositories accept the DBTX interface, so the same implementation works
// against the pool or inside a transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    txRepo := repository.NewPgWorkRepository(tx)
//	    return txRepo.UpsertBatch(ctx, records)
//	})
package repository

import (
	"github.com/helixir/crossref-ingest/internal/database"
)

// DBTX is the database interface supporting both pool and transaction
// contexts. Repository constructors accept it so callers choose whether an
// operation runs on the pool or joins an open transaction, and tests can
// substitute a mock.
type DBTX = database.DBTX
