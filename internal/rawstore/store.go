// Package rawstore provides durable key-addressed storage for unmodified
// API response pages. Raw capture happens before a page is handed
// downstream, so a failed run never loses fetched data; stored pages are
// immutable and retained for replay and audit.
//
// Keys follow the "{run_id}/{page_index}" scheme from domain.PageKey.
package rawstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("rawstore: key not found")

// Store is the capability interface for raw page storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores payload under key. Overwriting an existing key is allowed
	// (re-fetching a page during a retried run re-captures identical content);
	// callers never mutate stored pages.
	Put(ctx context.Context, key string, payload []byte) error

	// Get retrieves the payload stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys beginning with prefix, in lexical order.
	// Page keys zero-pad the page index, so lexical order is fetch order.
	List(ctx context.Context, prefix string) ([]string, error)
}
