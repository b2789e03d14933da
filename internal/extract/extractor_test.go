package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/crossref-ingest/internal/crossref"
	"github.com/helixir/crossref-ingest/internal/domain"
	"github.com/helixir/crossref-ingest/internal/rawstore"
)

// stubFetcher replays a scripted sequence of pages keyed by cursor.
type stubFetcher struct {
	pages   map[string]*crossref.Page
	errAt   string
	err     error
	cursors []string
}

func (s *stubFetcher) FetchPage(ctx context.Context, cursor string) (*crossref.Page, error) {
	s.cursors = append(s.cursors, cursor)
	if s.err != nil && cursor == s.errAt {
		return nil, s.err
	}
	page, ok := s.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", cursor)
	}
	return page, nil
}

func makePage(next string, n int) *crossref.Page {
	records := make([]domain.RawRecord, n)
	for i := range records {
		records[i] = domain.RawRecord{Title: fmt.Sprintf("Work %s/%d", next, i)}
	}
	return &crossref.Page{
		Body:         []byte(fmt.Sprintf(`{"page":"%s"}`, next)),
		Records:      records,
		NextCursor:   next,
		TotalResults: 5,
	}
}

func TestExtractorFetch(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()

	t.Run("follows cursors in order and captures pages", func(t *testing.T) {
		fetcher := &stubFetcher{pages: map[string]*crossref.Page{
			crossref.FirstCursor: makePage("c1", 2),
			"c1":                 makePage("c2", 2),
			"c2":                 makePage("c3", 1), // short page terminates
		}}
		store := rawstore.NewMemoryStore()

		result, err := New(fetcher, store, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 0)
		require.NoError(t, err)

		assert.Equal(t, []string{"*", "c1", "c2"}, fetcher.cursors,
			"next page never requested before previous cursor known")
		assert.Equal(t, 3, result.PagesFetched())
		assert.Len(t, result.Records, 5)
		assert.Equal(t, 5, result.TotalResults)

		keys, err := store.List(ctx, runID.String()+"/")
		require.NoError(t, err)
		assert.Equal(t, []string{
			domain.PageKey(runID, 0),
			domain.PageKey(runID, 1),
			domain.PageKey(runID, 2),
		}, keys)

		body, err := store.Get(ctx, domain.PageKey(runID, 1))
		require.NoError(t, err)
		assert.Equal(t, `{"page":"c2"}`, string(body))
	})

	t.Run("terminates on empty page", func(t *testing.T) {
		fetcher := &stubFetcher{pages: map[string]*crossref.Page{
			crossref.FirstCursor: makePage("c1", 2),
			"c1":                 makePage("c2", 0),
		}}
		store := rawstore.NewMemoryStore()

		result, err := New(fetcher, store, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 0)
		require.NoError(t, err)

		assert.Equal(t, 1, result.PagesFetched())
		assert.Equal(t, 1, store.Len(), "empty terminal page is not captured")
	})

	t.Run("terminates on empty next cursor", func(t *testing.T) {
		fetcher := &stubFetcher{pages: map[string]*crossref.Page{
			crossref.FirstCursor: makePage("", 2),
		}}
		store := rawstore.NewMemoryStore()

		result, err := New(fetcher, store, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, result.PagesFetched())
	})

	t.Run("respects max pages", func(t *testing.T) {
		fetcher := &stubFetcher{pages: map[string]*crossref.Page{
			crossref.FirstCursor: makePage("c1", 2),
			"c1":                 makePage("c2", 2),
			"c2":                 makePage("c3", 2),
		}}
		store := rawstore.NewMemoryStore()

		result, err := New(fetcher, store, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 2)
		require.NoError(t, err)

		assert.Equal(t, 2, result.PagesFetched())
		assert.Len(t, fetcher.cursors, 2)
	})

	t.Run("fetch failure returns partial result with captured pages intact", func(t *testing.T) {
		rateLimited := domain.NewRateLimitError("CrossRef", 0)
		fetcher := &stubFetcher{
			pages: map[string]*crossref.Page{
				crossref.FirstCursor: makePage("c1", 2),
			},
			errAt: "c1",
			err:   rateLimited,
		}
		store := rawstore.NewMemoryStore()

		result, err := New(fetcher, store, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRateLimited)

		require.NotNil(t, result)
		assert.Equal(t, 1, result.PagesFetched())
		assert.Len(t, result.Records, 2)

		// The captured page survives the failure.
		_, getErr := store.Get(ctx, domain.PageKey(runID, 0))
		assert.NoError(t, getErr)
	})

	t.Run("storage failure aborts with storage error", func(t *testing.T) {
		fetcher := &stubFetcher{pages: map[string]*crossref.Page{
			crossref.FirstCursor: makePage("c1", 2),
		}}

		result, err := New(fetcher, failingStore{}, 2, zerolog.Nop(), nil).Fetch(ctx, runID, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.Zero(t, result.PagesFetched())
	})
}

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, payload []byte) error {
	return errors.New("disk full")
}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, rawstore.ErrNotFound
}

func (failingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}
