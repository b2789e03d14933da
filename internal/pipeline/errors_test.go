package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/crossref-ingest/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"rate limit sentinel", domain.NewRateLimitError("CrossRef", 0), Transient},
		{"service unavailable sentinel", domain.ErrServiceUnavailable, Transient},
		{"wrapped rate limit", fmt.Errorf("fetching: %w", domain.ErrRateLimited), Transient},
		{"network timeout message", errors.New("dial tcp: i/o timeout"), Transient},
		{"connection refused message", errors.New("connection refused"), Transient},
		{"unknown defaults to transient", errors.New("something odd happened"), Transient},

		{"validation error", domain.NewValidationError("record_id", "required"), Structural},
		{"not found", domain.NewNotFoundError("run", "abc"), Structural},
		{"decode failure message", errors.New("decoding response: unexpected EOF"), Structural},

		{"context cancelled", context.Canceled, Fatal},
		{"deadline exceeded", context.DeadlineExceeded, Fatal},
		{"unauthorized", domain.ErrUnauthorized, Fatal},
		{"storage failure", domain.NewStorageError("put", "run/000001", errors.New("disk full")), Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorCategoryString(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "structural", Structural.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "unknown", ErrorCategory(99).String())
}

func TestStateTransitions(t *testing.T) {
	assert.Equal(t, StateNormalizing, StateExtracting.Next())
	assert.Equal(t, StateDeduplicating, StateNormalizing.Next())
	assert.Equal(t, StateLoading, StateDeduplicating.Next())
	assert.Equal(t, StateDone, StateLoading.Next())

	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateLoading.Terminal())
}
