package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/crossref-ingest/internal/config"
	"github.com/helixir/crossref-ingest/internal/observability"
)

func TestBackoffForAttempt(t *testing.T) {
	policy := StagePolicy{
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
	}

	assert.Equal(t, time.Second, policy.backoffForAttempt(0))
	assert.Equal(t, 2*time.Second, policy.backoffForAttempt(1))
	assert.Equal(t, 4*time.Second, policy.backoffForAttempt(2))
	assert.Equal(t, 5*time.Second, policy.backoffForAttempt(3), "capped at max")
	assert.Equal(t, 5*time.Second, policy.backoffForAttempt(10))
}

func TestPoliciesFor(t *testing.T) {
	cfg := config.PipelineConfig{
		StageMaxRetries:        3,
		StageInitialBackoff:    2 * time.Second,
		StageBackoffMultiplier: 1.5,
		StageMaxBackoff:        30 * time.Second,
	}

	policies := policiesFor(cfg)

	assert.Equal(t, 3, policies[StageExtract].MaxRetries)
	assert.Equal(t, 3, policies[StageLoad].MaxRetries)
	assert.Zero(t, policies[StageNormal].MaxRetries, "pure stages are not retried")
	assert.Zero(t, policies[StageDedup].MaxRetries)

	for stage, p := range policies {
		assert.Equal(t, stage, p.Stage)
	}
}

func TestRunStageContext(t *testing.T) {
	p := &Pipeline{
		policies: policiesFor(config.PipelineConfig{}),
		logger:   zerolog.Nop(),
	}

	t.Run("stage name rides in the context", func(t *testing.T) {
		var seen string
		err := p.runStage(context.Background(), StageLoad, func(ctx context.Context) error {
			seen = observability.StageFromContext(ctx)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, string(StageLoad), seen)
	})

	t.Run("structural failures are not retried", func(t *testing.T) {
		calls := 0
		err := p.runStage(context.Background(), StageNormal, func(ctx context.Context) error {
			calls++
			return errors.New("unexpected envelope shape")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
