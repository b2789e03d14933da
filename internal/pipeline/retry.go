package pipeline

import (
	"context"
	"time"

	"github.com/helixir/crossref-ingest/internal/config"
	"github.com/helixir/crossref-ingest/internal/observability"
)

// StagePolicy holds the retry configuration for a single stage. Policies
// are plain data so behaviour changes are configuration edits, not code.
type StagePolicy struct {
	// Stage is the stage this policy applies to.
	Stage Stage

	// MaxRetries is the maximum number of retry attempts for transient errors.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier controls exponential growth of the backoff interval.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff interval.
	MaxBackoff time.Duration
}

// backoffForAttempt computes the backoff duration for the given attempt (0-indexed).
func (p StagePolicy) backoffForAttempt(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
			break
		}
	}
	return backoff
}

// policiesFor builds the per-stage retry policies from configuration.
// Normalization and deduplication are pure in-memory transforms; nothing
// transient can happen to them, so they run once.
func policiesFor(cfg config.PipelineConfig) map[Stage]StagePolicy {
	retried := StagePolicy{
		MaxRetries:        cfg.StageMaxRetries,
		InitialBackoff:    cfg.StageInitialBackoff,
		BackoffMultiplier: cfg.StageBackoffMultiplier,
		MaxBackoff:        cfg.StageMaxBackoff,
	}

	policies := map[Stage]StagePolicy{
		StageExtract: retried,
		StageNormal:  {},
		StageDedup:   {},
		StageLoad:    retried,
	}
	for stage, p := range policies {
		p.Stage = stage
		policies[stage] = p
	}
	return policies
}

// runStage executes fn under a stage's retry policy. Transient failures
// are retried up to MaxRetries times with exponential backoff; structural
// and fatal failures return immediately. The returned error is the last
// error observed. The stage name rides in the context handed to fn so
// downstream log events can pick it up.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	policy := p.policies[stage]
	stageCtx := observability.WithStage(ctx, string(stage))

	var lastErr error
	for attempt := 0; ; attempt++ {
		logger := observability.WithStageContext(p.logger, string(stage), attempt+1)

		lastErr = fn(stageCtx)
		if lastErr == nil {
			return nil
		}

		category := Classify(lastErr)
		if category != Transient || attempt >= policy.MaxRetries {
			logger.Error().
				Err(lastErr).
				Str("category", category.String()).
				Msg("stage failed")
			return lastErr
		}

		backoff := policy.backoffForAttempt(attempt)
		logger.Warn().
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("transient stage failure, retrying")

		if p.metrics != nil {
			p.metrics.StageRetries.WithLabelValues(string(stage)).Inc()
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
