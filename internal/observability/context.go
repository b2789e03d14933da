package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	runIDKey contextKey = "run_id"
	stageKey contextKey = "stage"
)

// WithRunID adds a pipeline run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithStage adds the current pipeline stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext retrieves the pipeline stage name from context.
// Returns empty string if not present.
func StageFromContext(ctx context.Context) string {
	if v := ctx.Value(stageKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
