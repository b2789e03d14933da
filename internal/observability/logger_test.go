package observability

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"INFO", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with defaults", func(t *testing.T) {
		logger := NewLogger(DefaultLoggingConfig())
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("respects configured level", func(t *testing.T) {
		cfg := DefaultLoggingConfig()
		cfg.Level = "debug"
		logger := NewLogger(cfg)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("console format does not panic", func(t *testing.T) {
		cfg := DefaultLoggingConfig()
		cfg.Format = "console"
		logger := NewLogger(cfg)
		logger.Info().Msg("console output")
	})
}

func TestWithRunContext(t *testing.T) {
	logger := NewLogger(DefaultLoggingConfig())

	runLogger := WithRunContext(logger, "run-123")
	stageLogger := WithStageContext(runLogger, "extracting", 1)
	pageLogger := WithPageContext(stageLogger, 4, "cursor-token")

	// Contextual loggers must remain usable.
	pageLogger.Debug().Msg("page fetched")
}
