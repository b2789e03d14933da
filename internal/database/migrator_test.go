package database

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewMigratorValidation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("nil database", func(t *testing.T) {
		m, err := NewMigrator(nil, "migrations", logger)
		assert.Error(t, err)
		assert.Nil(t, m)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("uninitialized pool", func(t *testing.T) {
		m, err := NewMigrator(&DB{}, "migrations", logger)
		assert.Error(t, err)
		assert.Nil(t, m)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("missing migrations path", func(t *testing.T) {
		m, err := NewMigrator(&DB{}, "", logger)
		assert.Error(t, err)
		assert.Nil(t, m)
	})
}
