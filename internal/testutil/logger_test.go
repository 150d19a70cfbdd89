package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferLogger(t *testing.T) {
	logger, logs := NewBufferLogger()

	logger.Warn("run history disabled", "error", "disk full")
	logger.Debug("cached", "model", "flights")
	logger.Info("cached", "model", "airports")

	lines := logs.Lines("run history disabled")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "level=WARN")
	assert.Contains(t, lines[0], `error="disk full"`)

	assert.Len(t, logs.Lines("cached"), 2)
	assert.Empty(t, logs.Lines("missing"))
}

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	require.NotNil(t, logger)
	logger.Debug("visible with -v", "key", "value")
}
