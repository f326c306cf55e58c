package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewLogger_Formats(t *testing.T) {
	jsonLogger, err := NewLogger("debug", "json", "wisefido-triage")
	require.NoError(t, err)
	assert.True(t, jsonLogger.Core().Enabled(zapcore.DebugLevel))

	consoleLogger, err := NewLogger("warn", "console", "")
	require.NoError(t, err)
	assert.False(t, consoleLogger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, consoleLogger.Core().Enabled(zapcore.WarnLevel))
}
