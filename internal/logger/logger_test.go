package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, Level("debug"))
	assert.Equal(t, zap.WarnLevel, Level(" WARN "))
	assert.Equal(t, zap.ErrorLevel, Level("error"))
	assert.Equal(t, zap.InfoLevel, Level(""))
	assert.Equal(t, zap.InfoLevel, Level("chatty"))
}

func TestNew(t *testing.T) {
	l, err := New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.ErrorLevel))
}
