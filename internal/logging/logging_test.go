package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_Environments(t *testing.T) {
	require.NoError(t, Init("production", "warn"))
	assert.False(t, Get().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Get().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, Init("development", ""))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))
}

func TestInit_BadLevel(t *testing.T) {
	assert.Error(t, Init("production", "loud"))
}

func TestSet_RoutesHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(zap.NewNop()) })

	Info("evaluated", zap.String("action", "APPROVE"))
	Warn("validator retry", zap.Int("attempt", 2))
	Error("corpus unavailable")
	Debug("signature computed")

	require.Equal(t, 4, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "evaluated", first.Message)
	assert.Equal(t, "APPROVE", first.ContextMap()["action"])
}
