package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestNewValidatesLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"}, nil)
	require.Error(t, err)

	l, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NoError(t, l.Sync())
}

func TestContextFieldsCarryRunAndStage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{zap: zap.New(core)}

	ctx := WithStage(WithRun(context.Background(), "run-123"), "planning")
	l.Info(ctx, "stage start", zap.Int("attempt", 2))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-123", fields["run_id"])
	assert.Equal(t, "planning", fields["stage"])
	assert.EqualValues(t, 2, fields["attempt"])
}

func TestContextFieldsEmptyContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Equal(t, "", RunIDFromContext(context.Background()))
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{zap: zap.New(core)}

	l.Named("engine").With(zap.String("issue", "acme/widget#1")).Info(context.Background(), "hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "acme/widget#1", entries[0].ContextMap()["issue"])
}
