package testrun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPassingCommand(t *testing.T) {
	r := NewRunner(t.TempDir(), "true", time.Minute, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunFailingCommandIsNotAnError(t *testing.T) {
	r := NewRunner(t.TempDir(), "false", time.Minute, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner(t.TempDir(), "echo hello validation", time.Minute, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "hello validation")
}

func TestRunTimesOut(t *testing.T) {
	r := NewRunner(t.TempDir(), "sleep 10", 50*time.Millisecond, nil)

	start := time.Now()
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Passed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunMissingBinary(t *testing.T) {
	r := NewRunner(t.TempDir(), "definitely-not-a-real-binary-xyz", time.Minute, nil)

	_, err := r.Run(context.Background())
	require.Error(t, err)
}

func TestParseFailures(t *testing.T) {
	output := `=== RUN   TestAlpha
--- FAIL: TestAlpha (0.00s)
=== RUN   TestBeta
--- PASS: TestBeta (0.00s)
--- FAIL: TestGamma (0.01s)
FAIL
`
	assert.Equal(t, []string{"TestAlpha", "TestGamma"}, parseFailures(output))
	assert.Nil(t, parseFailures("ok  \tall passed"))
}

func TestSandboxEnvWithholdsSecrets(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "supersecret")
	t.Setenv("PATH", "/usr/bin:/bin")

	env := sandboxEnv()
	for _, kv := range env {
		assert.NotContains(t, kv, "supersecret")
	}
	assert.Contains(t, env, "PATH=/usr/bin:/bin")
}
