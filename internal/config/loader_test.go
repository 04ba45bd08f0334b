package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Setenv("PATCHSMITH_AGENTS_PROVIDER", "scripted")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./patchsmith-out", cfg.Output)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 100_000, cfg.Budget.MaxTokens)
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("PATCHSMITH_AGENTS_PROVIDER", "scripted")
	path := writeConfigFile(t, `
output: /tmp/psout
concurrency: 8
budget:
  max_tokens: 50000
  stage_timeout: 90s
retry:
  base_delay: 2s
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/psout", cfg.Output)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 50_000, cfg.Budget.MaxTokens)
	assert.Equal(t, 90*time.Second, cfg.Budget.StageTimeout.Duration())
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay.Duration())
	// Untouched keys keep defaults.
	assert.Equal(t, 5.00, cfg.Budget.MaxCostUSD)
	assert.Equal(t, 120*time.Second, cfg.Retry.MaxDelay.Duration())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "concurrency: 8\n", 0600)
	t.Setenv("PATCHSMITH_AGENTS_PROVIDER", "scripted")
	t.Setenv("PATCHSMITH_CONCURRENCY", "16")
	t.Setenv("PATCHSMITH_BUDGET_MAX_COST_USD", "1.25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Concurrency)
	assert.Equal(t, 1.25, cfg.Budget.MaxCostUSD)
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	path := writeConfigFile(t, "concurrency: 8\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("PATCHSMITH_AGENTS_PROVIDER", "scripted")
	path := writeConfigFile(t, "budget:\n  max_tokens: -1\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens")
}

func TestLoadSecretFromEnv(t *testing.T) {
	t.Setenv("PATCHSMITH_AGENTS_PROVIDER", "openai")
	t.Setenv("PATCHSMITH_AGENTS_API_KEY", "sk-test-123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Agents.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Agents.APIKey.String())
}
