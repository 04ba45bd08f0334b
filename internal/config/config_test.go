package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

func TestDefaultValidatesWithScriptedProvider(t *testing.T) {
	cfg := Default()
	cfg.Agents.Provider = "scripted"
	require.NoError(t, cfg.Validate())
}

func TestDefaultCeilings(t *testing.T) {
	cfg := Default()
	b := cfg.Budget.Budget()
	assert.Equal(t, 100_000, b.MaxTokens)
	assert.Equal(t, 5.00, b.MaxCostUSD)
	assert.Equal(t, 25_000, b.MaxStageTokens)
	assert.Equal(t, time.Hour, b.MaxRunDuration)
	assert.Equal(t, 5*time.Minute, b.StageTimeout)

	r := cfg.Retry.Retry()
	assert.Equal(t, 3, r.MaxRetries)
	assert.Equal(t, 5*time.Second, r.BaseDelay)
	assert.Equal(t, 120*time.Second, r.MaxDelay)

	assert.Equal(t, "hash", cfg.Index.Embedder)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty output", func(c *Config) { c.Output = "" }, "output"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero token budget", func(c *Config) { c.Budget.MaxTokens = 0 }, "max_tokens"},
		{"negative cost budget", func(c *Config) { c.Budget.MaxCostUSD = -1 }, "max_cost_usd"},
		{"zero stage timeout", func(c *Config) { c.Budget.StageTimeout = 0 }, "stage_timeout"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "max_retries"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = Duration(time.Second) }, "max_delay"},
		{"openai without key", func(c *Config) { c.Agents.Provider = "openai"; c.Agents.APIKey = "" }, "api_key"},
		{"unknown provider", func(c *Config) { c.Agents.Provider = "psychic" }, "provider"},
		{"unknown index backend", func(c *Config) { c.Index.Backend = "pinecone" }, "backend"},
		{"unknown index embedder", func(c *Config) { c.Index.Embedder = "openai" }, "embedder"},
		{"external events without url", func(c *Config) { c.Events.Embedded = false }, "events.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agents.Provider = "scripted"
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, run.ClassFatalConfiguration, run.ClassOf(err))
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecretNeverLeaks(t *testing.T) {
	s := Secret("ghp_supersecrettoken")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))

	got, err := json.Marshal(struct{ Token Secret }{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(got), "supersecret")

	assert.Equal(t, "ghp_supersecrettoken", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())
}
