// Package config loads patchsmith's configuration: embedded defaults, then an
// optional YAML file, then PATCHSMITH_* environment variables, merged in that
// order. All values are read once at startup and treated as immutable for the
// run or batch; validation failures surface as fatal configuration errors
// before any run starts.
package config

import (
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/policy"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
	"github.com/fyrsmithlabs/patchsmith/internal/telemetry"
)

// Config is the full configuration tree.
type Config struct {
	// Output is the directory holding runs/ and benchmark summaries.
	Output string `koanf:"output"`

	// Concurrency is the benchmark worker-pool size.
	Concurrency int `koanf:"concurrency"`

	Budget    BudgetConfig     `koanf:"budget"`
	Retry     RetryConfig      `koanf:"retry"`
	Cost      run.CostModel    `koanf:"cost"`
	Agents    AgentsConfig     `koanf:"agents"`
	GitHub    GitHubConfig     `koanf:"github"`
	Index     IndexConfig      `koanf:"index"`
	Events    EventsConfig     `koanf:"events"`
	Tests     TestsConfig      `koanf:"tests"`
	Security  SecurityConfig   `koanf:"security"`
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// BudgetConfig mirrors run.Budget with text-parseable durations.
type BudgetConfig struct {
	MaxTokens          int      `koanf:"max_tokens"`
	MaxCostUSD         float64  `koanf:"max_cost_usd"`
	MaxStageTokens     int      `koanf:"max_stage_tokens"`
	MaxRunDuration     Duration `koanf:"max_run_duration"`
	StageTimeout       Duration `koanf:"stage_timeout"`
	MaxRetriesPerStage int      `koanf:"max_retries_per_stage"`
}

// Budget converts to the run-layer ceilings.
func (c BudgetConfig) Budget() run.Budget {
	return run.Budget{
		MaxTokens:          c.MaxTokens,
		MaxCostUSD:         c.MaxCostUSD,
		MaxStageTokens:     c.MaxStageTokens,
		MaxRunDuration:     c.MaxRunDuration.Duration(),
		StageTimeout:       c.StageTimeout.Duration(),
		MaxRetriesPerStage: c.MaxRetriesPerStage,
	}
}

// RetryConfig mirrors policy.RetryConfig with text-parseable durations.
type RetryConfig struct {
	MaxRetries int      `koanf:"max_retries"`
	BaseDelay  Duration `koanf:"base_delay"`
	MaxDelay   Duration `koanf:"max_delay"`
}

// Retry converts to the policy-layer config.
func (c RetryConfig) Retry() policy.RetryConfig {
	return policy.RetryConfig{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay.Duration(),
		MaxDelay:   c.MaxDelay.Duration(),
	}
}

// AgentsConfig selects and parameterizes the six stage agents.
type AgentsConfig struct {
	// Provider is "openai" for LLM-backed agents or "scripted" for the
	// offline dry-run roster.
	Provider string `koanf:"provider"`

	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
}

// GitHubConfig parameterizes issue intake.
type GitHubConfig struct {
	Token             Secret   `koanf:"token"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// IndexConfig parameterizes repository intelligence.
type IndexConfig struct {
	Enabled bool `koanf:"enabled"`

	// Backend is "chromem" (embedded, default) or "qdrant".
	Backend    string `koanf:"backend"`
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
	MaxChunks  int    `koanf:"max_chunks"`

	// Embedder is "hash" (default, no model download) or "fastembed"
	// (local ONNX model, needs a CGO build). ModelCache is where
	// fastembed stores downloaded models; empty uses a temp directory.
	Embedder   string `koanf:"embedder"`
	ModelCache string `koanf:"model_cache"`
}

// EventsConfig parameterizes the run event bus.
type EventsConfig struct {
	// Embedded runs an in-process nats-server. When false, URL names an
	// external cluster.
	Embedded bool   `koanf:"embedded"`
	URL      string `koanf:"url"`
}

// TestsConfig parameterizes the validation sandbox.
type TestsConfig struct {
	Command string   `koanf:"command"`
	Timeout Duration `koanf:"timeout"`
}

// SecurityConfig points at the repo-local secret allowlist.
type SecurityConfig struct {
	AllowlistPath string `koanf:"allowlist_path"`
}

// ServerConfig parameterizes the read-only results API.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the documented defaults for every ceiling and knob.
func Default() Config {
	return Config{
		Output:      "./patchsmith-out",
		Concurrency: 4,
		Budget: BudgetConfig{
			MaxTokens:          100_000,
			MaxCostUSD:         5.00,
			MaxStageTokens:     25_000,
			MaxRunDuration:     Duration(time.Hour),
			StageTimeout:       Duration(5 * time.Minute),
			MaxRetriesPerStage: 3,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(5 * time.Second),
			MaxDelay:   Duration(120 * time.Second),
		},
		Cost: run.CostModel{
			InputPer1K:  0.00015,
			OutputPer1K: 0.0006,
		},
		Agents: AgentsConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
		},
		GitHub: GitHubConfig{
			Timeout:           Duration(30 * time.Second),
			RequestsPerSecond: 2,
		},
		Index: IndexConfig{
			Enabled:    false,
			Backend:    "chromem",
			Collection: "patchsmith",
			MaxChunks:  8,
			Embedder:   "hash",
		},
		Events: EventsConfig{Embedded: true},
		Tests: TestsConfig{
			Command: "go test ./...",
			Timeout: Duration(10 * time.Minute),
		},
		Server:    ServerConfig{Addr: "localhost:9090"},
		Logging:   logging.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate rejects configurations no run could complete under. Every error
// is a fatal configuration error.
func (c *Config) Validate() error {
	if c.Output == "" {
		return run.FatalConfigf("output directory must be set")
	}
	if c.Concurrency < 1 {
		return run.FatalConfigf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Budget.MaxTokens <= 0 {
		return run.FatalConfigf("budget.max_tokens must be positive, got %d", c.Budget.MaxTokens)
	}
	if c.Budget.MaxCostUSD <= 0 {
		return run.FatalConfigf("budget.max_cost_usd must be positive, got %g", c.Budget.MaxCostUSD)
	}
	if c.Budget.StageTimeout.Duration() <= 0 {
		return run.FatalConfigf("budget.stage_timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return run.FatalConfigf("retry.max_retries cannot be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay.Duration() <= 0 {
		return run.FatalConfigf("retry.base_delay must be positive")
	}
	if c.Retry.MaxDelay.Duration() < c.Retry.BaseDelay.Duration() {
		return run.FatalConfigf("retry.max_delay must be at least retry.base_delay")
	}
	switch c.Agents.Provider {
	case "openai":
		if !c.Agents.APIKey.IsSet() {
			return run.FatalConfigf("agents.api_key is required for provider %q", c.Agents.Provider)
		}
	case "scripted":
	default:
		return run.FatalConfigf("unknown agents.provider %q", c.Agents.Provider)
	}
	switch c.Index.Backend {
	case "chromem", "qdrant":
	default:
		return run.FatalConfigf("unknown index.backend %q", c.Index.Backend)
	}
	if c.Index.Backend == "qdrant" && c.Index.Enabled && c.Index.QdrantAddr == "" {
		return run.FatalConfigf("index.qdrant_addr is required for the qdrant backend")
	}
	switch c.Index.Embedder {
	case "hash", "fastembed":
	default:
		return run.FatalConfigf("unknown index.embedder %q", c.Index.Embedder)
	}
	if !c.Events.Embedded && c.Events.URL == "" {
		return run.FatalConfigf("events.url is required when events.embedded is false")
	}
	return nil
}
