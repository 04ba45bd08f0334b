// Package llm provides the production stage agents. Each of the six stages
// is one chat completion against the configured model with a stage-specific
// system prompt; the completion text becomes the stage artifact and reported
// token usage becomes the stage cost.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/patchsmith/internal/config"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Model is the completion surface the agents use. *openai.LLM satisfies it;
// tests install fakes.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewModel builds the configured chat model.
func NewModel(cfg config.AgentsConfig) (Model, error) {
	if !cfg.APIKey.IsSet() {
		return nil, run.FatalConfigf("agents.api_key is not set")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, run.FatalConfig(fmt.Errorf("failed to initialize model: %w", err))
	}
	return model, nil
}

// classifyErr maps a completion failure onto the run error taxonomy.
// Rate limits and upstream outages are transient; everything else is an
// agent failure.
func classifyErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "overloaded"):
		return run.Transient(err)
	default:
		return run.AgentFailure(err)
	}
}

// usage pulls token counts out of a choice's generation info. Providers
// report these under slightly different keys and value types.
func usage(choice *llms.ContentChoice) (input, output int) {
	if choice == nil || choice.GenerationInfo == nil {
		return 0, 0
	}
	input = intValue(choice.GenerationInfo, "PromptTokens", "prompt_tokens", "input_tokens")
	output = intValue(choice.GenerationInfo, "CompletionTokens", "completion_tokens", "output_tokens")
	return input, output
}

func intValue(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
