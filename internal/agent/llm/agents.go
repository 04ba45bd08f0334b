package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/patchsmith/internal/agent"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// stageAgent runs one pipeline stage as a single chat completion.
type stageAgent struct {
	stage       pipeline.Stage
	model       Model
	pricing     run.CostModel
	temperature float64
}

// NewRoster builds the six production agents over one shared model.
func NewRoster(model Model, pricing run.CostModel, temperature float64) (*agent.Roster, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	stages := pipeline.AllStages()
	agents := make([]agent.Agent, len(stages))
	for i, stage := range stages {
		agents[i] = &stageAgent{
			stage:       stage,
			model:       model,
			pricing:     pricing,
			temperature: temperature,
		}
	}
	return agent.NewRoster(agents...)
}

func (a *stageAgent) Stage() pipeline.Stage {
	return a.stage
}

func (a *stageAgent) Execute(ctx context.Context, in agent.Input) (agent.Output, run.Cost, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(a.stage)),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(a.stage, in)),
	}

	opts := []llms.CallOption{
		llms.WithTemperature(a.temperature),
	}
	if in.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(in.MaxTokens))
	}

	resp, err := a.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return agent.Output{}, run.Cost{}, ctx.Err()
		}
		return agent.Output{}, run.Cost{}, classifyErr(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return agent.Output{}, run.Cost{}, run.AgentFailure(fmt.Errorf("model returned no choices for stage %s", a.stage))
	}

	choice := resp.Choices[0]
	input, output := usage(choice)
	cost := a.pricing.Price(input, output)

	artifact := strings.TrimSpace(choice.Content)
	if artifact == "" {
		return agent.Output{}, cost, run.AgentFailure(fmt.Errorf("model returned empty content for stage %s", a.stage))
	}
	if a.stage == pipeline.StageGeneration {
		artifact = extractDiff(artifact)
		if artifact == "" {
			return agent.Output{}, cost, run.AgentFailure(fmt.Errorf("generation output contains no unified diff"))
		}
	}

	return agent.Output{Artifact: artifact}, cost, nil
}

// extractDiff strips markdown fencing and any prose around the unified diff.
func extractDiff(content string) string {
	if fenced := extractFence(content, "```diff"); fenced != "" {
		return fenced
	}
	if fenced := extractFence(content, "```"); fenced != "" && looksLikeDiff(fenced) {
		return fenced
	}
	if looksLikeDiff(content) {
		return content
	}
	return ""
}

func extractFence(content, open string) string {
	start := strings.Index(content, open)
	if start < 0 {
		return ""
	}
	rest := content[start+len(open):]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func looksLikeDiff(s string) bool {
	return strings.Contains(s, "--- ") && strings.Contains(s, "+++ ") && strings.Contains(s, "@@")
}
