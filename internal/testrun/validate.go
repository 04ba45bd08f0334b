package testrun

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/patchsmith/internal/agent"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Validating wraps a validation-stage agent with test execution: after the
// inner agent renders its assessment, the repository's test command runs
// and both feed the combined validation artifact.
func Validating(inner agent.Agent, runner *Runner) agent.Agent {
	return &validatingAgent{inner: inner, runner: runner}
}

type validatingAgent struct {
	inner  agent.Agent
	runner *Runner
}

func (a *validatingAgent) Stage() pipeline.Stage {
	return a.inner.Stage()
}

func (a *validatingAgent) Execute(ctx context.Context, in agent.Input) (agent.Output, run.Cost, error) {
	out, cost, err := a.inner.Execute(ctx, in)
	if err != nil {
		return out, cost, err
	}

	result, err := a.runner.Run(ctx)
	if err != nil {
		return agent.Output{}, cost, err
	}

	combined := struct {
		Assessment json.RawMessage `json:"assessment"`
		Tests      Result          `json:"tests"`
	}{Tests: result}
	if json.Valid([]byte(out.Artifact)) {
		combined.Assessment = json.RawMessage(out.Artifact)
	} else {
		quoted, _ := json.Marshal(out.Artifact)
		combined.Assessment = quoted
	}

	payload, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return agent.Output{}, cost, run.AgentFailure(fmt.Errorf("marshal validation artifact: %w", err))
	}

	if !result.Passed {
		return agent.Output{Artifact: string(payload)}, cost,
			run.AgentFailure(fmt.Errorf("test command %q failed: exit %d, %d failure(s)",
				result.Command, result.ExitCode, len(result.Failures)))
	}
	return agent.Output{Artifact: string(payload)}, cost, nil
}
