package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Scripted is an agent that replays a fixed script of results, one entry per
// attempt. The engine's scenario tests and the dry-run roster are built on
// it. Safe for use from a single engine goroutine; the attempt counter is
// guarded so concurrent stress tests over shared scripts stay race-free.
type Scripted struct {
	stage pipeline.Stage

	mu      sync.Mutex
	script  []ScriptStep
	attempt int
}

// ScriptStep is one attempt's canned result.
type ScriptStep struct {
	Artifact string
	Cost     run.Cost
	Err      error

	// Sleep simulates work; a step sleeping past the stage timeout
	// exercises the engine's timeout path.
	Sleep time.Duration
}

// NewScripted builds a scripted agent for a stage. Attempts past the end of
// the script repeat the final step.
func NewScripted(stage pipeline.Stage, steps ...ScriptStep) *Scripted {
	return &Scripted{stage: stage, script: steps}
}

// Succeed returns a scripted agent that always succeeds with the payload.
func Succeed(stage pipeline.Stage, artifact string, cost run.Cost) *Scripted {
	return NewScripted(stage, ScriptStep{Artifact: artifact, Cost: cost})
}

func (s *Scripted) Stage() pipeline.Stage {
	return s.stage
}

// Attempts reports how many times the agent was invoked.
func (s *Scripted) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Scripted) Execute(ctx context.Context, in Input) (Output, run.Cost, error) {
	s.mu.Lock()
	if len(s.script) == 0 {
		s.mu.Unlock()
		return Output{}, run.Cost{}, run.AgentFailure(fmt.Errorf("stage %s has no script", s.stage))
	}
	idx := s.attempt
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	step := s.script[idx]
	s.attempt++
	s.mu.Unlock()

	if step.Sleep > 0 {
		select {
		case <-time.After(step.Sleep):
		case <-ctx.Done():
			return Output{}, run.Cost{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return Output{}, step.Cost, step.Err
	}
	return Output{Artifact: step.Artifact}, step.Cost, nil
}

// ScriptedRoster builds a roster whose six agents succeed first-try with
// plausible placeholder artifacts. The dry-run CLI path uses it so the whole
// control core can be exercised without an LLM collaborator.
func ScriptedRoster() (*Roster, error) {
	cost := run.Cost{InputTokens: 400, OutputTokens: 150, USD: 0.002}
	return NewRoster(
		Succeed(pipeline.StageIntelligence, `{"summary":"dry-run intelligence","components":[]}`, cost),
		Succeed(pipeline.StageImpact, `{"files":[],"risk":"low"}`, cost),
		Succeed(pipeline.StagePlanning, "# Plan\n\n1. Reproduce.\n2. Fix.\n3. Test.\n", cost),
		Succeed(pipeline.StageGeneration, "--- a/README.md\n+++ b/README.md\n@@ -1 +1 @@\n-old\n+new\n", cost),
		Succeed(pipeline.StageReview, "# Review\n\nLooks correct.\n", cost),
		Succeed(pipeline.StageValidation, `{"tests_passed":true,"passed":1,"failed":0}`, cost),
	)
}
