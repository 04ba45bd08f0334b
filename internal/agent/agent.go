// Package agent defines the capability contract the six pipeline stages
// implement, and the fixed ordered roster the engine dispatches through. The
// engine never inspects an agent's internals: it hands over a typed input and
// a budget slice, and gets back an artifact payload, the cost consumed, and a
// classified error on failure.
package agent

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Input is what a stage receives: the issue plus the payloads of every prior
// stage's artifact, and the per-call budget slice.
type Input struct {
	Issue run.Issue

	// Artifacts holds prior stage outputs keyed by stage. The planner reads
	// the impact artifact, generation reads the plan, review reads the
	// patch, validation reads patch and review.
	Artifacts map[pipeline.Stage]string

	// Retrieval is repository context supplied by the indexer, empty when
	// no index is configured.
	Retrieval string

	// MaxTokens is the token allowance for this single call.
	MaxTokens int
}

// Prior returns the payload of an earlier stage's artifact.
func (in Input) Prior(stage pipeline.Stage) string {
	return in.Artifacts[stage]
}

// Output is a stage's work product.
type Output struct {
	// Artifact is the payload persisted under the stage's artifact name.
	Artifact string
}

// Agent performs one stage's work.
type Agent interface {
	// Stage identifies which pipeline stage this agent serves.
	Stage() pipeline.Stage

	// Execute runs the stage. Implementations must honor ctx cancellation;
	// the engine bounds every call with the per-stage timeout.
	Execute(ctx context.Context, in Input) (Output, run.Cost, error)
}

// Roster is the fixed-size ordered set of agents, one per stage, resolved
// once at engine construction so a missing stage is a construction error,
// not a runtime lookup failure.
type Roster struct {
	agents [6]Agent
}

// NewRoster builds a roster from the six stage agents in pipeline order.
func NewRoster(agents ...Agent) (*Roster, error) {
	stages := pipeline.AllStages()
	if len(agents) != len(stages) {
		return nil, fmt.Errorf("roster needs %d agents, got %d", len(stages), len(agents))
	}
	var r Roster
	for i, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("nil agent for stage %s", stages[i])
		}
		if a.Stage() != stages[i] {
			return nil, fmt.Errorf("agent %d serves %s, want %s", i, a.Stage(), stages[i])
		}
		r.agents[i] = a
	}
	return &r, nil
}

// With returns a copy of the roster with a's stage slot replaced. Used to
// layer collaborators (test execution, instrumentation) over a base agent.
func (r *Roster) With(a Agent) (*Roster, error) {
	idx := pipeline.StageIndex(a.Stage())
	if idx < 0 {
		return nil, fmt.Errorf("unknown stage %q", a.Stage())
	}
	next := *r
	next.agents[idx] = a
	return &next, nil
}

// For returns the agent serving a stage.
func (r *Roster) For(stage pipeline.Stage) (Agent, error) {
	idx := pipeline.StageIndex(stage)
	if idx < 0 {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	return r.agents[idx], nil
}

// ArtifactName maps a stage to the file its artifact is persisted under.
func ArtifactName(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageIntelligence:
		return "intelligence.json"
	case pipeline.StageImpact:
		return "impact.json"
	case pipeline.StagePlanning:
		return "plan.md"
	case pipeline.StageGeneration:
		return "patch.diff"
	case pipeline.StageReview:
		return "review.md"
	case pipeline.StageValidation:
		return "validation.json"
	}
	return string(stage) + ".out"
}
