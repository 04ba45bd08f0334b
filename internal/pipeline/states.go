// Package pipeline defines the run states, the six processing stages, and the
// pure transition function that sequences them. The package holds no state of
// its own: a RunContext carries the current state, and the functions here only
// compute legal next values.
package pipeline

// State identifies where a run sits in the pipeline.
type State string

const (
	// StateIngested is the initial state: the issue is loaded, nothing ran.
	StateIngested State = "INGESTED"

	// StateIntelDone means intelligence extraction succeeded.
	StateIntelDone State = "INTEL_DONE"

	// StateImpactDone means impact assessment succeeded.
	StateImpactDone State = "IMPACT_DONE"

	// StatePlanned means the execution plan was produced.
	StatePlanned State = "PLANNED"

	// StateGenerated means the patch was produced.
	StateGenerated State = "GENERATED"

	// StateReviewed means the patch review succeeded.
	StateReviewed State = "REVIEWED"

	// StateValidated means validation succeeded; the run finalizes next.
	StateValidated State = "VALIDATED"

	// StateComplete is the sole success terminal.
	StateComplete State = "COMPLETE"

	// StateAborted is the terminal for budget overruns, retry exhaustion,
	// and cancellation.
	StateAborted State = "ABORTED"

	// StateEscalated is the terminal for security violations; the run needs
	// human intervention rather than being a normal failure.
	StateEscalated State = "ESCALATED"

	// StateRetrying is a transient sub-state held while a retry delay
	// elapses. It always returns to the state it left.
	StateRetrying State = "RETRYING"
)

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateAborted, StateEscalated:
		return true
	}
	return false
}

// Valid reports whether s is a known state value.
func (s State) Valid() bool {
	switch s {
	case StateIngested, StateIntelDone, StateImpactDone, StatePlanned,
		StateGenerated, StateReviewed, StateValidated,
		StateComplete, StateAborted, StateEscalated, StateRetrying:
		return true
	}
	return false
}

// Stage identifies one of the six ordered processing steps.
type Stage string

const (
	// StageIntelligence extracts structured intelligence from the issue.
	StageIntelligence Stage = "intelligence"

	// StageImpact assesses which parts of the repository the issue touches.
	StageImpact Stage = "impact"

	// StagePlanning produces the execution plan.
	StagePlanning Stage = "planning"

	// StageGeneration produces the patch.
	StageGeneration Stage = "generation"

	// StageReview reviews the generated patch.
	StageReview Stage = "review"

	// StageValidation applies and validates the patch.
	StageValidation Stage = "validation"
)

// AllStages returns the six stages in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StageIntelligence,
		StageImpact,
		StagePlanning,
		StageGeneration,
		StageReview,
		StageValidation,
	}
}

// progression is the fixed stage order: each entry maps the state a stage
// runs from to the stage itself and the state its success lands in.
var progression = []struct {
	from  State
	stage Stage
	to    State
}{
	{StateIngested, StageIntelligence, StateIntelDone},
	{StateIntelDone, StageImpact, StateImpactDone},
	{StateImpactDone, StagePlanning, StatePlanned},
	{StatePlanned, StageGeneration, StateGenerated},
	{StateGenerated, StageReview, StateReviewed},
	{StateReviewed, StageValidation, StateValidated},
}

// StageFor returns the stage that runs while a run sits in state s. The
// second return is false when no stage remains (StateValidated, terminals,
// StateRetrying).
func StageFor(s State) (Stage, bool) {
	for _, step := range progression {
		if step.from == s {
			return step.stage, true
		}
	}
	return "", false
}

// OriginState returns the state a stage runs from. It is the inverse of
// StageFor and is how the engine re-enters a stage after a retry delay.
func OriginState(stage Stage) (State, bool) {
	for _, step := range progression {
		if step.stage == stage {
			return step.from, true
		}
	}
	return "", false
}

// StageIndex returns the position of stage in pipeline order, starting at 0.
// Unknown stages return -1.
func StageIndex(stage Stage) int {
	for i, s := range AllStages() {
		if s == stage {
			return i
		}
	}
	return -1
}
