package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessPathTable(t *testing.T) {
	// The fixed stage order, as data.
	table := []struct {
		from State
		to   State
	}{
		{StateIngested, StateIntelDone},
		{StateIntelDone, StateImpactDone},
		{StateImpactDone, StatePlanned},
		{StatePlanned, StateGenerated},
		{StateGenerated, StateReviewed},
		{StateReviewed, StateValidated},
		{StateValidated, StateComplete},
	}
	for _, tt := range table {
		next, err := Next(tt.from, OutcomeSuccess, ActionContinue)
		require.NoError(t, err, "from %s", tt.from)
		assert.Equal(t, tt.to, next, "from %s", tt.from)
	}
}

func TestNextIsIdempotent(t *testing.T) {
	first, err := Next(StatePlanned, OutcomeSuccess, ActionContinue)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Next(StatePlanned, OutcomeSuccess, ActionContinue)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAbortFromAnyLiveState(t *testing.T) {
	live := []State{
		StateIngested, StateIntelDone, StateImpactDone, StatePlanned,
		StateGenerated, StateReviewed, StateValidated, StateRetrying,
	}
	for _, s := range live {
		next, err := Next(s, OutcomeFailure, ActionAbort)
		require.NoError(t, err, "from %s", s)
		assert.Equal(t, StateAborted, next)
	}
}

func TestEscalateFromAnyLiveState(t *testing.T) {
	live := []State{
		StateIngested, StatePlanned, StateGenerated, StateRetrying,
	}
	for _, s := range live {
		next, err := Next(s, OutcomeSuccess, ActionEscalate)
		require.NoError(t, err, "from %s", s)
		assert.Equal(t, StateEscalated, next)
	}
}

func TestRetryEntersRetrying(t *testing.T) {
	next, err := Next(StatePlanned, OutcomeFailure, ActionRetry)
	require.NoError(t, err)
	assert.Equal(t, StateRetrying, next)
}

func TestNoTransitionsFromTerminals(t *testing.T) {
	for _, s := range []State{StateComplete, StateAborted, StateEscalated} {
		_, err := Next(s, OutcomeSuccess, ActionContinue)
		assert.ErrorIs(t, err, ErrTerminalState, "from %s", s)
	}
}

func TestInvalidCombinations(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		outcome Outcome
		action  Action
	}{
		{"continue on failure", StateIngested, OutcomeFailure, ActionContinue},
		{"retry on success", StateIngested, OutcomeSuccess, ActionRetry},
		{"retry with no stage", StateValidated, OutcomeFailure, ActionRetry},
		{"continue out of retrying", StateRetrying, OutcomeSuccess, ActionContinue},
		{"unknown state", State("BOGUS"), OutcomeSuccess, ActionContinue},
		{"unknown action", StateIngested, OutcomeSuccess, Action("shrug")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.state, tt.outcome, tt.action)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestStageForCoversAllRunnableStates(t *testing.T) {
	want := map[State]Stage{
		StateIngested:   StageIntelligence,
		StateIntelDone:  StageImpact,
		StateImpactDone: StagePlanning,
		StatePlanned:    StageGeneration,
		StateGenerated:  StageReview,
		StateReviewed:   StageValidation,
	}
	for state, stage := range want {
		got, ok := StageFor(state)
		require.True(t, ok, "state %s", state)
		assert.Equal(t, stage, got)
	}

	for _, s := range []State{StateValidated, StateComplete, StateAborted, StateEscalated, StateRetrying} {
		_, ok := StageFor(s)
		assert.False(t, ok, "state %s should run no stage", s)
	}
}

func TestOriginStateInvertsStageFor(t *testing.T) {
	for _, stage := range AllStages() {
		origin, ok := OriginState(stage)
		require.True(t, ok)
		got, ok := StageFor(origin)
		require.True(t, ok)
		assert.Equal(t, stage, got)
	}
}

func TestStageIndexOrder(t *testing.T) {
	for i, stage := range AllStages() {
		assert.Equal(t, i, StageIndex(stage))
	}
	assert.Equal(t, -1, StageIndex(Stage("bogus")))
}
