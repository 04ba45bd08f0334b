package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRosterValidOrder(t *testing.T) {
	r, err := ScriptedRoster()
	require.NoError(t, err)

	for _, stage := range pipeline.AllStages() {
		a, err := r.For(stage)
		require.NoError(t, err)
		assert.Equal(t, stage, a.Stage())
	}
}

func TestNewRosterRejectsWrongCount(t *testing.T) {
	_, err := NewRoster(Succeed(pipeline.StageIntelligence, "x", run.Cost{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6 agents")
}

func TestNewRosterRejectsMisordered(t *testing.T) {
	_, err := NewRoster(
		Succeed(pipeline.StageImpact, "x", run.Cost{}), // wrong slot
		Succeed(pipeline.StageIntelligence, "x", run.Cost{}),
		Succeed(pipeline.StagePlanning, "x", run.Cost{}),
		Succeed(pipeline.StageGeneration, "x", run.Cost{}),
		Succeed(pipeline.StageReview, "x", run.Cost{}),
		Succeed(pipeline.StageValidation, "x", run.Cost{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serves")
}

func TestRosterForUnknownStage(t *testing.T) {
	r, err := ScriptedRoster()
	require.NoError(t, err)

	_, err = r.For(pipeline.Stage("bogus"))
	assert.Error(t, err)
}

func TestScriptedReplaysSteps(t *testing.T) {
	boom := run.Transient(errors.New("boom"))
	a := NewScripted(pipeline.StagePlanning,
		ScriptStep{Err: boom},
		ScriptStep{Artifact: "plan", Cost: run.Cost{InputTokens: 10}},
	)

	_, _, err := a.Execute(context.Background(), Input{})
	require.ErrorIs(t, err, boom)

	out, cost, err := a.Execute(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "plan", out.Artifact)
	assert.Equal(t, 10, cost.InputTokens)

	// Past the script end the final step repeats.
	out, _, err = a.Execute(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "plan", out.Artifact)
	assert.Equal(t, 3, a.Attempts())
}

func TestScriptedHonorsCancellation(t *testing.T) {
	a := NewScripted(pipeline.StageGeneration, ScriptStep{Sleep: time.Minute, Artifact: "late"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := a.Execute(ctx, Input{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInputPrior(t *testing.T) {
	in := Input{Artifacts: map[pipeline.Stage]string{pipeline.StagePlanning: "the plan"}}
	assert.Equal(t, "the plan", in.Prior(pipeline.StagePlanning))
	assert.Empty(t, in.Prior(pipeline.StageReview))
}

func TestArtifactNames(t *testing.T) {
	want := map[pipeline.Stage]string{
		pipeline.StageIntelligence: "intelligence.json",
		pipeline.StageImpact:       "impact.json",
		pipeline.StagePlanning:     "plan.md",
		pipeline.StageGeneration:   "patch.diff",
		pipeline.StageReview:       "review.md",
		pipeline.StageValidation:   "validation.json",
	}
	for stage, name := range want {
		assert.Equal(t, name, ArtifactName(stage))
	}
}
