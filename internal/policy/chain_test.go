package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChain(t *testing.T, budget run.Budget) *Chain {
	t.Helper()
	sec, err := NewSecurity(nil)
	require.NoError(t, err)
	return NewChain(sec, NewBudgetCheck(budget), DefaultRetryConfig())
}

func freshRun() *run.Context {
	return run.NewContext(run.Issue{Owner: "acme", Repo: "widget", Number: 7})
}

func TestDecideSuccessContinues(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())

	d := chain.Decide(freshRun(), Attempt{
		Stage:   pipeline.StageIntelligence,
		Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Output:  `{"summary": "parser bug"}`,
	})
	assert.Equal(t, pipeline.ActionContinue, d.Action)
}

func TestDecideSecurityTripEscalatesEvenOnSuccess(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())

	d := chain.Decide(freshRun(), Attempt{
		Stage:   pipeline.StageGeneration,
		Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Output:  "--- a/x\n+++ /etc/passwd\n",
	})
	assert.Equal(t, pipeline.ActionEscalate, d.Action)
	assert.Equal(t, "security", d.Source)
	assert.Contains(t, d.Reason, "path_escape")
}

func TestDecideSecurityBeatsBudget(t *testing.T) {
	budget := run.DefaultBudget()
	budget.MaxTokens = 10
	chain := newChain(t, budget)

	rc := freshRun()
	require.NoError(t, rc.Append(run.StageRecord{
		Stage: pipeline.StageIntelligence, Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Cost:    run.Cost{InputTokens: 100},
	}))

	// Both the budget ceiling and a security rule are tripped; security wins.
	d := chain.Decide(rc, Attempt{
		Stage:   pipeline.StageImpact,
		Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Output:  "run: rm -rf / now",
	})
	assert.Equal(t, pipeline.ActionEscalate, d.Action)
	assert.Equal(t, "security", d.Source)
}

func TestDecideBudgetAbortsBeforeRetry(t *testing.T) {
	budget := run.DefaultBudget()
	budget.MaxTokens = 50
	chain := newChain(t, budget)

	rc := freshRun()
	require.NoError(t, rc.Append(run.StageRecord{
		Stage: pipeline.StageIntelligence, Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Cost:    run.Cost{InputTokens: 40, OutputTokens: 30},
	}))

	// A transient failure that would normally retry aborts instead.
	d := chain.Decide(rc, Attempt{
		Stage:   pipeline.StageImpact,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.Transient(errors.New("rate limited")),
	})
	assert.Equal(t, pipeline.ActionAbort, d.Action)
	assert.Equal(t, "budget", d.Source)
	assert.Contains(t, d.Reason, "tokens")
}

func TestDecideBudgetNamesExceededDimension(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*run.Budget)
		cost   run.Cost
		want   string
	}{
		{"tokens", func(b *run.Budget) { b.MaxTokens = 10 }, run.Cost{InputTokens: 20}, "tokens"},
		{"cost", func(b *run.Budget) { b.MaxCostUSD = 0.01 }, run.Cost{USD: 0.5}, "cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			budget := run.DefaultBudget()
			tt.mutate(&budget)
			chain := newChain(t, budget)

			rc := freshRun()
			require.NoError(t, rc.Append(run.StageRecord{
				Stage: pipeline.StageIntelligence, Attempt: 1,
				Outcome: pipeline.OutcomeSuccess,
				Cost:    tt.cost,
			}))

			d := chain.Decide(rc, Attempt{Stage: pipeline.StageImpact, Attempt: 1, Outcome: pipeline.OutcomeSuccess})
			require.Equal(t, pipeline.ActionAbort, d.Action)
			assert.Contains(t, d.Reason, tt.want)
		})
	}
}

func TestDecideTransientFailureRetriesWithBackoff(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())
	rc := freshRun()

	att := Attempt{
		Stage:   pipeline.StageGeneration,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.Transient(errors.New("connection reset")),
	}

	d := chain.Decide(rc, att)
	require.Equal(t, pipeline.ActionRetry, d.Action)
	assert.Equal(t, 5*time.Second, d.Delay)

	rc.CountRetry(pipeline.StageGeneration)
	d = chain.Decide(rc, att)
	require.Equal(t, pipeline.ActionRetry, d.Action)
	assert.Equal(t, 10*time.Second, d.Delay)

	rc.CountRetry(pipeline.StageGeneration)
	d = chain.Decide(rc, att)
	require.Equal(t, pipeline.ActionRetry, d.Action)
	assert.Equal(t, 20*time.Second, d.Delay)
}

func TestDecideRetryExhaustionAborts(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())
	rc := freshRun()
	for i := 0; i < 3; i++ {
		rc.CountRetry(pipeline.StageGeneration)
	}

	d := chain.Decide(rc, Attempt{
		Stage:   pipeline.StageGeneration,
		Attempt: 4,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.Transient(errors.New("still failing")),
	})
	assert.Equal(t, pipeline.ActionAbort, d.Action)
	assert.Equal(t, "retry", d.Source)
	assert.Contains(t, d.Reason, "exhausted")
}

func TestDecideBudgetRetryCeilingBindsBelowRetryPolicy(t *testing.T) {
	budget := run.DefaultBudget()
	budget.MaxRetriesPerStage = 1
	chain := newChain(t, budget)
	rc := freshRun()

	att := Attempt{
		Stage:   pipeline.StageGeneration,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.Transient(errors.New("connection reset")),
	}

	d := chain.Decide(rc, att)
	require.Equal(t, pipeline.ActionRetry, d.Action)
	assert.Contains(t, d.Reason, "retry 1/1")

	// The budget ceiling stops the second retry even though the retry
	// policy's own count would allow it.
	rc.CountRetry(pipeline.StageGeneration)
	d = chain.Decide(rc, att)
	assert.Equal(t, pipeline.ActionAbort, d.Action)
	assert.Equal(t, "retry", d.Source)
	assert.Contains(t, d.Reason, "exhausted 1 retries")
}

func TestDecideAgentFailureFollowsRetryPath(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())

	d := chain.Decide(freshRun(), Attempt{
		Stage:   pipeline.StageReview,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.AgentFailure(errors.New("malformed artifact")),
	})
	assert.Equal(t, pipeline.ActionRetry, d.Action)
}

func TestDecidePolicyViolationErrorEscalates(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())

	d := chain.Decide(freshRun(), Attempt{
		Stage:   pipeline.StageValidation,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.PolicyViolation(errors.New("sandbox escape attempt")),
	})
	assert.Equal(t, pipeline.ActionEscalate, d.Action)
	assert.Equal(t, "security", d.Source)
}

func TestDecideFatalConfigAborts(t *testing.T) {
	chain := newChain(t, run.DefaultBudget())

	d := chain.Decide(freshRun(), Attempt{
		Stage:   pipeline.StageIntelligence,
		Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		Err:     run.FatalConfigf("collaborator unreachable"),
	})
	assert.Equal(t, pipeline.ActionAbort, d.Action)
	assert.Contains(t, d.Reason, "non-retryable")
}
