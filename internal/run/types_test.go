package run

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssue() Issue {
	return Issue{
		Owner:  "acme",
		Repo:   "widget",
		Number: 42,
		Title:  "panic on empty input",
		Body:   "steps to reproduce...",
	}
}

func TestIssueCoordinate(t *testing.T) {
	assert.Equal(t, "acme/widget#42", testIssue().Coordinate())
}

func TestCostModelPrice(t *testing.T) {
	m := CostModel{InputPer1K: 0.15, OutputPer1K: 0.60}

	c := m.Price(2000, 1000)
	assert.Equal(t, 3000, c.Tokens())
	assert.InDelta(t, 0.90, c.USD, 1e-9)
}

func TestCostAdd(t *testing.T) {
	a := Cost{InputTokens: 100, OutputTokens: 50, USD: 0.01}
	b := Cost{InputTokens: 200, OutputTokens: 25, USD: 0.02}

	sum := a.Add(b)
	assert.Equal(t, 300, sum.InputTokens)
	assert.Equal(t, 75, sum.OutputTokens)
	assert.InDelta(t, 0.03, sum.USD, 1e-9)
}

func TestNewContext(t *testing.T) {
	rc := NewContext(testIssue())

	assert.Contains(t, rc.ID, "run-")
	assert.Equal(t, pipeline.StateIngested, rc.State)
	assert.Empty(t, rc.Records)
	assert.Zero(t, rc.Cost)
}

func TestContextAppendAccumulates(t *testing.T) {
	rc := NewContext(testIssue())

	err := rc.Append(StageRecord{
		Stage:   pipeline.StageIntelligence,
		Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Cost:    Cost{InputTokens: 100, OutputTokens: 40, USD: 0.05},
	})
	require.NoError(t, err)

	err = rc.Append(StageRecord{
		Stage:   pipeline.StageImpact,
		Attempt: 1,
		Outcome: pipeline.OutcomeSuccess,
		Cost:    Cost{InputTokens: 200, OutputTokens: 60, USD: 0.10},
	})
	require.NoError(t, err)

	assert.Len(t, rc.Records, 2)
	assert.Equal(t, 400, rc.Cost.Tokens())
	assert.InDelta(t, 0.15, rc.Cost.USD, 1e-9)
	assert.Equal(t, 1, rc.Cursor)
}

func TestContextAppendSameStageRetry(t *testing.T) {
	rc := NewContext(testIssue())

	for attempt := 1; attempt <= 3; attempt++ {
		err := rc.Append(StageRecord{
			Stage:   pipeline.StageIntelligence,
			Attempt: attempt,
			Outcome: pipeline.OutcomeFailure,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, rc.Cursor)
	assert.Len(t, rc.Records, 3)
}

func TestContextAppendRejectsCursorRegression(t *testing.T) {
	rc := NewContext(testIssue())

	require.NoError(t, rc.Append(StageRecord{Stage: pipeline.StagePlanning, Attempt: 1, Outcome: pipeline.OutcomeSuccess}))

	err := rc.Append(StageRecord{Stage: pipeline.StageIntelligence, Attempt: 1, Outcome: pipeline.OutcomeSuccess})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regression")
}

func TestContextAppendRejectsAfterTerminal(t *testing.T) {
	rc := NewContext(testIssue())
	rc.State = pipeline.StateAborted

	err := rc.Append(StageRecord{Stage: pipeline.StageIntelligence, Attempt: 1, Outcome: pipeline.OutcomeSuccess})
	require.ErrorIs(t, err, pipeline.ErrTerminalState)
}

func TestContextFirstErrorKeepsEarliest(t *testing.T) {
	rc := NewContext(testIssue())

	require.NoError(t, rc.Append(StageRecord{
		Stage: pipeline.StageIntelligence, Attempt: 1,
		Outcome: pipeline.OutcomeFailure,
		ErrClass: string(ClassTransient), ErrMsg: "rate limited",
	}))
	require.NoError(t, rc.Append(StageRecord{
		Stage: pipeline.StageIntelligence, Attempt: 2,
		Outcome: pipeline.OutcomeFailure,
		ErrClass: string(ClassAgentFailure), ErrMsg: "malformed output",
	}))

	assert.Contains(t, rc.FirstError, "rate limited")
	assert.NotContains(t, rc.FirstError, "malformed")
}

func TestContextRetryCounters(t *testing.T) {
	rc := NewContext(testIssue())

	rc.CountRetry(pipeline.StageGeneration)
	rc.CountRetry(pipeline.StageGeneration)
	rc.CountRetry(pipeline.StageReview)

	assert.Equal(t, 2, rc.Retries(pipeline.StageGeneration))
	assert.Equal(t, 1, rc.Retries(pipeline.StageReview))
	assert.Equal(t, 0, rc.Retries(pipeline.StageImpact))
	assert.Equal(t, 3, rc.TotalRetries())
}

func TestRecordsFor(t *testing.T) {
	rc := NewContext(testIssue())
	require.NoError(t, rc.Append(StageRecord{Stage: pipeline.StageIntelligence, Attempt: 1, Outcome: pipeline.OutcomeSuccess}))
	require.NoError(t, rc.Append(StageRecord{Stage: pipeline.StageImpact, Attempt: 1, Outcome: pipeline.OutcomeFailure}))
	require.NoError(t, rc.Append(StageRecord{Stage: pipeline.StageImpact, Attempt: 2, Outcome: pipeline.OutcomeSuccess}))

	recs := rc.RecordsFor(pipeline.StageImpact)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Attempt)
	assert.Equal(t, 2, recs[1].Attempt)
}

func TestDefaultBudgetDocumentedCeilings(t *testing.T) {
	b := DefaultBudget()

	assert.Equal(t, 100_000, b.MaxTokens)
	assert.InDelta(t, 5.00, b.MaxCostUSD, 1e-9)
	assert.Equal(t, 25_000, b.MaxStageTokens)
	assert.Equal(t, time.Hour, b.MaxRunDuration)
	assert.Equal(t, 5*time.Minute, b.StageTimeout)
	assert.Equal(t, 3, b.MaxRetriesPerStage)
}
