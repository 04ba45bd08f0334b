package bench

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

func sampleOutcomes() []Outcome {
	return []Outcome{
		{RunID: "run-a", Issue: "acme/widget#1", State: pipeline.StateComplete, Records: 6,
			Cost: run.Cost{InputTokens: 4000, OutputTokens: 1000, USD: 0.50}, Duration: 10 * time.Second},
		{RunID: "run-b", Issue: "acme/widget#2", State: pipeline.StateComplete, Records: 8,
			Cost: run.Cost{InputTokens: 6000, OutputTokens: 2000, USD: 0.80}, Duration: 20 * time.Second},
		{RunID: "run-c", Issue: "acme/widget#3", State: pipeline.StateAborted, Records: 3,
			Cost: run.Cost{InputTokens: 2000, OutputTokens: 500, USD: 0.20}, Duration: 5 * time.Second},
		{RunID: "run-d", Issue: "acme/widget#4", State: pipeline.StateEscalated, Records: 5,
			Cost: run.Cost{InputTokens: 3000, OutputTokens: 800, USD: 0.30}, Duration: 15 * time.Second},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleOutcomes())

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Aborted)
	assert.Equal(t, 1, s.Escalated)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.Equal(t, 19300, s.TotalTokens)
	assert.InDelta(t, 1.80, s.TotalUSD, 1e-9)

	assert.Equal(t, 4, s.DurationSecs.Count)
	assert.InDelta(t, 12.5, s.DurationSecs.Median, 1e-9)
	assert.InDelta(t, 20.0, s.DurationSecs.Max, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.DurationSecs.Count)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.InDelta(t, 5.5, percentile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 9.1, percentile(sorted, 0.9), 1e-9)
	assert.InDelta(t, 1.0, percentile(sorted, 0.0), 1e-9)
	assert.InDelta(t, 10.0, percentile(sorted, 1.0), 1e-9)
	assert.InDelta(t, 7.0, percentile([]float64{7}, 0.9), 1e-9)
}

func TestSummaryWrite(t *testing.T) {
	dir := t.TempDir()
	s := Summarize(sampleOutcomes())
	require.NoError(t, s.Write(dir))

	assert.FileExists(t, filepath.Join(dir, "summary.json"))
	md, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "Success rate**: 50.0%")
	assert.Contains(t, string(md), "run-c")
}

func TestLoadIssuesPlainList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"owner":"acme","repo":"widget","number":1,"title":"a"},
		{"owner":"acme","repo":"widget","number":2,"title":"b"}
	]`), 0o600))

	issues, err := LoadIssues(path)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "acme/widget#2", issues[1].Coordinate())
}

func TestLoadIssuesWrapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issues":[{"owner":"acme","repo":"widget","number":7}]}`), 0o600))

	issues, err := LoadIssues(path)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 7, issues[0].Number)
}
