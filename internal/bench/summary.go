package bench

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Distribution summarizes a sample of float64 observations.
type Distribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Summary is the batch-level aggregate reported after every worker joins.
type Summary struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Aborted     int     `json:"aborted"`
	Escalated   int     `json:"escalated"`
	SuccessRate float64 `json:"success_rate"`

	TotalTokens int     `json:"total_tokens"`
	TotalUSD    float64 `json:"total_usd"`

	DurationSecs Distribution `json:"duration_secs"`
	CostUSD      Distribution `json:"cost_usd"`

	Outcomes []Outcome `json:"outcomes"`
}

// Summarize aggregates a batch's outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes), Outcomes: outcomes}

	durations := make([]float64, 0, len(outcomes))
	costs := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		switch o.State {
		case pipeline.StateComplete:
			s.Completed++
		case pipeline.StateEscalated:
			s.Escalated++
		default:
			s.Aborted++
		}
		s.TotalTokens += o.Cost.Tokens()
		s.TotalUSD += o.Cost.USD
		durations = append(durations, o.Duration.Seconds())
		costs = append(costs, o.Cost.USD)
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total)
	}
	s.DurationSecs = distribution(durations)
	s.CostUSD = distribution(costs)
	return s
}

func distribution(samples []float64) Distribution {
	if len(samples) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Distribution{
		Count:  len(sorted),
		Mean:   sum / float64(len(sorted)),
		Median: percentile(sorted, 0.50),
		P90:    percentile(sorted, 0.90),
		Max:    sorted[len(sorted)-1],
	}
}

// percentile interpolates over a sorted sample.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Write persists summary.json and summary.md beside the runs directory.
func (s Summary) Write(dir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("write summary.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(s.Markdown()), 0o644); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}
	return nil
}

// Markdown renders the human-readable batch report.
func (s Summary) Markdown() string {
	var b strings.Builder
	b.WriteString("# Benchmark summary\n\n")
	fmt.Fprintf(&b, "- **Runs**: %d (completed %d, aborted %d, escalated %d)\n",
		s.Total, s.Completed, s.Aborted, s.Escalated)
	fmt.Fprintf(&b, "- **Success rate**: %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(&b, "- **Tokens**: %d\n", s.TotalTokens)
	fmt.Fprintf(&b, "- **Cost**: $%.4f\n", s.TotalUSD)
	fmt.Fprintf(&b, "- **Duration**: median %.1fs, p90 %.1fs, max %.1fs\n",
		s.DurationSecs.Median, s.DurationSecs.P90, s.DurationSecs.Max)

	b.WriteString("\n| Run | Issue | State | Records | Tokens | Cost | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, o := range s.Outcomes {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | $%.4f | %s |\n",
			o.RunID, o.Issue, o.State, o.Records,
			o.Cost.Tokens(), o.Cost.USD, o.Duration.Round(time.Millisecond))
	}
	return b.String()
}

// LoadIssues parses a benchmark issues file: JSON, either a list of issues
// or {"issues": [...]}.
func LoadIssues(path string) ([]run.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issues file: %w", err)
	}

	var issues []run.Issue
	if err := json.Unmarshal(data, &issues); err == nil {
		return issues, nil
	}
	var wrapped struct {
		Issues []run.Issue `json:"issues"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse issues file %s: %w", path, err)
	}
	return wrapped.Issues, nil
}
