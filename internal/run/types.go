// Package run defines the data model for one issue-processing attempt: the
// Issue being worked, the RunContext that tracks its progress, the append-only
// StageRecords, and the Budget ceilings a run must respect.
package run

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/google/uuid"
)

// Issue is a single unit of work. Immutable once ingested.
type Issue struct {
	Owner       string    `json:"owner"`
	Repo        string    `json:"repo"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Labels      []string  `json:"labels,omitempty"`
	LinkedFiles []string  `json:"linked_files,omitempty"`
	Author      string    `json:"author,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Coordinate returns the issue's repository coordinate, e.g. "acme/widget#42".
func (i Issue) Coordinate() string {
	return fmt.Sprintf("%s/%s#%d", i.Owner, i.Repo, i.Number)
}

// Cost is the resource consumption of a stage attempt or a whole run.
type Cost struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// Tokens returns input plus output tokens.
func (c Cost) Tokens() int {
	return c.InputTokens + c.OutputTokens
}

// Add returns the sum of two costs.
func (c Cost) Add(other Cost) Cost {
	return Cost{
		InputTokens:  c.InputTokens + other.InputTokens,
		OutputTokens: c.OutputTokens + other.OutputTokens,
		USD:          c.USD + other.USD,
	}
}

// CostModel converts token counts to USD.
type CostModel struct {
	// InputPer1K is the price in USD per 1000 input tokens.
	InputPer1K float64 `koanf:"input_per_1k" json:"input_per_1k"`

	// OutputPer1K is the price in USD per 1000 output tokens.
	OutputPer1K float64 `koanf:"output_per_1k" json:"output_per_1k"`
}

// Price returns the cost of a token count pair under this model.
func (m CostModel) Price(inputTokens, outputTokens int) Cost {
	return Cost{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		USD: float64(inputTokens)/1000*m.InputPer1K +
			float64(outputTokens)/1000*m.OutputPer1K,
	}
}

// StageRecord is an immutable log entry for one attempt at one stage. New
// attempts create new records, never edits.
type StageRecord struct {
	Stage     pipeline.Stage   `json:"stage"`
	Attempt   int              `json:"attempt"`
	InputRef  string           `json:"input_ref,omitempty"`
	OutputRef string           `json:"output_ref,omitempty"`
	Outcome   pipeline.Outcome `json:"outcome"`
	ErrClass  string           `json:"error_class,omitempty"`
	ErrMsg    string           `json:"error,omitempty"`
	Cost      Cost             `json:"cost"`
	Duration  time.Duration    `json:"duration"`
	StartedAt time.Time        `json:"started_at"`
}

// Budget holds the ceilings a run must not exceed. Read-only during a run.
type Budget struct {
	// MaxTokens caps total tokens consumed by one run.
	MaxTokens int `koanf:"max_tokens" json:"max_tokens"`

	// MaxCostUSD caps total spend for one run.
	MaxCostUSD float64 `koanf:"max_cost_usd" json:"max_cost_usd"`

	// MaxStageTokens caps tokens granted to a single stage call.
	MaxStageTokens int `koanf:"max_stage_tokens" json:"max_stage_tokens"`

	// MaxRunDuration caps wall-clock time for one run.
	MaxRunDuration time.Duration `koanf:"max_run_duration" json:"max_run_duration"`

	// StageTimeout bounds a single agent invocation.
	StageTimeout time.Duration `koanf:"stage_timeout" json:"stage_timeout"`

	// MaxRetriesPerStage caps retry attempts for any one stage.
	MaxRetriesPerStage int `koanf:"max_retries_per_stage" json:"max_retries_per_stage"`
}

// DefaultBudget returns the documented default ceilings. All values are
// configuration; nothing here is assumed elsewhere.
func DefaultBudget() Budget {
	return Budget{
		MaxTokens:          100_000,
		MaxCostUSD:         5.00,
		MaxStageTokens:     25_000,
		MaxRunDuration:     time.Hour,
		StageTimeout:       5 * time.Minute,
		MaxRetriesPerStage: 3,
	}
}

// Context tracks one issue-processing attempt through the pipeline. It is
// mutable only by its owning engine and never shared across concurrent runs.
type Context struct {
	ID      string         `json:"id"`
	Issue   Issue          `json:"issue"`
	State   pipeline.State `json:"state"`
	Cursor  int            `json:"cursor"`
	Records []StageRecord  `json:"records"`
	Cost    Cost           `json:"cost"`
	Started time.Time      `json:"started"`

	// FirstError is the first causal error of a failed run, kept for the
	// final report.
	FirstError string `json:"first_error,omitempty"`

	retries map[pipeline.Stage]int
}

// NewContext creates a fresh run context in the initial state.
func NewContext(issue Issue) *Context {
	return &Context{
		ID:      "run-" + uuid.NewString()[:12],
		Issue:   issue,
		State:   pipeline.StateIngested,
		Started: time.Now(),
		retries: make(map[pipeline.Stage]int),
	}
}

// Elapsed returns wall-clock time since the run started.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.Started)
}

// Retries returns how many retry attempts the stage has consumed so far.
func (c *Context) Retries(stage pipeline.Stage) int {
	return c.retries[stage]
}

// TotalRetries returns retry attempts consumed across all stages.
func (c *Context) TotalRetries() int {
	total := 0
	for _, n := range c.retries {
		total += n
	}
	return total
}

// CountRetry consumes one retry attempt for the stage.
func (c *Context) CountRetry(stage pipeline.Stage) {
	if c.retries == nil {
		c.retries = make(map[pipeline.Stage]int)
	}
	c.retries[stage]++
}

// Append records one stage attempt. It enforces the run invariants: no
// records after a terminal state, and the stage cursor never regresses.
func (c *Context) Append(rec StageRecord) error {
	if c.State.Terminal() {
		return fmt.Errorf("%w: cannot append %s record", pipeline.ErrTerminalState, rec.Stage)
	}
	idx := pipeline.StageIndex(rec.Stage)
	if idx < 0 {
		return fmt.Errorf("unknown stage %q", rec.Stage)
	}
	if idx < c.Cursor {
		return fmt.Errorf("stage cursor regression: at %d, got %s (%d)", c.Cursor, rec.Stage, idx)
	}
	c.Cursor = idx
	c.Records = append(c.Records, rec)
	c.Cost = c.Cost.Add(rec.Cost)
	if rec.ErrMsg != "" && c.FirstError == "" {
		c.FirstError = fmt.Sprintf("%s (stage %s, attempt %d): %s", rec.ErrClass, rec.Stage, rec.Attempt, rec.ErrMsg)
	}
	return nil
}

// RecordsFor returns the records for one stage in attempt order.
func (c *Context) RecordsFor(stage pipeline.Stage) []StageRecord {
	var out []StageRecord
	for _, r := range c.Records {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}
