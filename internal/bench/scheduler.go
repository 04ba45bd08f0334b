// Package bench runs a batch of issues over a bounded worker pool and
// aggregates their terminal outcomes. Each worker owns a private run context
// and engine; only read-only configuration is shared. All workers are joined
// before the batch report is produced.
package bench

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Runner drives one issue to a terminal state. The engine factory returns a
// fresh Runner per run so no mutable state crosses workers.
type Runner interface {
	Run(ctx context.Context, issue run.Issue) (*run.Context, error)
}

// Outcome is one run's terminal result as collected by the scheduler.
type Outcome struct {
	RunID    string         `json:"run_id"`
	Issue    string         `json:"issue"`
	State    pipeline.State `json:"state"`
	Records  int            `json:"records"`
	Cost     run.Cost       `json:"cost"`
	Duration time.Duration  `json:"duration"`

	// Err is set only for infrastructure failures where no run context
	// exists; stage failures are expressed in State.
	Err string `json:"error,omitempty"`
}

// Scheduler fans independent engines out over a bounded worker pool.
type Scheduler struct {
	concurrency int
	newRunner   func() (Runner, error)
	log         *logging.Logger

	// onOutcome observes each terminal outcome as it completes, in
	// completion order. Used by the live dashboard.
	onOutcome func(Outcome)
}

// NewScheduler builds a scheduler. newRunner is called once per run, from
// the worker goroutine that owns that run.
func NewScheduler(concurrency int, newRunner func() (Runner, error), log *logging.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{concurrency: concurrency, newRunner: newRunner, log: log}
}

// OnOutcome registers an observer for per-run terminal outcomes. Must be set
// before Run.
func (s *Scheduler) OnOutcome(fn func(Outcome)) {
	s.onOutcome = fn
}

// Run processes every issue and returns outcomes in completion order, after
// the whole batch is exhausted. One run's failure never affects siblings.
func (s *Scheduler) Run(ctx context.Context, issues []run.Issue) []Outcome {
	if len(issues) == 0 {
		return nil
	}

	results := make(chan Outcome, len(issues))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, issue := range issues {
		wg.Add(1)
		go func(issue run.Issue) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- Outcome{Issue: issue.Coordinate(), State: pipeline.StateAborted, Err: ctx.Err().Error()}
				return
			}

			results <- s.runOne(ctx, issue)
		}(issue)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(issues))
	for outcome := range results {
		if s.onOutcome != nil {
			s.onOutcome(outcome)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *Scheduler) runOne(ctx context.Context, issue run.Issue) Outcome {
	started := time.Now()

	runner, err := s.newRunner()
	if err != nil {
		s.log.Error(ctx, "build runner", zap.String("issue", issue.Coordinate()), zap.Error(err))
		return Outcome{Issue: issue.Coordinate(), State: pipeline.StateAborted, Err: err.Error(), Duration: time.Since(started)}
	}

	rc, err := runner.Run(ctx, issue)
	if err != nil {
		s.log.Error(ctx, "run failed before start", zap.String("issue", issue.Coordinate()), zap.Error(err))
		return Outcome{Issue: issue.Coordinate(), State: pipeline.StateAborted, Err: err.Error(), Duration: time.Since(started)}
	}

	return Outcome{
		RunID:    rc.ID,
		Issue:    issue.Coordinate(),
		State:    rc.State,
		Records:  len(rc.Records),
		Cost:     rc.Cost,
		Duration: time.Since(started),
	}
}
