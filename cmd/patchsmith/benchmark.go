package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/bench"
	"github.com/fyrsmithlabs/patchsmith/internal/monitor"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

var (
	benchmarkRepo        string
	benchmarkConcurrency int
	benchmarkWatch       bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark <issues-file>",
	Short: "Run a batch of issues over the worker pool",
	Long: `Benchmark reads a JSON array of issues and drives each through its own
engine, bounded by the worker pool. Per-run artifacts land under
<output>/runs/; the batch aggregate is written to <output>/summary.json
and <output>/summary.md.

Exit is 0 only if every run completed; 3 if any aborted; 4 if any
escalated (escalation dominates).`,
	Args: exactArgs(1),
	RunE: runBenchmark,
}

func init() {
	benchmarkCmd.Flags().StringVar(&benchmarkRepo, "repo", "", "target repository: local path or clone URL")
	benchmarkCmd.Flags().IntVar(&benchmarkConcurrency, "concurrency", 0, "worker-pool size (overrides config)")
	benchmarkCmd.Flags().BoolVar(&benchmarkWatch, "watch", false, "render the live dashboard while the batch runs")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issues, err := bench.LoadIssues(args[0])
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return usageErrorf("%s: no issues to run", args[0])
	}

	repoDir, cleanup, err := resolveRepo(ctx, benchmarkRepo)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := newRuntime(ctx, repoDir)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	concurrency := rt.cfg.Concurrency
	if benchmarkConcurrency > 0 {
		concurrency = benchmarkConcurrency
	}

	bus, err := connectBus(rt.cfg)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer bus.Close()

	retriever, err := buildRetriever(ctx, rt, repoDir)
	if err != nil {
		return err
	}

	// One engine per run: rosters may hold per-run state, and one run's
	// failure must not leak into a sibling.
	newRunner := func() (bench.Runner, error) {
		roster, err := buildRoster(rt.cfg)
		if err != nil {
			return nil, err
		}
		return buildEngine(rt, roster, bus, retriever)
	}

	scheduler := bench.NewScheduler(concurrency, newRunner, rt.log)

	var outcomes []bench.Outcome
	if benchmarkWatch {
		outcomes, err = runWatched(ctx, rt, scheduler, issues)
	} else {
		outcomes = scheduler.Run(ctx, issues)
	}
	if err != nil {
		return err
	}

	summary := bench.Summarize(outcomes)
	if err := summary.Write(rt.cfg.Output); err != nil {
		return err
	}
	fmt.Print(summary.Markdown())

	return exitForBatch(outcomes)
}

// runWatched runs the batch under the live dashboard. The dashboard owns the
// terminal until the batch finishes or the operator quits it; quitting the
// dashboard does not cancel the batch.
func runWatched(ctx context.Context, rt *runtime, scheduler *bench.Scheduler, issues []run.Issue) ([]bench.Outcome, error) {
	watcher, err := monitor.NewWatcher(rt.store.Root())
	if err != nil {
		return nil, err
	}
	defer watcher.Close()

	batchBudget := rt.cfg.Budget.MaxCostUSD * float64(len(issues))
	model := monitor.NewModel(rt.store, 2*time.Second, batchBudget, watcher.Changes())
	p := tea.NewProgram(model, tea.WithContext(ctx))

	done := make(chan struct{})
	var outcomes []bench.Outcome
	go func() {
		defer close(done)
		outcomes = scheduler.Run(ctx, issues)
		p.Quit()
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		rt.log.Warn(ctx, "dashboard exited", zap.Error(err))
	}
	<-done
	return outcomes, nil
}

// exitForBatch maps batch outcomes onto one exit code: escalation dominates,
// then any run that did not complete. Infrastructure failures surface as
// aborted outcomes from the scheduler.
func exitForBatch(outcomes []bench.Outcome) error {
	var incomplete int
	for _, o := range outcomes {
		switch o.State {
		case pipeline.StateEscalated:
			return &exitError{code: exitEscalated}
		case pipeline.StateComplete:
		default:
			incomplete++
		}
	}
	if incomplete > 0 {
		return &exitError{code: exitAborted}
	}
	return nil
}
