package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/gh"
	"github.com/fyrsmithlabs/patchsmith/internal/gitops"
	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
	"github.com/fyrsmithlabs/patchsmith/internal/testrun"
)

var processRepo string

var processCmd = &cobra.Command{
	Use:   "process <issue-url>",
	Short: "Run one issue through the pipeline",
	Long: `Process fetches a GitHub issue, drives it through all six stages, and
writes the run's artifacts under <output>/runs/<run-id>/.

The issue may be a full URL or the owner/repo#number short form:

  patchsmith process https://github.com/acme/widget/issues/42
  patchsmith process acme/widget#42 --repo ./widget

With --repo, the repository is indexed for retrieval, its worktree must be
clean, the validation stage runs its test command, and a successful run
leaves a patchsmith/run-<id> branch checked out for applying patch.diff.`,
	Args: exactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processRepo, "repo", "", "target repository: local path or clone URL")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if _, _, _, err := gh.ParseIssueURL(args[0]); err != nil {
		return usageErrorf("%s", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoDir, cleanup, err := resolveRepo(ctx, processRepo)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := newRuntime(ctx, repoDir)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if repoDir != "" {
		if err := requireCleanWorktree(repoDir); err != nil {
			return err
		}
	}

	client := gh.NewClient(ctx, rt.cfg.GitHub, gh.WithLogger(rt.log))
	issue, err := client.FetchIssueURL(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch issue: %w", err)
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

	roster, err := buildRoster(rt.cfg)
	if err != nil {
		return err
	}
	if repoDir != "" {
		inner, err := roster.For(pipeline.StageValidation)
		if err != nil {
			return err
		}
		runner := testrun.NewRunner(repoDir, rt.cfg.Tests.Command, rt.cfg.Tests.Timeout.Duration(), rt.log)
		roster, err = roster.With(testrun.Validating(inner, runner))
		if err != nil {
			return err
		}
	}

	e, err := buildEngine(rt, roster, bus, retriever)
	if err != nil {
		return err
	}

	rc, err := e.Run(ctx, issue)
	if err != nil {
		return err
	}

	if repoDir != "" && rc.State == pipeline.StateComplete {
		ws, err := gitops.Prepare(repoDir, rc.ID, rt.log)
		if err != nil {
			rt.log.Warn(ctx, "run branch not created", zap.Error(err))
		} else {
			fmt.Printf("Branch:   %s (checked out in %s)\n", ws.Branch, repoDir)
		}
	}

	printRunResult(rt.cfg.Output, rc)
	return exitForState(rc.State)
}

// resolveRepo returns a local directory for the target repository, cloning
// when given a URL. cleanup removes a temporary clone.
func resolveRepo(ctx context.Context, repo string) (dir string, cleanup func(), err error) {
	cleanup = func() {}
	if repo == "" {
		return "", cleanup, nil
	}
	if strings.HasPrefix(repo, "http://") || strings.HasPrefix(repo, "https://") || strings.HasPrefix(repo, "git@") {
		tmp, err := os.MkdirTemp("", "patchsmith-repo-")
		if err != nil {
			return "", cleanup, fmt.Errorf("create clone directory: %w", err)
		}
		if _, err := gitops.Clone(ctx, repo, tmp); err != nil {
			os.RemoveAll(tmp)
			return "", cleanup, err
		}
		return tmp, func() { os.RemoveAll(tmp) }, nil
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", cleanup, fmt.Errorf("resolve repo path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", cleanup, usageErrorf("--repo %s: not a directory", repo)
	}
	return abs, cleanup, nil
}

func requireCleanWorktree(dir string) error {
	repo, err := gitops.Open(dir)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	if !status.IsClean() {
		return fmt.Errorf("worktree %s has uncommitted changes; commit or stash first", dir)
	}
	return nil
}

func printRunResult(output string, rc *run.Context) {
	fmt.Printf("Run:      %s\n", rc.ID)
	fmt.Printf("Issue:    %s\n", rc.Issue.Coordinate())
	fmt.Printf("State:    %s\n", rc.State)
	fmt.Printf("Records:  %d\n", len(rc.Records))
	fmt.Printf("Tokens:   %d\n", rc.Cost.Tokens())
	fmt.Printf("Cost:     $%.4f\n", rc.Cost.USD)
	if rc.FirstError != "" {
		fmt.Printf("Error:    %s\n", rc.FirstError)
	}
	fmt.Printf("Artifacts: %s\n", filepath.Join(output, "runs", rc.ID))
}

// exitForState maps terminal pipeline states onto process exit codes.
func exitForState(state pipeline.State) error {
	switch state {
	case pipeline.StateComplete:
		return nil
	case pipeline.StateAborted:
		return &exitError{code: exitAborted}
	case pipeline.StateEscalated:
		return &exitError{code: exitEscalated}
	default:
		return fmt.Errorf("run ended in non-terminal state %s", state)
	}
}
