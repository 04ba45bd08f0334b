// Package gitops prepares git workspaces for runs. Each run gets its own
// branch off the repository's current HEAD so generated patches never touch
// the checked-out branch directly.
package gitops

import (
	"context"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/logging"
)

// BranchPrefix namespaces every run branch.
const BranchPrefix = "patchsmith/run-"

// Workspace is an opened repository plus the run branch created in it.
type Workspace struct {
	Path   string
	Branch string
	Base   string // HEAD commit hash the branch was cut from

	repo *git.Repository
	log  *logging.Logger
}

// Open opens the repository at path without touching its branches. Used by
// read-only callers such as the repository indexer.
func Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", path, err)
	}
	return repo, nil
}

// Clone clones url into path. Depth-1 clones are enough for patch work.
func Clone(ctx context.Context, url, path string) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return repo, nil
}

// Prepare opens the repository at path and checks out a fresh run branch.
// The working tree must be clean; a dirty tree would make patch application
// results ambiguous.
func Prepare(path, runID string, log *logging.Logger) (*Workspace, error) {
	if log == nil {
		log = logging.Nop()
	}
	repo, err := Open(path)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if !status.IsClean() {
		return nil, fmt.Errorf("working tree at %s has uncommitted changes", path)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	branch := BranchPrefix + runID
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	log.Info(context.Background(), "prepared run workspace",
		zap.String("path", path),
		zap.String("branch", branch),
		zap.String("base", head.Hash().String()))

	return &Workspace{
		Path:   path,
		Branch: branch,
		Base:   head.Hash().String(),
		repo:   repo,
		log:    log,
	}, nil
}

// Dirty reports whether the working tree has uncommitted changes, with the
// list of changed paths. After patch application this is the set of files
// the generated diff touched.
func (w *Workspace) Dirty() (bool, []string, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return false, nil, nil
	}
	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	return true, paths, nil
}

// Restore discards all uncommitted changes and returns to the branch the
// repository was on before Prepare. Called when a run aborts or escalates so
// the next run starts from a clean tree.
func (w *Workspace) Restore(originalBranch string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset worktree: %w", err)
	}
	if originalBranch == "" {
		return nil
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(originalBranch),
	}); err != nil {
		return fmt.Errorf("failed to check out %s: %w", originalBranch, err)
	}
	return nil
}

// CurrentBranch returns the short branch name HEAD points at, or empty for
// a detached HEAD.
func CurrentBranch(path string) (string, error) {
	repo, err := Open(path)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// IsRunBranch reports whether name was created by Prepare.
func IsRunBranch(name string) bool {
	return strings.HasPrefix(name, BranchPrefix)
}
