// Package artifact persists a run's work products: the write-once artifact
// files each stage produces, the append-only trace.log, and the final
// report.md. Isolation across concurrent runs is by run-ID directory, never
// by locking shared files.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrAlreadyWritten is returned when a write-once artifact is written twice.
var ErrAlreadyWritten = errors.New("artifact already written")

// Store manages the runs directory tree: <root>/runs/<run-id>/.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	runs := filepath.Join(dir, "runs")
	if err := os.MkdirAll(runs, 0o755); err != nil {
		return nil, fmt.Errorf("create runs directory: %w", err)
	}
	return &Store{root: runs}, nil
}

// Root returns the runs directory path.
func (s *Store) Root() string {
	return s.root
}

// CreateRun allocates the directory for one run and returns its RunStore.
// The RunStore is exclusively owned by that run's engine.
func (s *Store) CreateRun(runID string) (*RunStore, error) {
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", runID, err)
	}
	return &RunStore{dir: dir, written: make(map[string]bool)}, nil
}

// RunIDs lists run directories, newest last (lexicographic).
func (s *Store) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read runs directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RunDir returns the directory of an existing run.
func (s *Store) RunDir(runID string) (string, error) {
	dir := filepath.Join(s.root, runID)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", runID, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("run %s: not a directory", runID)
	}
	return dir, nil
}

// RunStore holds one run's artifacts. Write-once per name; the trace log is
// the only append target.
type RunStore struct {
	dir string

	mu      sync.Mutex
	written map[string]bool
}

// Dir returns the run's directory.
func (rs *RunStore) Dir() string {
	return rs.dir
}

// Write persists a named artifact exactly once. A second write under the
// same name fails with ErrAlreadyWritten.
func (rs *RunStore) Write(name string, data []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.written[name] {
		return fmt.Errorf("%w: %s", ErrAlreadyWritten, name)
	}
	path := filepath.Join(rs.dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyWritten, name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	rs.written[name] = true
	return nil
}

// Read loads a named artifact.
func (rs *RunStore) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(rs.dir, name))
}
