package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// ContextFile is the serialized run context written beside report.md so
// results browsing does not have to reparse the trace.
const ContextFile = "run.json"

// WriteContext serializes the finished run context for later browsing.
func (rs *RunStore) WriteContext(rc *run.Context) error {
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	return rs.Write(ContextFile, data)
}

// LoadContext reads a run's serialized context from its directory.
func LoadContext(runDir string) (*run.Context, error) {
	data, err := os.ReadFile(filepath.Join(runDir, ContextFile))
	if err != nil {
		return nil, fmt.Errorf("load run context: %w", err)
	}
	var rc run.Context
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parse run context: %w", err)
	}
	return &rc, nil
}

// RunSummary is the browse-level view of one run.
type RunSummary struct {
	ID       string   `json:"id"`
	Issue    string   `json:"issue"`
	State    string   `json:"state"`
	Records  int      `json:"records"`
	Tokens   int      `json:"tokens"`
	USD      float64  `json:"usd"`
	HasTrace bool     `json:"has_trace"`
	Files    []string `json:"files"`
}

// Summarize loads the browse-level view of every run in the store, skipping
// directories that never finished (no run.json).
func (s *Store) Summarize() ([]RunSummary, error) {
	ids, err := s.RunIDs()
	if err != nil {
		return nil, err
	}
	var out []RunSummary
	for _, id := range ids {
		sum, err := s.SummarizeRun(id)
		if err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// SummarizeRun loads the browse-level view of one run.
func (s *Store) SummarizeRun(runID string) (RunSummary, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return RunSummary{}, err
	}
	rc, err := LoadContext(dir)
	if err != nil {
		return RunSummary{}, err
	}

	sum := RunSummary{
		ID:      rc.ID,
		Issue:   rc.Issue.Coordinate(),
		State:   string(rc.State),
		Records: len(rc.Records),
		Tokens:  rc.Cost.Tokens(),
		USD:     rc.Cost.USD,
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return RunSummary{}, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sum.Files = append(sum.Files, e.Name())
		if e.Name() == TraceFile {
			sum.HasTrace = true
		}
	}
	return sum, nil
}
