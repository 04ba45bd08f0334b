package artifact

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TraceFile is the per-run append-only stage-event log.
const TraceFile = "trace.log"

// TraceEvent is one line of a run's trace.log: a stage attempt boundary, a
// policy decision, or the terminal transition.
type TraceEvent struct {
	Time    time.Time `json:"ts"`
	RunID   string    `json:"run_id"`
	Event   string    `json:"event"`
	Stage   string    `json:"stage,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Action  string    `json:"action,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	State   string    `json:"state,omitempty"`
	Tokens  int       `json:"tokens,omitempty"`
	USD     float64   `json:"usd,omitempty"`
	DurMS   int64     `json:"duration_ms,omitempty"`
	DelayMS int64     `json:"delay_ms,omitempty"`
}

// Trace event kinds.
const (
	EventStageStart = "stage_start"
	EventStageEnd   = "stage_end"
	EventDecision   = "decision"
	EventTerminal   = "terminal"
)

// AppendTrace appends one event to the run's trace.log as a JSON line.
func (rs *RunStore) AppendTrace(ev TraceEvent) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(rs.dir, TraceFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	return nil
}

// ReadTrace loads every event from a run directory's trace.log. Malformed
// lines are skipped rather than failing the whole read.
func ReadTrace(runDir string) ([]TraceEvent, error) {
	f, err := os.Open(filepath.Join(runDir, TraceFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []TraceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev TraceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
