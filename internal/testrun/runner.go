// Package testrun executes a repository's test command for the validation
// stage. The command runs in the repository's own directory with a hard
// timeout and a scrubbed environment; its combined output and verdict feed
// the validation artifact.
package testrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

const (
	defaultTimeout = 10 * time.Minute

	// maxOutputBytes caps captured output so a chatty test suite cannot
	// blow up the validation artifact.
	maxOutputBytes = 256 * 1024
)

// keptEnv lists the environment variables the sandboxed command inherits.
// Everything else, credentials included, is withheld.
var keptEnv = []string{"PATH", "HOME", "GOPATH", "GOCACHE", "GOMODCACHE", "TMPDIR", "LANG", "TERM"}

// Result is the outcome of one test command execution.
type Result struct {
	Command  string        `json:"command"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration_ns"`
	Output   string        `json:"output"`
	Failures []string      `json:"failures,omitempty"`
}

// Runner executes a fixed test command in a fixed directory.
type Runner struct {
	Dir     string
	Command string
	Timeout time.Duration
	log     *logging.Logger
}

// NewRunner builds a runner for dir. An empty command or timeout falls back
// to "go test ./..." and ten minutes.
func NewRunner(dir, command string, timeout time.Duration, log *logging.Logger) *Runner {
	if command == "" {
		command = "go test ./..."
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{Dir: dir, Command: command, Timeout: timeout, log: log}
}

// Run executes the test command once. The error return covers failures to
// run the command at all; a failing test suite is a Passed=false Result,
// not an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	fields := strings.Fields(r.Command)
	if len(fields) == 0 {
		return Result{}, run.FatalConfigf("test command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = sandboxEnv()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Command:  r.Command,
		Duration: elapsed,
		Output:   truncate(buf.String()),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
	case err == nil:
		result.Passed = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return Result{}, run.Transient(fmt.Errorf("failed to run %q: %w", r.Command, err))
		}
	}
	result.Failures = parseFailures(result.Output)

	r.log.Info(ctx, "test command finished",
		zap.String("command", r.Command),
		zap.Bool("passed", result.Passed),
		zap.Bool("timed_out", result.TimedOut),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", elapsed))
	return result, nil
}

// MarshalArtifact renders the result as the validation-stage artifact.
func (res Result) MarshalArtifact() ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

func sandboxEnv() []string {
	env := make([]string, 0, len(keptEnv))
	for _, name := range keptEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

var goFailPattern = regexp.MustCompile(`(?m)^--- FAIL: (\S+)`)

// parseFailures extracts failing test names from go test output. Other test
// runners just get the raw output.
func parseFailures(output string) []string {
	matches := goFailPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}
