package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
)

var (
	resultsRunID  string
	resultsFollow bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse run results",
	Long: `Results lists run summaries from the output directory, or shows one run
in detail with --run-id. With --follow, new trace events are streamed as
the run writes them.

  patchsmith results
  patchsmith results --run-id 0198ab...
  patchsmith results --run-id 0198ab... --follow`,
	Args: noArgs,
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsRunID, "run-id", "", "show one run instead of the list")
	resultsCmd.Flags().BoolVar(&resultsFollow, "follow", false, "stream trace events as they are appended (requires --run-id)")
}

func runResults(cmd *cobra.Command, args []string) error {
	if resultsFollow && resultsRunID == "" {
		return usageErrorf("--follow requires --run-id")
	}

	rt, err := newRuntime(context.Background(), "")
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if resultsRunID == "" {
		return listRuns(rt.store)
	}
	if err := showRun(rt.store, resultsRunID); err != nil {
		return err
	}
	if resultsFollow {
		return followTrace(rt.store, resultsRunID)
	}
	return nil
}

func listRuns(store *artifact.Store) error {
	summaries, err := store.Summarize()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tISSUE\tSTATE\tRECORDS\tTOKENS\tCOST")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.4f\n",
			s.ID, s.Issue, s.State, s.Records, s.Tokens, s.USD)
	}
	return w.Flush()
}

func showRun(store *artifact.Store, runID string) error {
	dir, err := store.RunDir(runID)
	if err != nil {
		return err
	}
	rc, err := artifact.LoadContext(dir)
	if err != nil {
		return err
	}

	printRunResult(filepath.Dir(filepath.Dir(dir)), rc)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tATTEMPT\tOUTCOME\tTOKENS\tCOST\tDURATION")
	for _, rec := range rc.Records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t$%.4f\t%s\n",
			rec.Stage, rec.Attempt, rec.Outcome, rec.Cost.Tokens(), rec.Cost.USD, rec.Duration)
	}
	return w.Flush()
}

// followTrace prints trace.log lines as the engine appends them, until
// interrupted.
func followTrace(store *artifact.Store, runID string) error {
	dir, err := store.RunDir(runID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, artifact.TraceFile)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := bufio.NewReader(f)
	var partial string
	for {
		if err := drainLines(reader, &partial); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Op.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// drainLines prints complete lines currently available. A trailing partial
// line is carried in *partial until the rest of it is written.
func drainLines(r *bufio.Reader, partial *string) error {
	for {
		chunk, err := r.ReadString('\n')
		if err == nil {
			fmt.Print(*partial + chunk)
			*partial = ""
			continue
		}
		if err == io.EOF {
			*partial += chunk
			return nil
		}
		return err
	}
}
