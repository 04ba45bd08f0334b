package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// ReportFile is the per-run final summary.
const ReportFile = "report.md"

// RenderReport produces report.md for a finished run: terminal state, totals,
// a per-stage attempt table, and the first causal error if the run failed.
// Every run gets one, failed runs included.
func RenderReport(rc *run.Context) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", rc.ID)
	fmt.Fprintf(&b, "- **Issue**: %s — %s\n", rc.Issue.Coordinate(), rc.Issue.Title)
	fmt.Fprintf(&b, "- **Terminal state**: %s\n", rc.State)
	fmt.Fprintf(&b, "- **Stage attempts**: %d\n", len(rc.Records))
	fmt.Fprintf(&b, "- **Tokens**: %d (input %d, output %d)\n",
		rc.Cost.Tokens(), rc.Cost.InputTokens, rc.Cost.OutputTokens)
	fmt.Fprintf(&b, "- **Cost**: $%.4f\n", rc.Cost.USD)
	fmt.Fprintf(&b, "- **Duration**: %s\n", rc.Elapsed().Round(time.Millisecond))

	if rc.FirstError != "" {
		fmt.Fprintf(&b, "- **First error**: %s\n", rc.FirstError)
	}

	b.WriteString("\n## Stages\n\n")
	b.WriteString("| Stage | Attempt | Outcome | Tokens | Cost | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, rec := range rc.Records {
		outcome := string(rec.Outcome)
		if rec.ErrMsg != "" {
			outcome = fmt.Sprintf("%s (%s)", rec.Outcome, rec.ErrClass)
		}
		fmt.Fprintf(&b, "| %s | %d | %s | %d | $%.4f | %s |\n",
			rec.Stage, rec.Attempt, outcome,
			rec.Cost.Tokens(), rec.Cost.USD, rec.Duration.Round(time.Millisecond))
	}

	return []byte(b.String())
}
