// Package policy implements the decision layer consulted after every stage
// attempt. Three independent policies are evaluated in fixed precedence --
// security, then budget, then retry -- and the first non-continue verdict
// wins. All decision functions are pure: they read the run context and the
// attempt, and return a Decision without side effects.
package policy

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
)

// Decision is the policy layer's verdict on how to proceed after a stage
// attempt. Computed fresh each evaluation; logged, never stored.
type Decision struct {
	Action pipeline.Action `json:"action"`

	// Delay is the backoff to wait before re-entering the stage. Set only
	// for retry decisions.
	Delay time.Duration `json:"delay,omitempty"`

	// Reason names what drove a non-continue decision, e.g. the exceeded
	// budget dimension or the tripped security rule.
	Reason string `json:"reason,omitempty"`

	// Source is the policy that produced the verdict.
	Source string `json:"source,omitempty"`
}

func (d Decision) String() string {
	switch d.Action {
	case pipeline.ActionRetry:
		return fmt.Sprintf("retry after %s (%s)", d.Delay, d.Reason)
	case pipeline.ActionContinue:
		return "continue"
	default:
		return fmt.Sprintf("%s: %s", d.Action, d.Reason)
	}
}

// Continue is the verdict when every policy passes on a success outcome.
func Continue() Decision {
	return Decision{Action: pipeline.ActionContinue}
}
