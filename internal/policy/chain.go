package policy

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patchsmith/internal/pipeline"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// Attempt is what the engine hands the policy chain after each stage try.
type Attempt struct {
	Stage   pipeline.Stage
	Attempt int
	Outcome pipeline.Outcome

	// Output is the artifact payload produced by the stage, scanned by the
	// security policy. Empty on failure.
	Output string

	// Err is the classified stage error; nil on success.
	Err error
}

// Chain evaluates the three policies in fixed precedence: security, budget,
// retry. The first non-continue verdict wins.
type Chain struct {
	security *Security
	budget   *BudgetCheck
	retry    RetryConfig
}

// NewChain assembles the policy chain.
func NewChain(security *Security, budget *BudgetCheck, retry RetryConfig) *Chain {
	return &Chain{security: security, budget: budget, retry: retry}
}

// Decide returns the verdict for one stage attempt. Pure: reads rc and att,
// mutates nothing.
func (c *Chain) Decide(rc *run.Context, att Attempt) Decision {
	// Security first. A trip can never be overridden by retry logic.
	if c.security != nil && att.Output != "" {
		if violations := c.security.Inspect(att.Output); len(violations) > 0 {
			return Decision{
				Action: pipeline.ActionEscalate,
				Reason: describeViolations(violations),
				Source: "security",
			}
		}
	}
	if att.Err != nil && run.ClassOf(att.Err) == run.ClassPolicyViolation {
		return Decision{
			Action: pipeline.ActionEscalate,
			Reason: att.Err.Error(),
			Source: "security",
		}
	}

	// Budget next, before retry is even considered.
	if c.budget != nil {
		if dim, detail := c.budget.Exceeded(rc); dim != "" {
			return Decision{
				Action: pipeline.ActionAbort,
				Reason: fmt.Sprintf("budget %s exceeded: %s", dim, detail),
				Source: "budget",
			}
		}
	}
	if att.Err != nil && run.ClassOf(att.Err) == run.ClassBudgetExceeded {
		return Decision{
			Action: pipeline.ActionAbort,
			Reason: att.Err.Error(),
			Source: "budget",
		}
	}

	if att.Outcome == pipeline.OutcomeSuccess {
		d := Continue()
		d.Source = "chain"
		return d
	}

	// Failure path. Only transient-class failures reach the retry policy.
	if att.Err != nil && !run.Retryable(att.Err) {
		return Decision{
			Action: pipeline.ActionAbort,
			Reason: fmt.Sprintf("non-retryable failure: %v", att.Err),
			Source: "retry",
		}
	}

	consumed := rc.Retries(att.Stage)
	limit := c.retryCap()
	if consumed >= limit {
		return Decision{
			Action: pipeline.ActionAbort,
			Reason: fmt.Sprintf("stage %s exhausted %d retries", att.Stage, limit),
			Source: "retry",
		}
	}
	next := consumed + 1
	return Decision{
		Action: pipeline.ActionRetry,
		Delay:  c.retry.Delay(next),
		Reason: fmt.Sprintf("retry %d/%d for %v", next, limit, att.Err),
		Source: "retry",
	}
}

// retryCap is the effective per-stage retry limit: the retry policy's own
// count, never above the budget's MaxRetriesPerStage ceiling.
func (c *Chain) retryCap() int {
	limit := c.retry.MaxRetries
	if c.budget != nil && c.budget.RetryCap() < limit {
		limit = c.budget.RetryCap()
	}
	return limit
}

func describeViolations(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
