package policy

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

// BudgetCheck compares a run's accumulated consumption against its ceilings.
// The first exceeded dimension is reported; checked before retry so a run
// that would retry into overrun aborts instead.
type BudgetCheck struct {
	budget run.Budget
}

// NewBudgetCheck builds the budget policy over read-only ceilings.
func NewBudgetCheck(budget run.Budget) *BudgetCheck {
	return &BudgetCheck{budget: budget}
}

// Exceeded returns the name of the first exceeded budget dimension along
// with a human-readable detail, or ("", "") when every ceiling holds.
func (b *BudgetCheck) Exceeded(rc *run.Context) (dimension, detail string) {
	if b.budget.MaxTokens > 0 && rc.Cost.Tokens() > b.budget.MaxTokens {
		return "tokens", fmt.Sprintf("%d tokens consumed, ceiling %d", rc.Cost.Tokens(), b.budget.MaxTokens)
	}
	if b.budget.MaxCostUSD > 0 && rc.Cost.USD > b.budget.MaxCostUSD {
		return "cost", fmt.Sprintf("$%.4f spent, ceiling $%.2f", rc.Cost.USD, b.budget.MaxCostUSD)
	}
	if b.budget.MaxRunDuration > 0 && rc.Elapsed() > b.budget.MaxRunDuration {
		return "duration", fmt.Sprintf("%s elapsed, ceiling %s", rc.Elapsed().Round(time.Second), b.budget.MaxRunDuration)
	}
	return "", ""
}

// RetryCap is the budget's ceiling on retry attempts for any one stage.
// The retry policy may ask for fewer, never more.
func (b *BudgetCheck) RetryCap() int {
	return b.budget.MaxRetriesPerStage
}
