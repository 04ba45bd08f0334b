package pipeline

import (
	"errors"
	"fmt"
)

// Outcome is the result of one stage attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Action is the policy layer's verdict consumed by the transition function.
type Action string

const (
	ActionContinue Action = "continue"
	ActionRetry    Action = "retry"
	ActionAbort    Action = "abort"
	ActionEscalate Action = "escalate"
)

var (
	// ErrTerminalState is returned when a transition is attempted from a
	// terminal state.
	ErrTerminalState = errors.New("run is in a terminal state")

	// ErrInvalidTransition is returned for (state, outcome, action)
	// combinations outside the transition table.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Next computes the state that follows current given a stage outcome and the
// policy action. It is a pure function over the fixed transition table:
//
//   - ActionAbort and ActionEscalate move to their terminal unconditionally,
//     from any non-terminal state including StateRetrying.
//   - OutcomeSuccess + ActionContinue advances along the fixed stage order;
//     from StateValidated it finalizes to StateComplete.
//   - OutcomeFailure + ActionRetry enters StateRetrying; the engine re-enters
//     the retried stage via OriginState once the delay elapses.
//
// Every other combination is rejected with ErrInvalidTransition.
func Next(current State, outcome Outcome, action Action) (State, error) {
	if !current.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}
	if current.Terminal() {
		return "", fmt.Errorf("%w: %s", ErrTerminalState, current)
	}

	// Terminal actions apply from any live state, even mid-retry: a run
	// cancelled during its backoff wait still aborts cleanly.
	switch action {
	case ActionAbort:
		return StateAborted, nil
	case ActionEscalate:
		return StateEscalated, nil
	}

	if current == StateRetrying {
		return "", fmt.Errorf("%w: %s only exits via abort, escalate, or stage re-entry", ErrInvalidTransition, current)
	}

	switch action {
	case ActionContinue:
		if outcome != OutcomeSuccess {
			return "", fmt.Errorf("%w: continue requires a success outcome, got %s", ErrInvalidTransition, outcome)
		}
		if current == StateValidated {
			return StateComplete, nil
		}
		for _, step := range progression {
			if step.from == current {
				return step.to, nil
			}
		}
		return "", fmt.Errorf("%w: no successor for %s", ErrInvalidTransition, current)
	case ActionRetry:
		if outcome != OutcomeFailure {
			return "", fmt.Errorf("%w: retry requires a failure outcome, got %s", ErrInvalidTransition, outcome)
		}
		if _, ok := StageFor(current); !ok {
			return "", fmt.Errorf("%w: no stage to retry at %s", ErrInvalidTransition, current)
		}
		return StateRetrying, nil
	}

	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
}
