package run

import (
	"context"
	"errors"
	"fmt"
)

// Class partitions run errors by how the policy layer routes them.
type Class string

const (
	// ClassTransient covers network blips, rate limits, and timeouts.
	// Eligible for retry.
	ClassTransient Class = "transient"

	// ClassPolicyViolation is a security trip. Never retried; forces
	// escalation.
	ClassPolicyViolation Class = "policy_violation"

	// ClassBudgetExceeded means a budget ceiling was crossed. Never
	// retried; forces abort.
	ClassBudgetExceeded Class = "budget_exceeded"

	// ClassAgentFailure means a stage could not produce a valid artifact.
	// Retried like transient up to the ceiling, then abort.
	ClassAgentFailure Class = "agent_failure"

	// ClassFatalConfiguration is surfaced to the caller before any run
	// starts; a run is never begun that cannot complete end-to-end.
	ClassFatalConfiguration Class = "fatal_configuration"
)

// Error carries its class so the policy layer can route it without
// inspecting messages.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable transient failure.
func Transient(err error) error {
	return &Error{Class: ClassTransient, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// PolicyViolation wraps err as a security trip.
func PolicyViolation(err error) error {
	return &Error{Class: ClassPolicyViolation, Err: err}
}

// BudgetExceeded wraps err as a budget ceiling crossing.
func BudgetExceeded(err error) error {
	return &Error{Class: ClassBudgetExceeded, Err: err}
}

// AgentFailure wraps err as a stage's inability to produce a valid artifact.
func AgentFailure(err error) error {
	return &Error{Class: ClassAgentFailure, Err: err}
}

// FatalConfig wraps err as a startup configuration failure.
func FatalConfig(err error) error {
	return &Error{Class: ClassFatalConfiguration, Err: err}
}

// FatalConfigf builds a fatal configuration error from a format string.
func FatalConfigf(format string, args ...any) error {
	return FatalConfig(fmt.Errorf(format, args...))
}

// ClassOf reports the class of err. Context timeouts classify as transient;
// anything unclassified is an agent failure, which still follows the retry
// path up to the ceiling.
func ClassOf(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassAgentFailure
}

// Retryable reports whether err's class is eligible for the retry policy.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassAgentFailure:
		return true
	}
	return false
}
