package run

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"transient", Transient(errors.New("connection reset")), ClassTransient},
		{"policy violation", PolicyViolation(errors.New("path escape")), ClassPolicyViolation},
		{"budget", BudgetExceeded(errors.New("token ceiling")), ClassBudgetExceeded},
		{"agent failure", AgentFailure(errors.New("malformed json")), ClassAgentFailure},
		{"fatal config", FatalConfigf("missing token"), ClassFatalConfiguration},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"wrapped deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), ClassTransient},
		{"unclassified", errors.New("something odd"), ClassAgentFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestClassSurvivesWrapping(t *testing.T) {
	inner := Transient(errors.New("rate limited"))
	wrapped := fmt.Errorf("calling agent: %w", inner)

	assert.Equal(t, ClassTransient, ClassOf(wrapped))

	var re *Error
	require.True(t, errors.As(wrapped, &re))
	assert.Equal(t, ClassTransient, re.Class)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Transient(errors.New("blip"))))
	assert.True(t, Retryable(AgentFailure(errors.New("bad artifact"))))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(PolicyViolation(errors.New("trip"))))
	assert.False(t, Retryable(BudgetExceeded(errors.New("over"))))
	assert.False(t, Retryable(FatalConfigf("no config")))
}
