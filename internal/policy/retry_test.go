package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConfigDefaults(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.BaseDelay)
	assert.Equal(t, 120*time.Second, cfg.MaxDelay)
}

func TestDelayExponentialWithCap(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 5 * time.Second, MaxDelay: 120 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 80 * time.Second},
		{6, 120 * time.Second}, // 160s capped
		{7, 120 * time.Second},
		{0, 5 * time.Second}, // clamped to first attempt
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayLargeAttemptDoesNotOverflow(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, time.Minute, cfg.Delay(200))
}
