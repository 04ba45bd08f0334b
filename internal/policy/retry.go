package policy

import "time"

// RetryConfig controls exponential backoff for transient stage failures.
// Defaults: 3 retries, 5s base, 120s cap.
type RetryConfig struct {
	// MaxRetries caps retry attempts per stage.
	MaxRetries int `koanf:"max_retries" json:"max_retries"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `koanf:"base_delay" json:"base_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration `koanf:"max_delay" json:"max_delay"`
}

// DefaultRetryConfig returns the documented retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   120 * time.Second,
	}
}

// Delay computes the backoff for retry attempt k (1-based):
// base * 2^(k-1), capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
