package gh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

type retryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:     3,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
		multiplier:     2.0,
	}
}

// withRetry runs op with exponential backoff. Rate-limited responses wait
// for GitHub's advertised reset instead of the computed backoff.
func (c *Client) withRetry(ctx context.Context, op func() (*github.Response, error)) (*github.Response, error) {
	var lastErr error
	var lastResp *github.Response
	backoff := c.retry.initialBackoff

	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				c.log.Debug(ctx, "github call recovered after retries", zap.Int("attempts", attempt+1))
			}
			return resp, nil
		}
		lastErr = err
		lastResp = resp

		if !retryableResponse(resp) {
			return resp, err
		}
		if attempt == c.retry.maxRetries {
			break
		}

		wait := backoff
		if rateLimited(resp) {
			wait = rateLimitBackoff(resp, c.retry.maxBackoff)
			c.log.Warn(ctx, "github rate limit hit",
				zap.Duration("backoff", wait),
				zap.Int("attempt", attempt+1))
		} else {
			c.log.Debug(ctx, "retrying github call",
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
				zap.Duration("backoff", wait))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * c.retry.multiplier)
		if backoff > c.retry.maxBackoff {
			backoff = c.retry.maxBackoff
		}
	}

	return lastResp, fmt.Errorf("github call failed after %d retries: %w", c.retry.maxRetries, lastErr)
}

func retryableResponse(resp *github.Response) bool {
	code := statusCode(resp)
	switch {
	case code == 0:
		// Network-level failure, no response at all.
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// Secondary rate limits come back as 403 with rate headers.
		return resp.Rate.Limit > 0
	case code >= 500:
		return true
	default:
		return false
	}
}

func rateLimited(resp *github.Response) bool {
	code := statusCode(resp)
	if code == http.StatusTooManyRequests {
		return true
	}
	return code == http.StatusForbidden && resp.Rate.Limit > 0
}
