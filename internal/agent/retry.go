package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig bounds the retry loop around backend calls.
type RetryConfig struct {
	MaxAttempts int           // total attempts, not extra retries
	BaseDelay   time.Duration // backoff base: 2^attempt * BaseDelay
}

// DefaultRetryConfig matches the backend's documented limits.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// RetryDo runs fn up to cfg.MaxAttempts times.
//
// Classification: *APIError fails immediately. *RateLimitError sleeps the
// backend's hint between attempts and is returned as-is once attempts run
// out. Everything else is transient and backs off exponentially.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return zero, err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		wait := cfg.BaseDelay << attempt
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			wait = rlErr.RetryAfter
		}

		slog.Debug("agent: retrying after failure",
			"attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, lastErr
}
