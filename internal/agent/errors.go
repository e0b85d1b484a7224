package agent

import (
	"fmt"
	"time"
)

// RateLimitError is returned when the backend kept answering 429 until the
// retry budget ran out. RetryAfter carries the backend's wait hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent: rate limited, retry after %s", e.RetryAfter)
}

// APIError is a non-retryable backend rejection (bad request, auth failure)
// or a structured failure envelope. The pipeline skips the reply turn.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agent: backend status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("agent: backend error: %s", e.Message)
}

// nonRetryableStatus reports whether an HTTP status must fail immediately.
func nonRetryableStatus(status int) bool {
	switch status {
	case 400, 401, 403:
		return true
	}
	return false
}
