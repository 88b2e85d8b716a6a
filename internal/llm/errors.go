package llm

import "fmt"

// RetryableError indicates a transient failure (timeout, rate limit, 5xx)
// that can be retried with the same inputs.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// MalformedError indicates the generation response failed to parse into the
// expected structure. Retried once with a corrective instruction before being
// escalated.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed model output: %v (raw: %s)", e.Err, truncate(e.Raw, 200))
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
