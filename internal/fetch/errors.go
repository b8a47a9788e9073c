package fetch

import "fmt"

// StatusError is a protocol-level upstream failure carrying the HTTP status.
// Transport failures (timeouts, refused connections) stay as ordinary errors
// from the http client; the classifier recognizes both.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Detail)
}

// ExhaustedError wraps the last upstream failure once the backoff schedule
// for its class is fully consumed. The orchestrator falls back to stale cache
// when it sees one instead of treating the failure as unexpected.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
