package fetch

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Decision is the classifier's verdict for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// NoRetry tells the executor to stop and surface the failure.
var NoRetry = Decision{}

// Policy maps a failure and a 0-based attempt index to a retry decision.
// Implementations must be stateless; one policy value is shared by every
// in-flight call.
type Policy interface {
	Classify(err error, attempt int) Decision
}

// Rate-limited providers get long, widening delays so a retry burst does not
// burn the remaining quota. Everything transient gets quick exponential
// backoff.
var (
	rateLimitDelays = []time.Duration{15 * time.Second, 30 * time.Second, 45 * time.Second}
	transientDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
)

// BackoffPolicy is the default classifier:
//
//	429                          -> 15s, 30s, 45s
//	5xx, network timeout/refusal -> 0.5s, 1s, 2s
//	other 4xx, anything else     -> no retry
type BackoffPolicy struct{}

func (BackoffPolicy) Classify(err error, attempt int) Decision {
	if err == nil {
		return NoRetry
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return scheduled(rateLimitDelays, attempt)
		case se.Status >= 500:
			return scheduled(transientDelays, attempt)
		default:
			return NoRetry
		}
	}

	if isTransportError(err) {
		return scheduled(transientDelays, attempt)
	}
	return NoRetry
}

func scheduled(delays []time.Duration, attempt int) Decision {
	if attempt < 0 || attempt >= len(delays) {
		return NoRetry
	}
	return Decision{Retry: true, Delay: delays[attempt]}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
