package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/tickerhub/tickerd/internal/metrics"
)

// Executor runs an upstream operation under a retry policy. The delay between
// attempts suspends only the calling goroutine and honors context
// cancellation, so one slow key never stalls fetches for other keys.
type Executor struct {
	policy Policy
	log    *slog.Logger

	// sleep is swappable so tests can record the schedule instead of waiting
	// it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor; a nil policy means BackoffPolicy.
func NewExecutor(policy Policy, log *slog.Logger) *Executor {
	if policy == nil {
		policy = BackoffPolicy{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{policy: policy, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds or the policy stops it. A failure the policy
// refuses to retry on the first attempt propagates unchanged, preserving its
// classification for the caller's diagnostics. Once at least one retry has
// been spent, the final failure is wrapped in *ExhaustedError. namespace and
// key identify the record being fetched in every retry event; label names the
// upstream for the error text and the retry metric.
func Do[T any](ctx context.Context, ex *Executor, label, namespace, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		decision := ex.policy.Classify(err, attempt)
		if !decision.Retry {
			if attempt == 0 {
				return zero, err
			}
			ex.log.Error("upstream call failed after retries",
				"label", label, "namespace", namespace, "key", key,
				"attempts", attempt+1, "error", err)
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		ex.log.Warn("retrying upstream call",
			"label", label, "namespace", namespace, "key", key,
			"attempt", attempt+1, "delay", decision.Delay, "error", err)
		metrics.RetryAttempts.WithLabelValues(label).Inc()

		if serr := ex.sleep(ctx, decision.Delay); serr != nil {
			return zero, serr
		}
	}
}
