package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheReads tracks read outcomes per namespace. Outcomes: fresh_hit,
	// miss, stale_hit, stale_fallback, empty.
	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickerd_cache_reads_total",
			Help: "Cache read outcomes",
		},
		[]string{"namespace", "outcome"},
	)

	// CacheWrites tracks cache writes per namespace and status (ok, error).
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickerd_cache_writes_total",
			Help: "Cache writes",
		},
		[]string{"namespace", "status"},
	)

	// CacheCleanupDeleted counts records removed by cleanup sweeps.
	CacheCleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickerd_cache_cleanup_deleted_total",
			Help: "Cache records deleted by cleanup",
		},
	)

	// UpstreamCalls tracks terminal upstream outcomes per namespace
	// (success, exhausted, permanent, canceled).
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickerd_upstream_calls_total",
			Help: "Upstream fetch outcomes after retry handling",
		},
		[]string{"namespace", "outcome"},
	)

	// RetryAttempts counts individual retries per error-context label.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickerd_retry_attempts_total",
			Help: "Retry attempts against upstream providers",
		},
		[]string{"label"},
	)

	// FetchDuration tracks end-to-end orchestrator latency per namespace.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickerd_fetch_duration_seconds",
			Help:    "Fetch orchestrator latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)
)
