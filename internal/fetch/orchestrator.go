// Package fetch is the resilient data-access kernel: a generic orchestrator
// that composes cache reads and writes with retry-wrapped upstream calls.
// Every data source goes through the same state machine; only the namespace
// and the fetch function change.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/tickerhub/tickerd/internal/infra/cache"
	"github.com/tickerhub/tickerd/internal/metrics"
)

// Mode decides whether a cache miss may reach upstream providers. It is fixed
// at construction; a process that serves in background-refresh mode builds a
// second, interactive orchestrator for its refresh driver.
type Mode int

const (
	// ModeInteractive calls upstream on a miss and falls back to stale
	// cache when the call fails.
	ModeInteractive Mode = iota
	// ModeBackgroundRefresh never calls upstream; it serves stale cache or
	// reports no data.
	ModeBackgroundRefresh
)

func (m Mode) String() string {
	if m == ModeBackgroundRefresh {
		return "background-refresh"
	}
	return "interactive"
}

// Source records where a fetch result came from.
type Source int

const (
	SourceFresh Source = iota
	SourceUpstream
	SourceStale
)

func (s Source) String() string {
	switch s {
	case SourceUpstream:
		return "upstream"
	case SourceStale:
		return "stale"
	default:
		return "fresh"
	}
}

// Result carries a fetched value and its provenance.
type Result[T any] struct {
	Value    T
	Source   Source
	StoredAt time.Time
}

// Stale reports whether the value was served as a fallback past its TTL.
func (r Result[T]) Stale() bool { return r.Source == SourceStale }

// ErrNoData is the background-mode outcome when neither fresh nor stale cache
// exists. It is an empty result, not a failure; callers decide how to degrade.
var ErrNoData = errors.New("no data available")

// ErrBadPayload marks a value that could not be serialized for caching. It is
// surfaced rather than swallowed so a corrupt payload is never half-cached.
var ErrBadPayload = errors.New("payload not serializable")

// FetchFunc is the consumed upstream capability: an opaque call that yields a
// value or fails with a *StatusError or a transport error.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configures an Orchestrator.
type Options struct {
	Store  cache.Store
	Mode   Mode
	TTL    time.Duration
	Policy Policy       // nil => BackoffPolicy
	Logger *slog.Logger // nil => slog.Default
}

// Orchestrator is the single entry point over the cache and the retry
// executor. It is safe for concurrent use; concurrent fetches for the same
// (namespace, key) share one upstream call.
type Orchestrator struct {
	store  cache.Store
	mode   Mode
	ttl    time.Duration
	exec   *Executor
	log    *slog.Logger
	flight singleflight.Group
	now    func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store: opts.Store,
		mode:  opts.Mode,
		ttl:   opts.TTL,
		exec:  NewExecutor(opts.Policy, log),
		log:   log,
		now:   time.Now,
	}
}

// Mode returns the mode the orchestrator was built with.
func (o *Orchestrator) Mode() Mode { return o.mode }

// Fetch resolves one (namespace, key):
//
//  1. fresh cache hit -> return it
//  2. background-refresh mode -> stale cache or ErrNoData, never upstream
//  3. interactive mode -> upstream under retry; on success cache and return;
//     on failure serve stale cache; with no stale record, surface the
//     failure tagged with label.
func Fetch[T any](ctx context.Context, o *Orchestrator, namespace, key string, fn FetchFunc[T], label string) (Result[T], error) {
	timer := prometheus.NewTimer(metrics.FetchDuration.WithLabelValues(namespace))
	defer timer.ObserveDuration()

	var zero Result[T]

	if rec := o.readFresh(ctx, namespace, key); rec != nil {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err == nil {
			o.log.Debug("cache hit",
				"namespace", namespace, "key", key, "age", rec.Age(o.now()).Round(time.Second))
			metrics.CacheReads.WithLabelValues(namespace, "fresh_hit").Inc()
			return Result[T]{Value: v, Source: SourceFresh, StoredAt: rec.StoredAt}, nil
		}
		o.log.Warn("cached payload undecodable, treating as miss",
			"namespace", namespace, "key", key)
	}
	metrics.CacheReads.WithLabelValues(namespace, "miss").Inc()

	if o.mode == ModeBackgroundRefresh {
		if rec := o.readStale(ctx, namespace, key); rec != nil {
			var v T
			if err := json.Unmarshal(rec.Payload, &v); err == nil {
				o.log.Debug("serving stale cache in background mode",
					"namespace", namespace, "key", key, "age", cache.FormatAge(rec.Age(o.now())))
				metrics.CacheReads.WithLabelValues(namespace, "stale_hit").Inc()
				return Result[T]{Value: v, Source: SourceStale, StoredAt: rec.StoredAt}, nil
			}
		}
		o.log.Debug("no cached data in background mode", "namespace", namespace, "key", key)
		metrics.CacheReads.WithLabelValues(namespace, "empty").Inc()
		return zero, ErrNoData
	}

	// Interactive: one upstream call per key at a time; concurrent callers
	// for the same key share its outcome.
	v, err, shared := callUpstream(ctx, o, namespace, key, fn, label)
	if err == nil {
		if shared {
			o.log.Debug("upstream call deduplicated", "namespace", namespace, "key", key)
		}
		metrics.UpstreamCalls.WithLabelValues(namespace, "success").Inc()
		return Result[T]{Value: v.(T), Source: SourceUpstream, StoredAt: o.now()}, nil
	}
	if errors.Is(err, ErrBadPayload) {
		return zero, fmt.Errorf("%s: %w", label, err)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The caller abandoned the fetch mid-retry; not an upstream failure
		// and no point reading stale cache for a reader that is gone.
		metrics.UpstreamCalls.WithLabelValues(namespace, "canceled").Inc()
		return zero, err
	}

	outcome := "permanent"
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		outcome = "exhausted"
	}
	metrics.UpstreamCalls.WithLabelValues(namespace, outcome).Inc()

	if rec := o.readStale(ctx, namespace, key); rec != nil {
		var sv T
		if uerr := json.Unmarshal(rec.Payload, &sv); uerr == nil {
			o.log.Warn("serving stale cache after upstream failure",
				"namespace", namespace, "key", key,
				"age", cache.FormatAge(rec.Age(o.now())), "error", err)
			metrics.CacheReads.WithLabelValues(namespace, "stale_fallback").Inc()
			return Result[T]{Value: sv, Source: SourceStale, StoredAt: rec.StoredAt}, nil
		}
	}

	o.log.Error("fetch failed with no fallback",
		"namespace", namespace, "key", key, "label", label, "error", err)
	return zero, fmt.Errorf("%s: %w", label, err)
}

// FetchCached resolves one (namespace, key) with cached-until-forced
// semantics, for generated content that has no natural TTL: any existing
// record satisfies the call regardless of age, and upstream is consulted only
// when the cache is empty or force is set in interactive mode. There is no
// stale fallback on upstream failure; any cached record would already have
// been served before upstream was tried.
func FetchCached[T any](ctx context.Context, o *Orchestrator, namespace, key string, fn FetchFunc[T], label string, force bool) (Result[T], error) {
	timer := prometheus.NewTimer(metrics.FetchDuration.WithLabelValues(namespace))
	defer timer.ObserveDuration()

	var zero Result[T]

	if !force || o.mode == ModeBackgroundRefresh {
		if rec := o.readStale(ctx, namespace, key); rec != nil {
			var v T
			if err := json.Unmarshal(rec.Payload, &v); err == nil {
				o.log.Debug("serving cached record",
					"namespace", namespace, "key", key, "age", cache.FormatAge(rec.Age(o.now())))
				metrics.CacheReads.WithLabelValues(namespace, "fresh_hit").Inc()
				return Result[T]{Value: v, Source: SourceFresh, StoredAt: rec.StoredAt}, nil
			}
			o.log.Warn("cached payload undecodable, treating as miss",
				"namespace", namespace, "key", key)
		}
	}

	if o.mode == ModeBackgroundRefresh {
		o.log.Debug("no cached data in background mode", "namespace", namespace, "key", key)
		metrics.CacheReads.WithLabelValues(namespace, "empty").Inc()
		return zero, ErrNoData
	}
	metrics.CacheReads.WithLabelValues(namespace, "miss").Inc()

	v, err, _ := callUpstream(ctx, o, namespace, key, fn, label)
	if err == nil {
		metrics.UpstreamCalls.WithLabelValues(namespace, "success").Inc()
		return Result[T]{Value: v.(T), Source: SourceUpstream, StoredAt: o.now()}, nil
	}
	if errors.Is(err, ErrBadPayload) {
		return zero, fmt.Errorf("%s: %w", label, err)
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		metrics.UpstreamCalls.WithLabelValues(namespace, "canceled").Inc()
		return zero, err
	}

	outcome := "permanent"
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		outcome = "exhausted"
	}
	metrics.UpstreamCalls.WithLabelValues(namespace, outcome).Inc()

	o.log.Error("fetch failed with no fallback",
		"namespace", namespace, "key", key, "label", label, "error", err)
	return zero, fmt.Errorf("%s: %w", label, err)
}

// callUpstream runs one retry-wrapped upstream call and its cache write under
// the per-key singleflight group.
func callUpstream[T any](ctx context.Context, o *Orchestrator, namespace, key string, fn FetchFunc[T], label string) (any, error, bool) {
	return o.flight.Do(namespace+"/"+key, func() (any, error) {
		val, err := Do(ctx, o.exec, label, namespace, key, fn)
		if err != nil {
			return nil, err
		}
		payload, merr := json.Marshal(val)
		if merr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, merr)
		}
		if perr := o.store.Put(ctx, namespace, key, payload); perr != nil {
			// A write failure costs a future cache hit, never the response.
			o.log.Warn("cache write failed",
				"namespace", namespace, "key", key, "error", perr)
			metrics.CacheWrites.WithLabelValues(namespace, "error").Inc()
		} else {
			metrics.CacheWrites.WithLabelValues(namespace, "ok").Inc()
		}
		return val, nil
	})
}

func (o *Orchestrator) readFresh(ctx context.Context, namespace, key string) *cache.Record {
	rec, err := o.store.GetFresh(ctx, namespace, key, o.ttl)
	if err != nil {
		o.log.Warn("cache read failed", "namespace", namespace, "key", key, "error", err)
		return nil
	}
	return rec
}

func (o *Orchestrator) readStale(ctx context.Context, namespace, key string) *cache.Record {
	rec, err := o.store.GetStale(ctx, namespace, key)
	if err != nil {
		o.log.Warn("cache read failed", "namespace", namespace, "key", key, "error", err)
		return nil
	}
	return rec
}
