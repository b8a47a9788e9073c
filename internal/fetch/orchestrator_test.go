package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tickerhub/tickerd/internal/infra/cache/memory"
)

type payload struct {
	Ticker string `json:"ticker"`
	Price  float64
}

func newTestOrchestrator(mode Mode) (*Orchestrator, *memory.Store) {
	store := memory.NewStore()
	o := NewOrchestrator(Options{
		Store: store,
		Mode:  mode,
		TTL:   10 * time.Minute,
	})
	o.exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o, store
}

func countingFetch(calls *int32, v payload, err error) FetchFunc[payload] {
	return func(ctx context.Context) (payload, error) {
		atomic.AddInt32(calls, 1)
		return v, err
	}
}

func TestFetchInteractiveMissThenHit(t *testing.T) {
	o, _ := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	var calls int32
	fn := countingFetch(&calls, payload{Ticker: "NFLX", Price: 600}, nil)

	res, err := Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Source != SourceUpstream || res.Value.Price != 600 {
		t.Errorf("got %+v, want upstream value", res)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}

	// Within TTL the second fetch is a fresh hit and never reaches upstream.
	res, err = Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if res.Source != SourceFresh || res.Value.Price != 600 {
		t.Errorf("got %+v, want fresh hit", res)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d after fresh hit, want 1", calls)
	}
}

func TestFetchBackgroundNeverCallsUpstream(t *testing.T) {
	o, store := newTestOrchestrator(ModeBackgroundRefresh)
	ctx := context.Background()

	var calls int32
	fn := countingFetch(&calls, payload{Ticker: "NFLX"}, nil)

	// Empty cache: empty result, still no upstream call.
	_, err := Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	// Stale record: served, still no upstream call.
	if err := store.Put(ctx, "prices", "NFLX", []byte(`{"ticker":"NFLX","Price":11}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("prices", "NFLX", time.Now().Add(-48*time.Hour))

	res, err := Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Source != SourceStale || res.Value.Price != 11 {
		t.Errorf("got %+v, want stale value", res)
	}
	if calls != 0 {
		t.Errorf("upstream calls = %d in background mode, want 0", calls)
	}
}

func TestFetchStaleFallbackOnPermanentError(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "prices", "TSLA", []byte(`{"ticker":"TSLA","Price":250}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("prices", "TSLA", time.Now().Add(-2*time.Hour))

	var calls int32
	fn := countingFetch(&calls, payload{}, &StatusError{Status: 404})

	res, err := Fetch(ctx, o, "prices", "TSLA", fn, "polygon prices")
	if err != nil {
		t.Fatalf("expected stale fallback, got error %v", err)
	}
	if res.Source != SourceStale || res.Value.Price != 250 {
		t.Errorf("got %+v, want stale fallback", res)
	}
	if !res.Stale() {
		t.Error("result not marked stale")
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (404 is never retried)", calls)
	}
}

func TestFetchStaleFallbackAfterExhaustion(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "news", "GOOGL", []byte(`{"ticker":"GOOGL","Price":1}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("news", "GOOGL", time.Now().Add(-time.Hour))

	var calls int32
	fn := countingFetch(&calls, payload{}, &StatusError{Status: 503})

	res, err := Fetch(ctx, o, "news", "GOOGL", fn, "newsdatahub")
	if err != nil {
		t.Fatalf("expected stale fallback, got error %v", err)
	}
	if res.Source != SourceStale {
		t.Errorf("got source %v, want stale", res.Source)
	}
	if calls != 4 {
		t.Errorf("upstream calls = %d, want 4 (initial + 3 retries)", calls)
	}
}

func TestFetchHardFailureCarriesLabel(t *testing.T) {
	o, _ := newTestOrchestrator(ModeInteractive)

	fn := func(ctx context.Context) (payload, error) {
		return payload{}, &StatusError{Status: 404}
	}
	_, err := Fetch(context.Background(), o, "prices", "NFLX", fn, "polygon prices")
	if err == nil {
		t.Fatal("expected hard failure with empty cache")
	}
	if !strings.Contains(err.Error(), "polygon prices") {
		t.Errorf("error %q does not carry the context label", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 404 {
		t.Errorf("error %v does not wrap the underlying failure", err)
	}
}

func TestFetchExpiredRecordIsAMiss(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "prices", "NFLX", []byte(`{"ticker":"NFLX","Price":1}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("prices", "NFLX", time.Now().Add(-time.Hour))

	var calls int32
	fn := countingFetch(&calls, payload{Ticker: "NFLX", Price: 2}, nil)

	res, err := Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Source != SourceUpstream || res.Value.Price != 2 {
		t.Errorf("got %+v, want refetched upstream value", res)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

func TestFetchDeduplicatesConcurrentCalls(t *testing.T) {
	o, _ := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	var calls int32
	var enterOnce sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (payload, error) {
		atomic.AddInt32(&calls, 1)
		enterOnce.Do(func() { close(entered) })
		<-release
		return payload{Price: 9}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result[payload], callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	}()
	<-entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
		}()
	}
	// Give the stragglers a moment to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d for %d concurrent callers, want 1", n, callers)
	}
	for i, res := range results {
		if res.Value.Price != 9 {
			t.Errorf("caller %d got %+v, want shared value", i, res)
		}
	}
}

func TestFetchCancelledDuringRetryDelay(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx, cancel := context.WithCancel(context.Background())
	o.exec.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	// A stale record exists, but an abandoned caller gets the cancellation
	// back rather than a fallback read it will never use.
	if err := store.Put(context.Background(), "prices", "NFLX", []byte(`{"ticker":"NFLX","Price":1}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("prices", "NFLX", time.Now().Add(-time.Hour))

	fn := func(ctx context.Context) (payload, error) {
		return payload{}, &StatusError{Status: 500}
	}
	_, err := Fetch(ctx, o, "prices", "NFLX", fn, "polygon prices")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Errorf("cancellation misreported as exhausted retries: %v", err)
	}
}

func TestFetchCachedServesAnyAge(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "insights", "NFLX", []byte(`{"ticker":"NFLX","Price":7}`)); err != nil {
		t.Fatal(err)
	}
	store.SetStoredAt("insights", "NFLX", time.Now().Add(-30*24*time.Hour))

	var calls int32
	fn := countingFetch(&calls, payload{Price: 8}, nil)

	res, err := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", false)
	if err != nil {
		t.Fatalf("FetchCached: %v", err)
	}
	if res.Value.Price != 7 || res.Source != SourceFresh {
		t.Errorf("got %+v, want month-old cached value", res)
	}
	if calls != 0 {
		t.Errorf("upstream calls = %d serving cached record, want 0", calls)
	}
}

func TestFetchCachedForceRegenerates(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "insights", "NFLX", []byte(`{"ticker":"NFLX","Price":7}`)); err != nil {
		t.Fatal(err)
	}

	var calls int32
	fn := countingFetch(&calls, payload{Price: 8}, nil)

	res, err := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", true)
	if err != nil {
		t.Fatalf("FetchCached: %v", err)
	}
	if res.Value.Price != 8 || res.Source != SourceUpstream {
		t.Errorf("got %+v, want regenerated value", res)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}

	// The regenerated value replaced the cached one.
	res, err = FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", false)
	if err != nil {
		t.Fatalf("FetchCached: %v", err)
	}
	if res.Value.Price != 8 || calls != 1 {
		t.Errorf("got %+v after %d calls, want cached regenerated value", res, calls)
	}
}

func TestFetchCachedEmptyMissGenerates(t *testing.T) {
	o, _ := newTestOrchestrator(ModeInteractive)

	var calls int32
	fn := countingFetch(&calls, payload{Price: 3}, nil)

	res, err := FetchCached(context.Background(), o, "insights", "NFLX", fn, "openai insights", false)
	if err != nil {
		t.Fatalf("FetchCached: %v", err)
	}
	if res.Source != SourceUpstream || calls != 1 {
		t.Errorf("got %+v after %d calls, want one generation on empty cache", res, calls)
	}
}

func TestFetchCachedBackgroundNeverGenerates(t *testing.T) {
	o, store := newTestOrchestrator(ModeBackgroundRefresh)
	ctx := context.Background()

	var calls int32
	fn := countingFetch(&calls, payload{Price: 3}, nil)

	// Empty cache: no data, even when forced.
	if _, err := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", true); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	// Cached record: served, force ignored.
	if err := store.Put(ctx, "insights", "NFLX", []byte(`{"ticker":"NFLX","Price":5}`)); err != nil {
		t.Fatal(err)
	}
	res, err := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", true)
	if err != nil {
		t.Fatalf("FetchCached: %v", err)
	}
	if res.Value.Price != 5 {
		t.Errorf("got %+v, want cached value", res)
	}
	if calls != 0 {
		t.Errorf("upstream calls = %d in background mode, want 0", calls)
	}
}

func TestFetchCachedFailureHasNoFallback(t *testing.T) {
	o, store := newTestOrchestrator(ModeInteractive)
	ctx := context.Background()

	if err := store.Put(ctx, "insights", "NFLX", []byte(`{"ticker":"NFLX","Price":7}`)); err != nil {
		t.Fatal(err)
	}

	fn := func(ctx context.Context) (payload, error) {
		return payload{}, &StatusError{Status: 500}
	}
	_, err := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", true)
	if err == nil {
		t.Fatal("expected forced regeneration failure to surface")
	}
	if !strings.Contains(err.Error(), "openai insights") {
		t.Errorf("error %q does not carry the context label", err)
	}

	// The old record survives for the next unforced read.
	res, rerr := FetchCached(ctx, o, "insights", "NFLX", fn, "openai insights", false)
	if rerr != nil || res.Value.Price != 7 {
		t.Errorf("got (%+v, %v), want prior cached value", res, rerr)
	}
}

func TestFetchUnserializableValueSurfaces(t *testing.T) {
	store := memory.NewStore()
	o := NewOrchestrator(Options{Store: store, Mode: ModeInteractive, TTL: time.Minute})

	fn := func(ctx context.Context) (chan int, error) {
		return make(chan int), nil // channels have no JSON encoding
	}
	_, err := Fetch(context.Background(), o, "prices", "NFLX", fn, "polygon prices")
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}

	if rec, _ := store.GetStale(context.Background(), "prices", "NFLX"); rec != nil {
		t.Error("corrupt payload was cached")
	}
}
