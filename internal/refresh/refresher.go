// Package refresh keeps the cache populated so background-refresh serving
// processes never need to call upstream providers.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tickerhub/tickerd/internal/data"
)

// Refresher periodically fetches every data source for every configured
// ticker through an interactive-mode data service, regardless of how the
// serving path is configured.
type Refresher struct {
	svc      *data.Service
	interval time.Duration
	log      *slog.Logger
}

func NewRefresher(svc *data.Service, interval time.Duration, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{svc: svc, interval: interval, log: log}
}

// Start runs an immediate refresh and then one per interval until ctx ends.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes all tickers in parallel. Individual failures are logged
// and skipped; one dead provider must not starve the others' caches.
func (r *Refresher) RunOnce(ctx context.Context) {
	runID := uuid.New().String()
	start := time.Now()
	r.log.Info("refresh run starting", "run_id", runID, "tickers", len(r.svc.Symbols()))

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range r.svc.Symbols() {
		g.Go(func() error {
			r.refreshTicker(gctx, runID, symbol)
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info("refresh run complete", "run_id", runID, "elapsed", time.Since(start).Round(time.Millisecond))
}

func (r *Refresher) refreshTicker(ctx context.Context, runID, symbol string) {
	_, priceErr := r.svc.Price(ctx, symbol)
	if priceErr != nil {
		r.log.Error("price refresh failed", "run_id", runID, "ticker", symbol, "error", priceErr)
	}
	_, newsErr := r.svc.News(ctx, symbol)
	if newsErr != nil {
		r.log.Error("news refresh failed", "run_id", runID, "ticker", symbol, "error", newsErr)
	}
	if _, err := r.svc.Related(ctx, symbol); err != nil {
		r.log.Error("related refresh failed", "run_id", runID, "ticker", symbol, "error", err)
	}

	// Insights build on the price series and news digest; regenerating from
	// failed inputs would cache an analysis of nothing.
	if priceErr != nil || newsErr != nil {
		r.log.Warn("skipping insight refresh, inputs missing", "run_id", runID, "ticker", symbol)
		return
	}
	if _, err := r.svc.Insights(ctx, symbol, true); err != nil {
		r.log.Error("insight refresh failed", "run_id", runID, "ticker", symbol, "error", err)
	}
}
