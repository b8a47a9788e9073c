package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/tickerhub/tickerd/internal/infra/cache"
	"github.com/tickerhub/tickerd/internal/metrics"
)

// CleanupWorker sweeps records older than the retention horizon out of the
// cache store, off the hot read/write path.
type CleanupWorker struct {
	store  cache.Store
	maxAge time.Duration
	log    *slog.Logger
}

func NewCleanupWorker(store cache.Store, maxAge time.Duration, log *slog.Logger) *CleanupWorker {
	if log == nil {
		log = slog.Default()
	}
	return &CleanupWorker{store: store, maxAge: maxAge, log: log}
}

// Start runs sweeps until ctx ends. The check interval is a tenth of the
// retention horizon, clamped to [1m, 1h].
func (w *CleanupWorker) Start(ctx context.Context) {
	if w.maxAge <= 0 {
		return // retention disabled
	}

	interval := min(w.maxAge/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass.
func (w *CleanupWorker) Sweep(ctx context.Context) {
	deleted, err := w.store.Cleanup(ctx, w.maxAge)
	if err != nil {
		w.log.Error("cache cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		metrics.CacheCleanupDeleted.Add(float64(deleted))
		w.log.Info("cache cleanup complete", "deleted", deleted, "max_age", w.maxAge)
	}
}
