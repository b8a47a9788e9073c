// Package control wires configuration into a running service: cache store
// selection, upstream clients, orchestrators, the HTTP server, and the
// optional background workers.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/tickerhub/tickerd/internal/core/config"
	"github.com/tickerhub/tickerd/internal/data"
	"github.com/tickerhub/tickerd/internal/fetch"
	"github.com/tickerhub/tickerd/internal/infra/cache"
	filecache "github.com/tickerhub/tickerd/internal/infra/cache/file"
	memcache "github.com/tickerhub/tickerd/internal/infra/cache/memory"
	pgcache "github.com/tickerhub/tickerd/internal/infra/cache/postgres"
	rediscache "github.com/tickerhub/tickerd/internal/infra/cache/redis"
	"github.com/tickerhub/tickerd/internal/infra/upstream/newsdatahub"
	"github.com/tickerhub/tickerd/internal/infra/upstream/openai"
	"github.com/tickerhub/tickerd/internal/infra/upstream/polygon"
	"github.com/tickerhub/tickerd/internal/refresh"
	"github.com/tickerhub/tickerd/internal/serve"
)

// Service is the assembled application.
type Service struct {
	cfg       *config.AppConfig
	store     cache.Store
	server    *serve.Server
	refresher *refresh.Refresher
	cleaner   *refresh.CleanupWorker
	log       *slog.Logger
	cancel    context.CancelFunc
}

// NewService builds the full dependency graph from configuration.
func NewService(cfg *config.AppConfig, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}

	pc := polygon.New(cfg.Providers.Polygon, log)
	nc := newsdatahub.New(cfg.Providers.NewsDataHub, log)
	oc := openai.New(cfg.Providers.OpenAI, log)

	serveMode := fetch.ModeInteractive
	if cfg.Cache.BackgroundRefresh {
		serveMode = fetch.ModeBackgroundRefresh
	}
	servingSvc := data.NewService(fetch.NewOrchestrator(fetch.Options{
		Store:  store,
		Mode:   serveMode,
		TTL:    cfg.Cache.TTL(),
		Logger: log,
	}), pc, nc, oc, cfg.Tickers)

	s := &Service{
		cfg:     cfg,
		store:   store,
		server:  serve.NewServer(servingSvc, cfg.Server.Port, log),
		cleaner: refresh.NewCleanupWorker(store, cfg.Cache.MaxAge(), log),
		log:     log,
	}

	if cfg.Refresh.Enabled {
		// The refresher always runs interactive semantics, whatever mode
		// the serving path uses.
		refreshSvc := data.NewService(fetch.NewOrchestrator(fetch.Options{
			Store:  store,
			Mode:   fetch.ModeInteractive,
			TTL:    cfg.Cache.TTL(),
			Logger: log,
		}), pc, nc, oc, cfg.Tickers)
		s.refresher = refresh.NewRefresher(refreshSvc, cfg.Refresh.Interval(), log)
	}

	log.Info("service assembled",
		"backend", cfg.Cache.Backend,
		"mode", serveMode.String(),
		"ttl", cfg.Cache.TTL(),
		"refresher", cfg.Refresh.Enabled,
		"tickers", len(cfg.Tickers))
	return s, nil
}

// NewStore builds the configured cache store. Exposed for the one-shot CLI
// commands that need a store without the rest of the service.
func NewStore(cfg *config.AppConfig, log *slog.Logger) (cache.Store, error) {
	return newStore(cfg, log)
}

// NewRefresher builds the store plus an interactive-mode refresher for the
// one-shot refresh command. The caller owns closing the returned store.
func NewRefresher(cfg *config.AppConfig, log *slog.Logger) (*refresh.Refresher, cache.Store, error) {
	if log == nil {
		log = slog.Default()
	}
	store, err := newStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	svc := data.NewService(fetch.NewOrchestrator(fetch.Options{
		Store:  store,
		Mode:   fetch.ModeInteractive,
		TTL:    cfg.Cache.TTL(),
		Logger: log,
	}), polygon.New(cfg.Providers.Polygon, log), newsdatahub.New(cfg.Providers.NewsDataHub, log),
		openai.New(cfg.Providers.OpenAI, log), cfg.Tickers)
	return refresh.NewRefresher(svc, cfg.Refresh.Interval(), log), store, nil
}

func newStore(cfg *config.AppConfig, log *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "", "file":
		store, err := filecache.NewStore(cfg.Cache.File, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init file cache: %w", err)
		}
		return store, nil
	case "postgres":
		db, err := pgcache.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		return pgcache.NewStore(db), nil
	case "redis":
		store, err := rediscache.NewStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		return store, nil
	case "memory":
		return memcache.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Start launches the HTTP server and background workers. Non-blocking.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		s.log.Info("http server listening", "port", s.cfg.Server.Port)
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", "error", err)
		}
	}()

	if s.refresher != nil {
		go s.refresher.Start(runCtx)
	}
	go s.cleaner.Start(runCtx)

	return nil
}

// Stop shuts everything down.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.server.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop http server: %w", err)
	}
	return s.store.Close()
}
