// Package serve exposes the market data API plus health and metrics
// endpoints.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickerhub/tickerd/internal/data"
	"github.com/tickerhub/tickerd/internal/fetch"
	"github.com/tickerhub/tickerd/internal/infra/cache"
)

// Server serves the JSON API.
type Server struct {
	svc    *data.Service
	log    *slog.Logger
	server *http.Server
}

// NewServer wires the routes. Port 0 lets the OS pick (tests).
func NewServer(svc *data.Service, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		svc: svc,
		log: log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /api/v1/price/{ticker}", s.handlePrice)
	mux.HandleFunc("GET /api/v1/news/{ticker}", s.handleNews)
	mux.HandleFunc("GET /api/v1/related/{ticker}", s.handleRelated)
	mux.HandleFunc("GET /api/v1/insights/{ticker}", s.handleInsights)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// response is the envelope every data endpoint returns. DataAge is only set
// for cached results; IsFallback marks stale data served past its TTL.
type response struct {
	Ticker     string `json:"ticker"`
	Data       any    `json:"data"`
	Source     string `json:"source"`
	DataAge    string `json:"data_age,omitempty"`
	IsFallback bool   `json:"is_fallback"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	s.handleData(w, r, func(ctx context.Context, ticker string) (any, fetch.Source, time.Time, error) {
		res, err := s.svc.Price(ctx, ticker)
		return res.Value, res.Source, res.StoredAt, err
	})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	s.handleData(w, r, func(ctx context.Context, ticker string) (any, fetch.Source, time.Time, error) {
		res, err := s.svc.News(ctx, ticker)
		return res.Value, res.Source, res.StoredAt, err
	})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	s.handleData(w, r, func(ctx context.Context, ticker string) (any, fetch.Source, time.Time, error) {
		res, err := s.svc.Related(ctx, ticker)
		return res.Value, res.Source, res.StoredAt, err
	})
}

// handleInsights serves the cached insight, regenerating only when the caller
// asks with ?refresh=true.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"
	s.handleData(w, r, func(ctx context.Context, ticker string) (any, fetch.Source, time.Time, error) {
		res, err := s.svc.Insights(ctx, ticker, force)
		return res.Value, res.Source, res.StoredAt, err
	})
}

func (s *Server) handleData(
	w http.ResponseWriter,
	r *http.Request,
	get func(ctx context.Context, ticker string) (any, fetch.Source, time.Time, error),
) {
	ticker := r.PathValue("ticker")
	if _, ok := s.svc.Ticker(ticker); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown ticker %q", ticker))
		return
	}

	value, source, storedAt, err := get(r.Context(), ticker)
	if err != nil {
		if errors.Is(err, fetch.ErrNoData) {
			writeError(w, http.StatusNotFound, "no data available")
			return
		}
		s.log.Error("request failed", "path", r.URL.Path, "ticker", ticker, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := response{
		Ticker:     ticker,
		Data:       value,
		Source:     source.String(),
		IsFallback: source == fetch.SourceStale,
	}
	if !storedAt.IsZero() && source != fetch.SourceUpstream {
		resp.DataAge = cache.FormatAge(time.Since(storedAt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
