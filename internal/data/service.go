// Package data binds each data source to the fetch orchestrator. Every
// source is the same call with a different namespace and fetch function; no
// source-specific branching lives anywhere near the orchestrator.
package data

import (
	"context"
	"fmt"

	"github.com/tickerhub/tickerd/internal/core/config"
	"github.com/tickerhub/tickerd/internal/core/domain"
	"github.com/tickerhub/tickerd/internal/fetch"
	"github.com/tickerhub/tickerd/internal/infra/upstream/newsdatahub"
	"github.com/tickerhub/tickerd/internal/infra/upstream/openai"
	"github.com/tickerhub/tickerd/internal/infra/upstream/polygon"
)

// Service exposes the four market data sources behind one orchestrator.
type Service struct {
	orc      *fetch.Orchestrator
	polygon  *polygon.Client
	news     *newsdatahub.Client
	insights *openai.Client
	catalog  map[string]config.TickerConfig
	order    []string
}

func NewService(orc *fetch.Orchestrator, pc *polygon.Client, nc *newsdatahub.Client, oc *openai.Client, tickers []config.TickerConfig) *Service {
	catalog := make(map[string]config.TickerConfig, len(tickers))
	order := make([]string, 0, len(tickers))
	for _, t := range tickers {
		catalog[t.Symbol] = t
		order = append(order, t.Symbol)
	}
	return &Service{orc: orc, polygon: pc, news: nc, insights: oc, catalog: catalog, order: order}
}

// Ticker looks a symbol up in the served catalog.
func (s *Service) Ticker(symbol string) (config.TickerConfig, bool) {
	t, ok := s.catalog[symbol]
	return t, ok
}

// Symbols returns the served symbols in config order.
func (s *Service) Symbols() []string {
	return s.order
}

// Price fetches the daily price history for ticker.
func (s *Service) Price(ctx context.Context, ticker string) (fetch.Result[domain.PriceSeries], error) {
	return fetch.Fetch(ctx, s.orc, domain.NamespacePrices, ticker,
		func(ctx context.Context) (domain.PriceSeries, error) {
			return s.polygon.PriceSeries(ctx, ticker)
		}, "polygon prices")
}

// News fetches the news digest for ticker.
func (s *Service) News(ctx context.Context, ticker string) (fetch.Result[domain.NewsDigest], error) {
	searchTerm := s.catalog[ticker].SearchTerm
	return fetch.Fetch(ctx, s.orc, domain.NamespaceNews, ticker,
		func(ctx context.Context) (domain.NewsDigest, error) {
			return s.news.News(ctx, ticker, searchTerm)
		}, "newsdatahub")
}

// Related fetches the peer-ticker quotes for ticker. A ticker with no
// configured peers yields an empty map without touching cache or upstream.
func (s *Service) Related(ctx context.Context, ticker string) (fetch.Result[domain.RelatedQuotes], error) {
	peers := s.catalog[ticker].Related
	if len(peers) == 0 {
		return fetch.Result[domain.RelatedQuotes]{Value: domain.RelatedQuotes{}, Source: fetch.SourceUpstream}, nil
	}
	return fetch.Fetch(ctx, s.orc, domain.NamespaceRelated, ticker,
		func(ctx context.Context) (domain.RelatedQuotes, error) {
			return s.polygon.RelatedQuotes(ctx, peers)
		}, "polygon related")
}

// Insights fetches the generated analysis for ticker. A cached insight is
// served regardless of age; generation happens only when the cache is empty
// or force is set, and never in background-refresh mode. The generator reads
// the price series and news digest through the normal cached paths first.
func (s *Service) Insights(ctx context.Context, ticker string, force bool) (fetch.Result[domain.Insight], error) {
	return fetch.FetchCached(ctx, s.orc, domain.NamespaceInsights, ticker,
		func(ctx context.Context) (domain.Insight, error) {
			// Input failures carry their own spent retry schedules; flatten
			// them so the insight layer does not retry the whole chain.
			price, err := s.Price(ctx, ticker)
			if err != nil {
				return domain.Insight{}, fmt.Errorf("insight inputs unavailable: %v", err)
			}
			news, err := s.News(ctx, ticker)
			if err != nil {
				return domain.Insight{}, fmt.Errorf("insight inputs unavailable: %v", err)
			}
			return s.insights.GenerateInsight(ctx, ticker, price.Value, news.Value)
		}, "openai insights", force)
}
