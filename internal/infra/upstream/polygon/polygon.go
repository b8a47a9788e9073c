// Package polygon fetches daily price aggregates from the Polygon.io REST
// API. Request shaping stays here; transport failures flow back to the retry
// layer unchanged.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tickerhub/tickerd/internal/core/domain"
	"github.com/tickerhub/tickerd/internal/infra/upstream"
)

const defaultBaseURL = "https://api.polygon.io"

// Config holds Polygon client settings.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client calls the Polygon aggregates endpoints.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg Config, log *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpc:   upstream.NewHTTPClient(timeout),
		log:     log,
		now:     time.Now,
	}
}

type aggsResponse struct {
	Results []struct {
		T int64   `json:"t"` // epoch millis
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
}

// PriceSeries fetches one month of daily bars for ticker.
func (c *Client) PriceSeries(ctx context.Context, ticker string) (domain.PriceSeries, error) {
	start := c.now()
	resp, err := c.aggregates(ctx, ticker, 30, "asc")
	if err != nil {
		return domain.PriceSeries{}, err
	}

	series := domain.PriceSeries{Ticker: ticker, Points: make([]domain.PricePoint, 0, len(resp.Results))}
	for _, r := range resp.Results {
		series.Points = append(series.Points, domain.PricePoint{
			Time:   time.UnixMilli(r.T).UTC(),
			Open:   r.O,
			High:   r.H,
			Low:    r.L,
			Close:  r.C,
			Volume: r.V,
		})
	}

	c.log.Info("fetched price series",
		"ticker", ticker, "points", len(series.Points),
		"elapsed", c.now().Sub(start).Round(time.Millisecond))
	return series, nil
}

// RelatedQuotes fetches the latest quote for each peer ticker concurrently.
// A peer that fails is dropped; the caller gets whatever succeeded.
func (c *Client) RelatedQuotes(ctx context.Context, tickers []string) (domain.RelatedQuotes, error) {
	quotes := make(domain.RelatedQuotes, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		g.Go(func() error {
			q, err := c.latestQuote(gctx, ticker)
			if err != nil {
				c.log.Warn("related quote fetch failed", "ticker", ticker, "error", err)
				return nil
			}
			mu.Lock()
			quotes[ticker] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(quotes) == 0 && len(tickers) > 0 {
		return nil, fmt.Errorf("no related quotes available for %d tickers", len(tickers))
	}
	c.log.Info("fetched related quotes", "requested", len(tickers), "got", len(quotes))
	return quotes, nil
}

// latestQuote derives price and day-over-day change from the two most recent
// daily closes.
func (c *Client) latestQuote(ctx context.Context, ticker string) (domain.RelatedQuote, error) {
	resp, err := c.aggregates(ctx, ticker, 5, "desc")
	if err != nil {
		return domain.RelatedQuote{}, err
	}
	if len(resp.Results) < 2 {
		return domain.RelatedQuote{}, fmt.Errorf("insufficient data for %s: got %d bars, need 2", ticker, len(resp.Results))
	}

	current := resp.Results[0].C
	previous := resp.Results[1].C
	if previous == 0 {
		// A zero close would make the percent change non-finite, which has
		// no JSON encoding. Drop the peer instead.
		return domain.RelatedQuote{}, fmt.Errorf("zero previous close for %s", ticker)
	}
	change := current - previous
	return domain.RelatedQuote{
		Ticker:    ticker,
		Price:     current,
		Change:    change,
		ChangePct: change / previous * 100,
	}, nil
}

func (c *Client) aggregates(ctx context.Context, ticker string, days int, sort string) (*aggsResponse, error) {
	end := c.now()
	start := end.AddDate(0, 0, -days)

	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		c.baseURL, url.PathEscape(ticker), start.Format("2006-01-02"), end.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("adjusted", "true")
	q.Set("sort", sort)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregates call: %w", err)
	}
	defer resp.Body.Close()

	if err := upstream.CheckStatus(resp); err != nil {
		return nil, err
	}

	var parsed aggsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse aggregates response: %w", err)
	}
	return &parsed, nil
}
