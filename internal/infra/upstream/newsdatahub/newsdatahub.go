// Package newsdatahub fetches news articles from the NewsDataHub REST API:
// cursor pagination, relevance filtering, and headline/source deduplication.
package newsdatahub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tickerhub/tickerd/internal/core/domain"
	"github.com/tickerhub/tickerd/internal/infra/upstream"
)

const (
	defaultBaseURL = "https://api.newsdatahub.com/v1"
	maxPages       = 2
	perSourceCap   = 2
)

// Config holds NewsDataHub client settings.
type Config struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	FetchCount   int           `yaml:"fetch_count"`
	DisplayCount int           `yaml:"display_count"`
}

// Client calls the NewsDataHub news endpoint.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FetchCount == 0 {
		cfg.FetchCount = 100
	}
	if cfg.DisplayCount == 0 {
		cfg.DisplayCount = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, httpc: upstream.NewHTTPClient(cfg.Timeout), log: log}
}

type newsResponse struct {
	Data []struct {
		Title       string `json:"title"`
		SourceTitle string `json:"source_title"`
		ArticleLink string `json:"article_link"`
		Description string `json:"description"`
		PubDate     string `json:"pub_date"`
	} `json:"data"`
	NextCursor string `json:"next_cursor"`
}

// News fetches up to two pages of articles matching searchTerm and returns a
// deduplicated digest capped at the display count. searchTerm may carry
// alternatives joined by " OR " ("Google OR Alphabet").
func (c *Client) News(ctx context.Context, ticker, searchTerm string) (domain.NewsDigest, error) {
	if searchTerm == "" {
		searchTerm = ticker
	}

	var raw []domain.Article
	cursor := ""
	for page := 0; page < maxPages; page++ {
		resp, headers, err := c.page(ctx, searchTerm, cursor)
		if err != nil {
			return domain.NewsDigest{}, err
		}
		for _, a := range resp.Data {
			pub, _ := time.Parse(time.RFC3339, a.PubDate)
			raw = append(raw, domain.Article{
				Title:       a.Title,
				Source:      a.SourceTitle,
				URL:         a.ArticleLink,
				Description: a.Description,
				PublishedAt: pub,
			})
		}
		c.logQuota(headers, ticker)
		cursor = resp.NextCursor
		if cursor == "" {
			break
		}
	}

	articles := deduplicate(raw, searchTerm)
	c.log.Info("fetched news",
		"ticker", ticker, "search", searchTerm,
		"fetched", len(raw), "after_dedup", len(articles))

	if len(articles) > c.cfg.DisplayCount {
		articles = articles[:c.cfg.DisplayCount]
	}
	return domain.NewsDigest{Ticker: ticker, Articles: articles}, nil
}

func (c *Client) page(ctx context.Context, searchTerm, cursor string) (*newsResponse, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/news", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("language", "en")
	q.Set("topic", "business,economy,finance")
	q.Set("q", searchTerm)
	q.Set("search_in", "title")
	q.Set("sort_by", "date")
	q.Set("per_page", strconv.Itoa(c.cfg.FetchCount))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("news call: %w", err)
	}
	defer resp.Body.Close()

	if err := upstream.CheckStatus(resp); err != nil {
		return nil, nil, err
	}

	var parsed newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to parse news response: %w", err)
	}
	return &parsed, resp.Header, nil
}

func (c *Client) logQuota(headers http.Header, ticker string) {
	limit, _ := strconv.Atoi(headers.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(headers.Get("X-RateLimit-Remaining"))
	if limit == 0 {
		return
	}
	c.log.Debug("news quota", "ticker", ticker, "used", limit-remaining, "limit", limit)
	if remaining < 20 {
		c.log.Warn("news quota low",
			"remaining", remaining, "limit", limit,
			"reset", headers.Get("X-RateLimit-Reset"))
	}
}

// deduplicate keeps relevant articles (search term in the title), drops
// repeated headlines, and caps each source at its freshest two articles.
func deduplicate(articles []domain.Article, searchTerm string) []domain.Article {
	terms := strings.Split(strings.ToLower(searchTerm), " or ")
	for i := range terms {
		terms[i] = strings.TrimSpace(terms[i])
	}

	seen := make(map[string]bool)
	perSource := make(map[string]int)
	var kept []domain.Article

	// Freshest first so the per-source cap keeps the newest entries.
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})

	for _, a := range articles {
		title := strings.ToLower(strings.TrimSpace(a.Title))
		relevant := false
		for _, term := range terms {
			if term != "" && strings.Contains(title, term) {
				relevant = true
				break
			}
		}
		if !relevant || seen[title] {
			continue
		}
		if perSource[a.Source] >= perSourceCap {
			continue
		}
		seen[title] = true
		perSource[a.Source]++
		kept = append(kept, a)
	}
	return kept
}
