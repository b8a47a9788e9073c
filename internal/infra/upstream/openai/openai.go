// Package openai generates ticker insights through the OpenAI chat
// completions REST API. Prompt construction stays here; transport failures
// flow back to the retry layer unchanged.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tickerhub/tickerd/internal/core/domain"
	"github.com/tickerhub/tickerd/internal/infra/upstream"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxHeadlines   = 5
)

const systemPrompt = "You are a financial analyst assistant. Provide concise, " +
	"insightful analysis based on the provided stock data and news. " +
	"Focus on key trends, notable news impact, and relevant factors to watch. " +
	"Keep response under 100 words. Do not provide financial advice."

// Config holds OpenAI client settings.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client calls the chat completions endpoint.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   *slog.Logger
	now   func() time.Time

	// running token count for the process, for quota logging
	totalTokens atomic.Int64
	totalCalls  atomic.Int64
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, httpc: upstream.NewHTTPClient(cfg.Timeout), log: log, now: time.Now}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateInsight produces an analysis of ticker from its price series and
// news digest.
func (c *Client) GenerateInsight(ctx context.Context, ticker string, series domain.PriceSeries, digest domain.NewsDigest) (domain.Insight, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(ticker, series, digest)},
		},
		MaxTokens:   210,
		Temperature: 0.7,
	})
	if err != nil {
		return domain.Insight{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Insight{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := c.now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.Insight{}, fmt.Errorf("completions call: %w", err)
	}
	defer resp.Body.Close()

	if err := upstream.CheckStatus(resp); err != nil {
		return domain.Insight{}, err
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Insight{}, fmt.Errorf("failed to parse completions response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Insight{}, fmt.Errorf("completions response for %s carried no choices", ticker)
	}

	calls := c.totalCalls.Add(1)
	tokens := c.totalTokens.Add(int64(parsed.Usage.TotalTokens))
	c.log.Info("generated insight",
		"ticker", ticker,
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
		"elapsed", c.now().Sub(start).Round(time.Millisecond))
	c.log.Debug("insight session usage", "calls", calls, "tokens", tokens)

	return domain.Insight{
		Ticker:     ticker,
		Text:       strings.TrimSpace(parsed.Choices[0].Message.Content),
		TokensUsed: parsed.Usage.TotalTokens,
		Generated:  c.now().UTC(),
	}, nil
}

// buildPrompt summarizes the price action and the freshest headlines.
func buildPrompt(ticker string, series domain.PriceSeries, digest domain.NewsDigest) string {
	priceSummary := "Price data unavailable"
	if n := len(series.Points); n >= 2 {
		current := series.Points[n-1].Close
		previous := series.Points[n-2].Close
		if previous != 0 {
			change := (current - previous) / previous * 100
			priceSummary = fmt.Sprintf("Current price: $%.2f (%+.2f%% from previous close)", current, change)
		}
	}

	newsSummary := "No recent news available"
	if len(digest.Articles) > 0 {
		var lines []string
		for i, a := range digest.Articles {
			if i == maxHeadlines {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", a.Title, a.Source))
		}
		newsSummary = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`Analyze %s based on the following:

PRICE DATA:
%s

RECENT NEWS:
%s

Provide a brief analysis covering:
1. Current momentum and price action
2. Key news impact
3. Factors to watch
`, ticker, priceSummary, newsSummary)
}
