package domain

import "time"

// Cache namespaces, one per data source.
const (
	NamespacePrices   = "prices"
	NamespaceNews     = "news"
	NamespaceRelated  = "related"
	NamespaceInsights = "insights"
)

// PricePoint is a single daily aggregate bar.
type PricePoint struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries holds the daily history for one ticker, oldest first.
type PriceSeries struct {
	Ticker string       `json:"ticker"`
	Points []PricePoint `json:"points"`
}

// Latest returns the most recent bar, or false if the series is empty.
func (s PriceSeries) Latest() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Article is a single news item.
type Article struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsDigest holds the deduplicated, display-capped news for one ticker.
type NewsDigest struct {
	Ticker   string    `json:"ticker"`
	Articles []Article `json:"articles"`
}

// RelatedQuote is the latest quote for a peer ticker.
type RelatedQuote struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
}

// RelatedQuotes maps peer ticker symbol to its quote. Partial results are
// valid; peers whose upstream call failed are simply absent.
type RelatedQuotes map[string]RelatedQuote

// Insight is a generated analysis of one ticker's recent price action and
// news. It has no natural TTL; a cached insight is served until a caller
// explicitly regenerates it.
type Insight struct {
	Ticker     string    `json:"ticker"`
	Text       string    `json:"text"`
	TokensUsed int       `json:"tokens_used"`
	Generated  time.Time `json:"generated"`
}
