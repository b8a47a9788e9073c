package config

import (
	"time"

	filecache "github.com/tickerhub/tickerd/internal/infra/cache/file"
	pgcache "github.com/tickerhub/tickerd/internal/infra/cache/postgres"
	rediscache "github.com/tickerhub/tickerd/internal/infra/cache/redis"
	"github.com/tickerhub/tickerd/internal/infra/upstream/newsdatahub"
	"github.com/tickerhub/tickerd/internal/infra/upstream/openai"
	"github.com/tickerhub/tickerd/internal/infra/upstream/polygon"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Cache     CacheConfig       `yaml:"cache"`
	Refresh   RefreshConfig     `yaml:"refresh"`
	Providers ProvidersConfig   `yaml:"providers"`
	Logging   LoggingConfig     `yaml:"logging"`
	Database  pgcache.Config    `yaml:"database"`
	Redis     rediscache.Config `yaml:"redis"`
	Tickers   []TickerConfig    `yaml:"tickers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// CacheConfig selects the cache backend and its freshness windows. TTL and
// max age are resolved once at startup; every orchestrator receives them as
// immutable values.
type CacheConfig struct {
	Backend           string           `yaml:"backend"` // file, postgres, redis, memory
	File              filecache.Config `yaml:"file"`
	TTLMinutes        int              `yaml:"ttl_minutes"`
	MaxAgeHours       int              `yaml:"max_age_hours"`
	BackgroundRefresh bool             `yaml:"background_refresh"`
}

// TTL is the fresh-read window.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// MaxAge is the cleanup horizon; records older than this get swept.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// RefreshConfig drives the in-process refresher and the cleanup sweeper.
type RefreshConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
}

func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// ProvidersConfig holds upstream client settings.
type ProvidersConfig struct {
	Polygon     polygon.Config     `yaml:"polygon"`
	NewsDataHub newsdatahub.Config `yaml:"newsdatahub"`
	OpenAI      openai.Config      `yaml:"openai"`
}

// TickerConfig describes one served ticker: the company's search term for
// news queries and the peer tickers shown next to it.
type TickerConfig struct {
	Symbol     string   `yaml:"symbol"`
	Name       string   `yaml:"name"`
	SearchTerm string   `yaml:"search_term"`
	Related    []string `yaml:"related"`
}

// DefaultTickers is the catalog served when the config file lists none.
var DefaultTickers = []TickerConfig{
	{Symbol: "NFLX", Name: "Netflix", SearchTerm: "Netflix", Related: []string{"DIS", "PARA", "WBD"}},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", SearchTerm: "Google OR Alphabet", Related: []string{"TSLA", "META", "AMZN"}},
	{Symbol: "TSLA", Name: "Tesla Inc.", SearchTerm: "Tesla", Related: []string{"RIVN", "GM", "F"}},
}
