package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envOverrides are the operator-facing environment variables. Any set
// variable wins over the config file; unset variables leave it untouched.
type envOverrides struct {
	BackgroundRefresh    *bool   `envconfig:"BACKGROUND_REFRESH"`
	CacheTTLMinutes      *int    `envconfig:"CACHE_TTL_MINUTES"`
	CacheMaxAgeHours     *int    `envconfig:"CACHE_MAX_AGE_HOURS"`
	RefreshIntervalHours *int    `envconfig:"REFRESH_INTERVAL_HOURS"`
	RequestTimeoutSecs   *int    `envconfig:"REQUEST_TIMEOUT"`
	PolygonAPIKey        *string `envconfig:"POLYGON_API_KEY"`
	NewsDataHubAPIKey    *string `envconfig:"NEWSDATAHUB_API_KEY"`
	OpenAIAPIKey         *string `envconfig:"OPENAI_API_KEY"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies environment overrides, and fills defaults. An empty path yields the
// default configuration.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if env.BackgroundRefresh != nil {
		cfg.Cache.BackgroundRefresh = *env.BackgroundRefresh
	}
	if env.CacheTTLMinutes != nil {
		cfg.Cache.TTLMinutes = *env.CacheTTLMinutes
	}
	if env.CacheMaxAgeHours != nil {
		cfg.Cache.MaxAgeHours = *env.CacheMaxAgeHours
	}
	if env.RefreshIntervalHours != nil {
		cfg.Refresh.IntervalHours = *env.RefreshIntervalHours
	}
	if env.RequestTimeoutSecs != nil {
		timeout := time.Duration(*env.RequestTimeoutSecs) * time.Second
		cfg.Providers.Polygon.Timeout = timeout
		cfg.Providers.NewsDataHub.Timeout = timeout
		cfg.Providers.OpenAI.Timeout = timeout
	}
	if env.PolygonAPIKey != nil {
		cfg.Providers.Polygon.APIKey = *env.PolygonAPIKey
	}
	if env.NewsDataHubAPIKey != nil {
		cfg.Providers.NewsDataHub.APIKey = *env.NewsDataHubAPIKey
	}
	if env.OpenAIAPIKey != nil {
		cfg.Providers.OpenAI.APIKey = *env.OpenAIAPIKey
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.Cache.File.Dir == "" {
		cfg.Cache.File.Dir = "cache"
	}
	if cfg.Cache.TTLMinutes <= 0 {
		cfg.Cache.TTLMinutes = 10
	}
	if cfg.Cache.MaxAgeHours <= 0 {
		cfg.Cache.MaxAgeHours = 24
	}
	if cfg.Refresh.IntervalHours <= 0 {
		cfg.Refresh.IntervalHours = 3
	}
	if len(cfg.Tickers) == 0 {
		cfg.Tickers = DefaultTickers
	}
}
