package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration value threaded into every component
// at construction. Nothing reads ambient global state.
type Config struct {
	Log       LogConfig                `yaml:"log"`
	Scan      ScanConfig               `yaml:"scan"`
	Providers ProvidersConfig          `yaml:"providers"`
	Services  map[string]ServicePolicy `yaml:"services"`
	Storage   StorageConfig            `yaml:"storage"`
	Refresh   RefreshConfig            `yaml:"refresh"`
	HTTP      HTTPConfig               `yaml:"http"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ScanConfig tunes the filter stages. Thresholds live here, not in the
// filter code, so they can change without touching the pure functions.
type ScanConfig struct {
	MaxAssets          int           `yaml:"max_assets"`
	MinVolume24h       float64       `yaml:"min_volume_24h"`
	GainThreshold7d    float64       `yaml:"gain_threshold_7d"`
	GainThreshold30d   float64       `yaml:"gain_threshold_30d"`
	ExcludedSymbols    []string      `yaml:"excluded_symbols"`
	UniformityMinScore float64       `yaml:"uniformity_min_score"`
	WindowDays         int           `yaml:"window_days"`
	EnrichWorkers      int           `yaml:"enrich_workers"`
	TargetVenues       []string      `yaml:"target_venues"`
	LoopInterval       time.Duration `yaml:"loop_interval"`
}

type ProvidersConfig struct {
	Snapshot SnapshotProviderConfig `yaml:"snapshot"`
	History  HistoryProviderConfig  `yaml:"history"`
}

type SnapshotProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type HistoryProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ServicePolicy is the per-service reliability envelope applied by the
// fetch client: minimum inter-call interval, bounded retry with doubling
// backoff, and circuit breaker thresholds.
type ServicePolicy struct {
	MinInterval     time.Duration `yaml:"min_interval"`
	Burst           int           `yaml:"burst"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	JitterMax       time.Duration `yaml:"jitter_max"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerWindow   time.Duration `yaml:"breaker_window"`
}

type StorageConfig struct {
	PostgresDSN      string        `yaml:"postgres_dsn"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisDB          int           `yaml:"redis_db"`
	HistoryTTL       time.Duration `yaml:"history_ttl"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	ContentionTries  int           `yaml:"contention_tries"`
	ContentionDelay  time.Duration `yaml:"contention_delay"`
}

// RefreshConfig drives the slow-cadence table rebuilds, independent of the
// scan cadence.
type RefreshConfig struct {
	ListingsMaxAge time.Duration `yaml:"listings_max_age"`
	MappingsMaxAge time.Duration `yaml:"mappings_max_age"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads a YAML config file, expands ${VAR} environment references,
// applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a fully-populated configuration with the stock filter
// thresholds and free-tier service policies.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Scan: ScanConfig{
			MaxAssets:          5000,
			MinVolume24h:       1_000_000,
			GainThreshold7d:    7,
			GainThreshold30d:   30,
			ExcludedSymbols:    []string{"USDT", "USDC", "DAI", "TUSD", "USDD", "FDUSD", "PYUSD"},
			UniformityMinScore: 45,
			WindowDays:         30,
			EnrichWorkers:      4,
			TargetVenues:       []string{"coinbase", "kraken", "mexc"},
			LoopInterval:       time.Hour,
		},
		Providers: ProvidersConfig{
			Snapshot: SnapshotProviderConfig{BaseURL: "https://pro-api.coinmarketcap.com"},
			History:  HistoryProviderConfig{BaseURL: "https://api.coingecko.com/api/v3"},
		},
		Services: map[string]ServicePolicy{
			"snapshot": {
				MinInterval:     2 * time.Second,
				Burst:           1,
				RequestTimeout:  30 * time.Second,
				MaxRetries:      3,
				BackoffBase:     2 * time.Second,
				BackoffMax:      5 * time.Minute,
				JitterMax:       500 * time.Millisecond,
				BreakerFailures: 5,
				BreakerWindow:   time.Minute,
			},
			"history": {
				MinInterval:     2400 * time.Millisecond, // 25 calls/min free tier
				Burst:           1,
				RequestTimeout:  20 * time.Second,
				MaxRetries:      3,
				BackoffBase:     2 * time.Second,
				BackoffMax:      5 * time.Minute,
				JitterMax:       500 * time.Millisecond,
				BreakerFailures: 5,
				BreakerWindow:   2 * time.Minute,
			},
			"venues": {
				MinInterval:     time.Second,
				Burst:           2,
				RequestTimeout:  20 * time.Second,
				MaxRetries:      3,
				BackoffBase:     time.Second,
				BackoffMax:      time.Minute,
				JitterMax:       300 * time.Millisecond,
				BreakerFailures: 5,
				BreakerWindow:   time.Minute,
			},
		},
		Storage: StorageConfig{
			PostgresDSN:     "postgres://localhost:5432/trendspotter?sslmode=disable",
			RedisAddr:       "localhost:6379",
			RedisDB:         0,
			HistoryTTL:      6 * time.Hour,
			QueryTimeout:    10 * time.Second,
			ContentionTries: 3,
			ContentionDelay: 250 * time.Millisecond,
		},
		Refresh: RefreshConfig{
			ListingsMaxAge: 7 * 24 * time.Hour,
			MappingsMaxAge: 24 * time.Hour,
		},
		HTTP: HTTPConfig{ListenAddr: ":8091"},
	}
}

// Validate checks the invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.Scan.MaxAssets <= 0 {
		return fmt.Errorf("scan.max_assets must be positive, got %d", c.Scan.MaxAssets)
	}
	if c.Scan.WindowDays < 2 {
		return fmt.Errorf("scan.window_days must be at least 2, got %d", c.Scan.WindowDays)
	}
	if c.Scan.EnrichWorkers <= 0 {
		return fmt.Errorf("scan.enrich_workers must be positive, got %d", c.Scan.EnrichWorkers)
	}
	if c.Scan.UniformityMinScore < 0 || c.Scan.UniformityMinScore > 100 {
		return fmt.Errorf("scan.uniformity_min_score must be in [0,100], got %f", c.Scan.UniformityMinScore)
	}
	if len(c.Scan.TargetVenues) == 0 {
		return fmt.Errorf("scan.target_venues must not be empty")
	}
	if c.Storage.HistoryTTL <= 0 {
		return fmt.Errorf("storage.history_ttl must be positive")
	}
	for name, svc := range c.Services {
		if svc.MaxRetries < 0 {
			return fmt.Errorf("services.%s.max_retries must not be negative", name)
		}
		if svc.BackoffBase <= 0 || svc.BackoffMax < svc.BackoffBase {
			return fmt.Errorf("services.%s backoff window invalid", name)
		}
	}
	return nil
}

// Service returns the reliability policy for a service id, falling back to
// a conservative default when the id is not configured.
func (c *Config) Service(id string) ServicePolicy {
	if svc, ok := c.Services[id]; ok {
		return svc
	}
	return ServicePolicy{
		MinInterval:     time.Second,
		Burst:           1,
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
		BackoffBase:     2 * time.Second,
		BackoffMax:      time.Minute,
		JitterMax:       500 * time.Millisecond,
		BreakerFailures: 5,
		BreakerWindow:   time.Minute,
	}
}
