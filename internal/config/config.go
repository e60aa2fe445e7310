// Package config loads and serves the recognized configuration keys: a
// YAML bootstrap file overlaid with environment variables at startup,
// plus a viper-backed runtime overlay (Store). None of the processes
// constructs a Store; the Coordinator's UpdateConfig writes the
// persistence port's config table instead.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the typed bootstrap configuration. Fields with a yaml tag are
// read from the YAML file; only the store DSN, cache DSN, market timezone
// and log level have environment-variable overrides (applyEnvOverrides).
type Config struct {
	MaxPositions int `yaml:"max_positions"`

	MinCatalystScore  float64 `yaml:"min_catalyst_score"`
	MinPrice          float64 `yaml:"min_price"`
	MaxPrice          float64 `yaml:"max_price"`
	MinVolume         int64   `yaml:"min_volume"`
	MinRelativeVolume float64 `yaml:"min_relative_volume"`

	PremarketStart string `yaml:"premarket_start"` // HH:MM
	PremarketEnd   string `yaml:"premarket_end"`   // HH:MM

	MarketIntervalMinutes     int `yaml:"market_interval"`
	PremarketIntervalMinutes  int `yaml:"premarket_interval"`
	AfterhoursIntervalMinutes int `yaml:"afterhours_interval"`
	MinimalIntervalMinutes    int `yaml:"minimal_interval"`

	TierWeights [6]float64 `yaml:"-"` // set only by Default; no tier_N_weight key is read, and scoring uses newsmodel.TierWeight

	NewsCacheTTLSeconds int `yaml:"news_cache_ttl"`
	APITimeoutSeconds   int `yaml:"api_timeout"`

	MarketTimezone string `yaml:"market_timezone"`

	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Sources []SourceConfig `yaml:"sources"`

	Collaborators CollaboratorConfig `yaml:"collaborators"`
}

// CollaboratorConfig holds the base URLs the Cycle Coordinator dials for
// its five collaborators, since the processes communicate over HTTP.
// Pattern and Trading are out-of-scope processes (ML scoring and live
// brokerage) but their HTTP contracts are still modeled so the
// coordinator's stage orchestration has somewhere real to call; see
// DESIGN.md.
type CollaboratorConfig struct {
	NewsURL      string `yaml:"news_url"`
	ScannerURL   string `yaml:"scanner_url"`
	PatternURL   string `yaml:"pattern_url"`
	TechnicalURL string `yaml:"technical_url"`
	TradingURL   string `yaml:"trading_url"`
}

// StoreConfig configures the persistence port's reference implementation.
type StoreConfig struct {
	DSN          string `yaml:"dsn"`           // sqlite file path, or ":memory:"
	CacheDSN     string `yaml:"cache_dsn"`     // optional mongo URI for the cache
	MaxOpenConns int    `yaml:"max_open_conns"` // bounded connection pool (~20)
}

// LogConfig controls structured-logging verbosity.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// SourceConfig describes one registered News Collector source.
type SourceConfig struct {
	Name           string            `yaml:"name"`
	Kind           string            `yaml:"kind"` // rest_json | rss | paginated_search
	Tier           int               `yaml:"tier"`
	BaseURL        string            `yaml:"base_url"`
	APIKeyEnv      string            `yaml:"api_key_env"` // env var name holding the secret
	RateLimitRPS   float64           `yaml:"rate_limit_rps"`
	RateLimitBurst int               `yaml:"rate_limit_burst"`
	Extra          map[string]string `yaml:"extra,omitempty"`
}

// Default returns the standard configuration defaults.
func Default() *Config {
	return &Config{
		MaxPositions:      5,
		MinCatalystScore:  30,
		MinPrice:          1.0,
		MaxPrice:          500.0,
		MinVolume:         500_000,
		MinRelativeVolume: 1.5,
		PremarketStart:    "04:00",
		PremarketEnd:      "09:30",
		MarketIntervalMinutes:     30,
		PremarketIntervalMinutes: 5,
		AfterhoursIntervalMinutes: 60,
		MinimalIntervalMinutes:    240,
		TierWeights:         [6]float64{0: 0, 1: 1.0, 2: 0.8, 3: 0.6, 4: 0.4, 5: 0.2},
		NewsCacheTTLSeconds: 3600,
		APITimeoutSeconds:   30,
		MarketTimezone:      "America/New_York",
		Store: StoreConfig{
			DSN:          "catalyst.db",
			MaxOpenConns: 20,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Collaborators: CollaboratorConfig{
			NewsURL:      "http://localhost:5008",
			ScannerURL:   "http://localhost:5001",
			PatternURL:   "http://localhost:5002",
			TechnicalURL: "http://localhost:5003",
			TradingURL:   "http://localhost:5005",
		},
	}
}

// Load reads the YAML bootstrap file at path (applying a .env overlay
// first, silently ignored if absent), then applies environment-variable
// overrides for the secret and bootstrap keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("CATALYST_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if dsn := os.Getenv("CATALYST_CACHE_DSN"); dsn != "" {
		cfg.Store.CacheDSN = dsn
	}
	if tz := os.Getenv("CATALYST_MARKET_TIMEZONE"); tz != "" {
		cfg.MarketTimezone = tz
	}
	if lvl := os.Getenv("CATALYST_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}
}

// APITimeout returns the configured default outbound call timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

// NewsCacheTTL returns the configured news lookup cache TTL.
func (c *Config) NewsCacheTTL() time.Duration {
	return time.Duration(c.NewsCacheTTLSeconds) * time.Second
}

// Store wraps a *Config with a viper overlay so runtime overrides can be
// applied on top of the YAML-loaded base without mutating the base struct,
// and Get reports the overlay value if one has been set.
type Store struct {
	base    *Config
	overlay *viper.Viper
}

// NewStore wraps cfg with an empty runtime overlay.
func NewStore(cfg *Config) *Store {
	return &Store{base: cfg, overlay: viper.New()}
}

// Get returns the effective value for a recognized key: the overlay value
// if one has been set via Set, otherwise the YAML-loaded default.
func (s *Store) Get(key string) (any, bool) {
	if s.overlay.IsSet(key) {
		return s.overlay.Get(key), true
	}
	return s.base.rawGet(key)
}

// Set applies a runtime override for a recognized key. It does not
// invalidate any cached copy of the value.
func (s *Store) Set(key string, value any) {
	s.overlay.Set(key, value)
}

// Base returns the underlying YAML-loaded configuration, for components
// that only need the bootstrap defaults (e.g. source registration).
func (s *Store) Base() *Config { return s.base }

func (c *Config) rawGet(key string) (any, bool) {
	switch key {
	case "max_positions":
		return c.MaxPositions, true
	case "min_catalyst_score":
		return c.MinCatalystScore, true
	case "min_price":
		return c.MinPrice, true
	case "max_price":
		return c.MaxPrice, true
	case "min_volume":
		return c.MinVolume, true
	case "min_relative_volume":
		return c.MinRelativeVolume, true
	case "premarket_start":
		return c.PremarketStart, true
	case "premarket_end":
		return c.PremarketEnd, true
	case "market_interval":
		return c.MarketIntervalMinutes, true
	case "premarket_interval":
		return c.PremarketIntervalMinutes, true
	case "afterhours_interval":
		return c.AfterhoursIntervalMinutes, true
	case "news_cache_ttl":
		return c.NewsCacheTTLSeconds, true
	case "api_timeout":
		return c.APITimeoutSeconds, true
	default:
		return nil, false
	}
}
