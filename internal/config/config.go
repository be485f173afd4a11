// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ENGINE_* environment variables. Hard
// floors (risk caps, debate constants) are not part of this struct — they
// are unexported process constants and cannot be overridden at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Kalshi    KalshiConfig    `mapstructure:"kalshi"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Edge      EdgeConfig      `mapstructure:"edge"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// LLMConfig points at the external completion endpoint the ensemble
// estimator's analyst roles call, and the optional search tool.
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
}

// KalshiConfig holds venue-A (RSA-PSS signed) credentials.
type KalshiConfig struct {
	KeyID          string `mapstructure:"key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	UseDemo        bool   `mapstructure:"use_demo"`
}

// PolymarketConfig holds venue-B (pre-issued credential) wallet settings.
type PolymarketConfig struct {
	PrivateKey  string `mapstructure:"private_key"`
	SafeAddress string `mapstructure:"safe_address"`
	ChainID     int    `mapstructure:"chain_id"`
}

// ScannerConfig tunes market discovery and qualification thresholds.
type ScannerConfig struct {
	MinMarketVolume float64 `mapstructure:"min_market_volume"`
	MaxDaysToExpiry int     `mapstructure:"max_days_to_expiry"`
	PageSize        int     `mapstructure:"page_size"`
}

// EdgeConfig tunes the Kelly gate.
type EdgeConfig struct {
	MinEdgeThreshold float64 `mapstructure:"min_edge_threshold"`
	MaxPositionPct   float64 `mapstructure:"max_position_pct"` // percent, e.g. 5.0
	Bankroll         float64 `mapstructure:"bankroll"`
}

// RiskConfig sets the executor's hard safety gate limits.
type RiskConfig struct {
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	DailyDrawdownLimitPct  float64 `mapstructure:"daily_drawdown_limit_pct"` // percent, e.g. 2.0
}

// SchedulerConfig sets the periods of the three recurring jobs.
type SchedulerConfig struct {
	ScannerIntervalHours  int `mapstructure:"scanner_interval_hours"`
	PositionMonitorSecs   int `mapstructure:"position_monitor_secs"`
	ResolutionCheckHours  int `mapstructure:"resolution_check_hours"`
}

// StoreConfig points at the SQLite database file.
type StoreConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Hard floors (spec §6). Not overridable via YAML or env.
const (
	StopLossPct        = 0.05
	MaxDailyDrawdownPct = 0.02
	MaxPositionPctCap  = 0.25
	MaxConcurrent      = 15
	MinEdge            = 0.05
	MaxSpread          = 0.15
	DDebate            = 0.10
	RMax               = 5
	DConverged         = 0.05
)

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ENGINE_KALSHI_PRIVATE_KEY_PATH,
// ENGINE_POLYMARKET_PRIVATE_KEY, ENGINE_LLM_API_KEY, ENGINE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ENGINE_POLYMARKET_PRIVATE_KEY"); key != "" {
		cfg.Polymarket.PrivateKey = key
	}
	if path := os.Getenv("ENGINE_KALSHI_PRIVATE_KEY_PATH"); path != "" {
		cfg.Kalshi.PrivateKeyPath = path
	}
	if key := os.Getenv("ENGINE_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("ENGINE_TAVILY_API_KEY"); key != "" {
		cfg.LLM.TavilyAPIKey = key
	}
	if os.Getenv("ENGINE_DRY_RUN") == "true" || os.Getenv("ENGINE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-6"
	}
	if cfg.Scanner.MinMarketVolume == 0 {
		cfg.Scanner.MinMarketVolume = 200
	}
	if cfg.Scanner.MaxDaysToExpiry == 0 {
		cfg.Scanner.MaxDaysToExpiry = 30
	}
	if cfg.Scanner.PageSize == 0 {
		cfg.Scanner.PageSize = 100
	}
	if cfg.Edge.MinEdgeThreshold == 0 {
		cfg.Edge.MinEdgeThreshold = 0.05
	}
	if cfg.Edge.MaxPositionPct == 0 {
		cfg.Edge.MaxPositionPct = 5.0
	}
	if cfg.Edge.Bankroll == 0 {
		cfg.Edge.Bankroll = 10000
	}
	if cfg.Risk.MaxConcurrentPositions == 0 {
		cfg.Risk.MaxConcurrentPositions = 15
	}
	if cfg.Risk.DailyDrawdownLimitPct == 0 {
		cfg.Risk.DailyDrawdownLimitPct = 2.0
	}
	if cfg.Scheduler.ScannerIntervalHours == 0 {
		cfg.Scheduler.ScannerIntervalHours = 6
	}
	if cfg.Scheduler.PositionMonitorSecs == 0 {
		cfg.Scheduler.PositionMonitorSecs = 60
	}
	if cfg.Scheduler.ResolutionCheckHours == 0 {
		cfg.Scheduler.ResolutionCheckHours = 1
	}
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = "engine.db"
	}
}

// Validate checks all required fields and value ranges. The LLM endpoint and
// both venues' credentials are required unconditionally, so a config missing
// any of them fails here before any component starts.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set ENGINE_LLM_API_KEY)")
	}
	if c.Kalshi.KeyID == "" || c.Kalshi.PrivateKeyPath == "" {
		return fmt.Errorf("kalshi.key_id and kalshi.private_key_path are required")
	}
	if c.Polymarket.PrivateKey == "" {
		return fmt.Errorf("polymarket.private_key is required (set ENGINE_POLYMARKET_PRIVATE_KEY)")
	}
	if c.Polymarket.ChainID == 0 {
		return fmt.Errorf("polymarket.chain_id is required (137 for mainnet)")
	}
	if c.Edge.Bankroll <= 0 {
		return fmt.Errorf("edge.bankroll must be > 0")
	}
	if c.Edge.MaxPositionPct <= 0 || c.Edge.MaxPositionPct > 100 {
		return fmt.Errorf("edge.max_position_pct must be in (0,100]")
	}
	if c.Risk.MaxConcurrentPositions <= 0 || c.Risk.MaxConcurrentPositions > MaxConcurrent {
		return fmt.Errorf("risk.max_concurrent_positions must be in (0,%d]", MaxConcurrent)
	}
	if c.Risk.DailyDrawdownLimitPct <= 0 {
		return fmt.Errorf("risk.daily_drawdown_limit_pct must be > 0")
	}
	return nil
}

// ScannerIntervalDuration returns the configured scanner period as a Duration.
func (c *Config) ScannerIntervalDuration() time.Duration {
	return time.Duration(c.Scheduler.ScannerIntervalHours) * time.Hour
}

// PositionMonitorInterval returns the configured position-monitor period.
func (c *Config) PositionMonitorInterval() time.Duration {
	return time.Duration(c.Scheduler.PositionMonitorSecs) * time.Second
}

// ResolutionCheckInterval returns the configured resolution-check period.
func (c *Config) ResolutionCheckInterval() time.Duration {
	return time.Duration(c.Scheduler.ResolutionCheckHours) * time.Hour
}
