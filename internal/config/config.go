// Package config loads and validates the engine configuration. Every domain
// package owns its own section struct and defaults; this package composes
// them, expands environment variables in the file, and decodes onto the
// defaults so missing keys keep their stock values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/calendar"
	"github.com/hwatkins-dev/trendgate/internal/compliance"
	"github.com/hwatkins-dev/trendgate/internal/execution"
	"github.com/hwatkins-dev/trendgate/internal/filters"
	"github.com/hwatkins-dev/trendgate/internal/risk"
	"github.com/hwatkins-dev/trendgate/internal/sizing"
	"github.com/hwatkins-dev/trendgate/internal/status"
	"github.com/hwatkins-dev/trendgate/internal/strategy"
	"github.com/hwatkins-dev/trendgate/internal/universe"
)

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// EngineConfig holds engine-level settings outside any domain section.
type EngineConfig struct {
	TrackerPath string `yaml:"tracker_path"`
}

// LoggingConfig controls decision-level logging.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Config represents the complete engine configuration.
type Config struct {
	Environment    EnvironmentConfig      `yaml:"environment"`
	Broker         broker.Config          `yaml:"broker"`
	MarketSessions calendar.Config        `yaml:"market_sessions"`
	Holidays       []string               `yaml:"holidays"`
	Universe       universe.Config        `yaml:"universe"`
	MarketQuality  universe.QualityConfig `yaml:"market_quality"`
	TradeFilters   filters.Config         `yaml:"trade_filters"`
	Strategy       strategy.Config        `yaml:"strategy"`
	PositionSizing sizing.Config          `yaml:"position_sizing"`
	PortfolioRisk  risk.Config            `yaml:"portfolio_risk"`
	Execution      execution.Config       `yaml:"execution"`
	Compliance     compliance.Config      `yaml:"compliance"`
	Sectors        map[string]string      `yaml:"sectors"`
	Engine         EngineConfig           `yaml:"engine"`
	Logging        LoggingConfig          `yaml:"logging"`
	Status         status.Config          `yaml:"status"`
}

// Default returns the full stock configuration.
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{
			Mode:     "paper",
			LogLevel: "info",
		},
		Broker:         broker.DefaultConfig(),
		MarketSessions: calendar.DefaultConfig(),
		Universe:       universe.DefaultConfig(),
		MarketQuality:  universe.DefaultQualityConfig(),
		TradeFilters:   filters.DefaultConfig(),
		Strategy:       strategy.DefaultConfig(),
		PositionSizing: sizing.DefaultConfig(),
		PortfolioRisk:  risk.DefaultConfig(),
		Execution:      execution.DefaultConfig(),
		Compliance:     compliance.DefaultConfig(),
		Engine:         EngineConfig{TrackerPath: "data/positions_tracked.json"},
		Status:         status.DefaultConfig(),
	}
}

// Load reads the configuration file, expands environment variables, decodes
// onto the defaults, applies credential overrides from the environment, and
// validates. An empty path loads config.yaml.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyEnvCredentials()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyEnvCredentials lets the standard Alpaca environment variables win
// over anything in the file.
func (c *Config) applyEnvCredentials() {
	if key := os.Getenv("APCA_API_KEY_ID"); key != "" {
		c.Broker.APIKey = key
	}
	if secret := os.Getenv("APCA_API_SECRET_KEY"); secret != "" {
		c.Broker.APISecret = secret
	}
}

// Validate checks that the configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required (or set APCA_API_KEY_ID)")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required (or set APCA_API_SECRET_KEY)")
	}
	if c.Broker.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("broker.check_interval_minutes must be > 0")
	}
	if c.Environment.Mode == "live" && c.Broker.Paper {
		return fmt.Errorf("environment.mode is live but broker.paper is true")
	}

	if len(c.Universe.Symbols) == 0 {
		return fmt.Errorf("universe.symbols must not be empty")
	}

	if c.Strategy.Exits.StopLossPct <= 0 {
		return fmt.Errorf("strategy.exits.stop_loss_pct must be > 0")
	}
	if c.Strategy.Exits.TakeProfitPct < 0 {
		return fmt.Errorf("strategy.exits.take_profit_pct must be >= 0")
	}
	if c.Strategy.Exits.TimeBarsExit <= 0 {
		return fmt.Errorf("strategy.exits.time_bars_exit must be > 0")
	}
	if c.Strategy.TrendFollowing.MAFast <= 0 || c.Strategy.TrendFollowing.MASlow <= 0 {
		return fmt.Errorf("strategy.trend_following MA periods must be > 0")
	}
	if c.Strategy.TrendFollowing.MAFast >= c.Strategy.TrendFollowing.MASlow {
		return fmt.Errorf("strategy.trend_following.ma_fast (%d) must be < ma_slow (%d)",
			c.Strategy.TrendFollowing.MAFast, c.Strategy.TrendFollowing.MASlow)
	}

	if c.PositionSizing.RiskPerTradePct <= 0 {
		return fmt.Errorf("position_sizing.risk_per_trade_pct must be > 0")
	}
	if c.PositionSizing.MaxOpenRiskPct < c.PositionSizing.RiskPerTradePct {
		return fmt.Errorf("position_sizing.max_open_risk_pct must be >= risk_per_trade_pct")
	}
	if c.PositionSizing.MaxExposurePerSymbolPct <= 0 || c.PositionSizing.MaxExposurePerSymbolPct > 100 {
		return fmt.Errorf("position_sizing.max_exposure_per_symbol_pct must be in (0,100]")
	}

	if c.PortfolioRisk.DailyLossLimitPct >= 0 {
		return fmt.Errorf("portfolio_risk.daily_loss_limit_pct must be negative")
	}
	if c.PortfolioRisk.MaxDrawdownPct >= 0 {
		return fmt.Errorf("portfolio_risk.max_drawdown_pct must be negative")
	}
	if c.PortfolioRisk.RecoveryCriteriaPct <= c.PortfolioRisk.MaxDrawdownPct {
		return fmt.Errorf("portfolio_risk.recovery_criteria_pct (%.1f) must be > max_drawdown_pct (%.1f)",
			c.PortfolioRisk.RecoveryCriteriaPct, c.PortfolioRisk.MaxDrawdownPct)
	}
	if c.PortfolioRisk.MaxTradesPerDay <= 0 || c.PortfolioRisk.MaxTradesPerSymbolPerDay <= 0 {
		return fmt.Errorf("portfolio_risk trade counts must be > 0")
	}

	if c.Execution.MaxSpreadPctToTrade <= 0 {
		return fmt.Errorf("execution.max_spread_pct_to_trade must be > 0")
	}
	if c.Execution.LimitOrderOffsetTicks < 0 {
		return fmt.Errorf("execution.limit_order_offset_ticks must be >= 0")
	}

	if c.Compliance.PDTMinEquity <= 0 {
		return fmt.Errorf("compliance.pdt_min_equity must be > 0")
	}

	if c.Engine.TrackerPath == "" {
		return fmt.Errorf("engine.tracker_path must not be empty")
	}
	if c.Status.Enabled && c.Status.ListenAddr == "" {
		return fmt.Errorf("status.listen_addr is required when enabled")
	}

	return nil
}

// CheckInterval is the pause between decision passes.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Broker.CheckIntervalMinutes) * time.Minute
}

// RetryDelay is the initial backoff for broker API retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Broker.APIRetryDelaySec) * time.Second
}

// TrackerPath is where open positions are persisted.
func (c *Config) TrackerPath() string {
	return c.Engine.TrackerPath
}
