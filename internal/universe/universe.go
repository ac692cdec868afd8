// Package universe decides which symbols are tradeable at all (whitelist and
// liquidity floors) and gates each decision on current market quality.
package universe

import (
	"fmt"
	"strings"
)

// Config is the universe section of the configuration.
type Config struct {
	Symbols                 []string `yaml:"symbols"`
	MinAvgDollarVolume30d   float64  `yaml:"min_avg_dollar_volume_30d"`
	MinATRMultipleForVolume float64  `yaml:"min_atr_multiple_for_volume"`
}

// DefaultConfig mirrors the stock settings: SPY only, $50M average dollar
// volume floor.
func DefaultConfig() Config {
	return Config{
		Symbols:                 []string{"SPY"},
		MinAvgDollarVolume30d:   50_000_000,
		MinATRMultipleForVolume: 0.5,
	}
}

// Filter answers symbol eligibility. Optional liquidity metrics are passed
// as pointers; nil means unknown and is treated as satisfied, not failing.
type Filter struct {
	symbols                 map[string]struct{}
	minAvgDollarVolume30d   float64
	minATRMultipleForVolume float64
}

// NewFilter builds the whitelist; symbols are matched case-insensitively.
func NewFilter(cfg Config) *Filter {
	f := &Filter{
		symbols:                 make(map[string]struct{}, len(cfg.Symbols)),
		minAvgDollarVolume30d:   cfg.MinAvgDollarVolume30d,
		minATRMultipleForVolume: cfg.MinATRMultipleForVolume,
	}
	for _, s := range cfg.Symbols {
		f.symbols[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return f
}

// Symbols returns the whitelist in no particular order.
func (f *Filter) Symbols() []string {
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	return out
}

// Eligible reports whether symbol may be traded: it must be whitelisted and
// any supplied liquidity metric must meet its configured floor.
func (f *Filter) Eligible(symbol string, avgDollarVolume30d, volumeVsATR *float64) bool {
	if _, ok := f.symbols[strings.ToUpper(symbol)]; !ok {
		return false
	}
	if avgDollarVolume30d != nil && *avgDollarVolume30d < f.minAvgDollarVolume30d {
		return false
	}
	if volumeVsATR != nil && *volumeVsATR < f.minATRMultipleForVolume {
		return false
	}
	return true
}

// QualityConfig is the market_quality section of the configuration.
type QualityConfig struct {
	MaxSpreadPct               float64 `yaml:"max_spread_pct"`
	MinVolumeATRRatio          float64 `yaml:"min_volume_atr_ratio"`
	BlockOnNewsSpike           bool    `yaml:"block_on_news_spike"`
	NewsVolatilitySpikeATRMult float64 `yaml:"news_volatility_spike_atr_multiple"`
}

// DefaultQualityConfig returns the stock gate thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MaxSpreadPct:               0.10,
		MinVolumeATRRatio:          1.0,
		BlockOnNewsSpike:           true,
		NewsVolatilitySpikeATRMult: 2.0,
	}
}

// QualityResult carries the gate verdict plus the metric that tripped it.
type QualityResult struct {
	OK              bool
	Reason          string
	SpreadPct       *float64
	VolumeATRRatio  *float64
	VolatilitySpike bool
}

// QualityGate vetoes a trade on wide spread, thin volume relative to ATR, or
// a news-style volatility spike. The first violation wins; nil metrics pass.
type QualityGate struct {
	cfg QualityConfig
}

// NewQualityGate returns a gate with the given thresholds.
func NewQualityGate(cfg QualityConfig) *QualityGate {
	return &QualityGate{cfg: cfg}
}

// Check evaluates the gate. atrMultiple is the current bar's range relative
// to trailing ATR and only matters when news-spike blocking is on.
func (g *QualityGate) Check(spreadPct float64, volumeATRRatio, atrMultiple *float64) QualityResult {
	if spreadPct > g.cfg.MaxSpreadPct {
		return QualityResult{
			OK:        false,
			Reason:    fmt.Sprintf("spread %.4f%% > max %g%%", spreadPct, g.cfg.MaxSpreadPct),
			SpreadPct: &spreadPct,
		}
	}
	if volumeATRRatio != nil && *volumeATRRatio < g.cfg.MinVolumeATRRatio {
		return QualityResult{
			OK:             false,
			Reason:         fmt.Sprintf("volume/ATR %.4f < min %g", *volumeATRRatio, g.cfg.MinVolumeATRRatio),
			VolumeATRRatio: volumeATRRatio,
		}
	}
	if g.cfg.BlockOnNewsSpike && atrMultiple != nil && *atrMultiple >= g.cfg.NewsVolatilitySpikeATRMult {
		return QualityResult{
			OK:              false,
			Reason:          fmt.Sprintf("volatility spike: ATR multiple %.2f", *atrMultiple),
			VolatilitySpike: true,
		}
	}
	return QualityResult{OK: true, Reason: "ok"}
}
