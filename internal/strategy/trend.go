// Package strategy implements the trend-following entry signal and the exit
// state machine. Exits are defined before entries: every entry signal
// carries its stop, optional target, and time-based exit.
package strategy

import (
	"math"
	"strings"

	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/patterns"
)

// PlayerFocus selects the strategy style: institutional waits for elevated
// volume, retail runs faster MAs and a shorter time exit.
type PlayerFocus string

const (
	FocusNeutral       PlayerFocus = "neutral"
	FocusInstitutional PlayerFocus = "institutional"
	FocusRetail        PlayerFocus = "retail"
)

// pullbackTolerance is how close (fractionally) the close must sit to the
// fast MA to count as a pullback touch.
const pullbackTolerance = 0.005

// TrendConfig is the strategy.trend_following section.
type TrendConfig struct {
	MAFast                    int     `yaml:"ma_fast"`
	MASlow                    int     `yaml:"ma_slow"`
	PullbackTouchMAFast       bool    `yaml:"pullback_touch_ma_fast"`
	VolatilityFilterATRPeriod int     `yaml:"volatility_filter_atr_period"`
	MaxATRPctForEntry         float64 `yaml:"max_atr_pct_for_entry"`
}

// RetailConfig is the strategy.retail overrides section.
type RetailConfig struct {
	MAFast       int `yaml:"ma_fast"`
	MASlow       int `yaml:"ma_slow"`
	TimeBarsExit int `yaml:"time_bars_exit"`
}

// InstitutionalConfig is the strategy.institutional section.
type InstitutionalConfig struct {
	MinVolumeRatioVsAvg float64 `yaml:"min_volume_ratio_vs_avg"`
}

// KillSwitchConfig is the hard spread/volatility ceiling applied both
// pre-entry and as an exit trigger.
type KillSwitchConfig struct {
	MaxSpreadPct   float64 `yaml:"max_spread_pct"`
	MaxATRMultiple float64 `yaml:"max_atr_multiple"`
}

// ExitsConfig is the strategy.exits section.
type ExitsConfig struct {
	StopLossPct   float64          `yaml:"stop_loss_pct"`
	TakeProfitPct float64          `yaml:"take_profit_pct"`
	TimeBarsExit  int              `yaml:"time_bars_exit"`
	KillSwitch    KillSwitchConfig `yaml:"kill_switch"`
}

// CandlestickConfig is the optional candlestick entry filter.
type CandlestickConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Config is the strategy section of the configuration.
type Config struct {
	PlayerFocus       string              `yaml:"player_focus"`
	TrendFollowing    TrendConfig         `yaml:"trend_following"`
	Retail            RetailConfig        `yaml:"retail"`
	Institutional     InstitutionalConfig `yaml:"institutional"`
	Exits             ExitsConfig         `yaml:"exits"`
	CandlestickFilter CandlestickConfig   `yaml:"candlestick_filter"`
}

// DefaultConfig returns the stock trend-following parameters: 20/200 MAs,
// 14-bar ATR filter, 1.5% stop, 3% target, 20-bar time exit.
func DefaultConfig() Config {
	return Config{
		PlayerFocus: string(FocusNeutral),
		TrendFollowing: TrendConfig{
			MAFast:                    20,
			MASlow:                    200,
			PullbackTouchMAFast:       true,
			VolatilityFilterATRPeriod: 14,
			MaxATRPctForEntry:         2.0,
		},
		Retail: RetailConfig{
			MAFast:       10,
			MASlow:       50,
			TimeBarsExit: 10,
		},
		Institutional: InstitutionalConfig{
			MinVolumeRatioVsAvg: 1.2,
		},
		Exits: ExitsConfig{
			StopLossPct:   1.5,
			TakeProfitPct: 3.0,
			TimeBarsExit:  20,
			KillSwitch: KillSwitchConfig{
				MaxSpreadPct:   0.25,
				MaxATRMultiple: 3.0,
			},
		},
	}
}

// TrendFollowing is the default strategy: price above the slow MA, pullback
// to the fast MA, volatility filter, and optional volume/candlestick filters.
// Long-only. Immutable after New.
type TrendFollowing struct {
	focus PlayerFocus

	maFast              int
	maSlow              int
	pullbackTouchMAFast bool
	atrPeriod           int
	maxATRPctForEntry   float64

	instMinVolumeRatio float64

	stopLossPct    float64
	takeProfitPct  float64
	timeBarsExit   int
	ksMaxSpreadPct float64
	ksMaxATRMult   float64

	candlestickEnabled  bool
	candlestickPatterns []string
}

// New resolves the config, applying retail MA/time overrides when
// player_focus is retail.
func New(cfg Config) *TrendFollowing {
	focus := PlayerFocus(strings.ToLower(strings.TrimSpace(cfg.PlayerFocus)))
	switch focus {
	case FocusInstitutional, FocusRetail:
	default:
		focus = FocusNeutral
	}

	s := &TrendFollowing{
		focus:               focus,
		maFast:              cfg.TrendFollowing.MAFast,
		maSlow:              cfg.TrendFollowing.MASlow,
		pullbackTouchMAFast: cfg.TrendFollowing.PullbackTouchMAFast,
		atrPeriod:           cfg.TrendFollowing.VolatilityFilterATRPeriod,
		maxATRPctForEntry:   cfg.TrendFollowing.MaxATRPctForEntry,
		instMinVolumeRatio:  cfg.Institutional.MinVolumeRatioVsAvg,
		stopLossPct:         cfg.Exits.StopLossPct,
		takeProfitPct:       cfg.Exits.TakeProfitPct,
		timeBarsExit:        cfg.Exits.TimeBarsExit,
		ksMaxSpreadPct:      cfg.Exits.KillSwitch.MaxSpreadPct,
		ksMaxATRMult:        cfg.Exits.KillSwitch.MaxATRMultiple,
		candlestickEnabled:  cfg.CandlestickFilter.Enabled,
		candlestickPatterns: cfg.CandlestickFilter.Patterns,
	}
	if focus == FocusRetail {
		s.maFast = cfg.Retail.MAFast
		s.maSlow = cfg.Retail.MASlow
		s.timeBarsExit = cfg.Retail.TimeBarsExit
	}
	return s
}

// MinBars is the shortest series GenerateEntry will evaluate.
func (s *TrendFollowing) MinBars() int { return s.maSlow }

// StopLossPct is the stop distance each entry signal carries.
func (s *TrendFollowing) StopLossPct() float64 { return s.stopLossPct }

// ATRPct computes ATR% over the strategy's configured filter period.
func (s *TrendFollowing) ATRPct(bars []models.Bar) float64 {
	return ATRPct(bars, s.atrPeriod)
}

// ATRMultipleNow computes the current bar's range relative to trailing ATR
// over the strategy's configured filter period.
func (s *TrendFollowing) ATRMultipleNow(bars []models.Bar) float64 {
	return ATRMultiple(bars, s.atrPeriod)
}

// GenerateEntry evaluates all entry conditions on the bar series and returns
// a long signal when they pass, nil otherwise. spreadPct and atrMultipleNow
// are optional pre-entry kill-switch inputs; nil skips the check.
func (s *TrendFollowing) GenerateEntry(symbol string, bars []models.Bar, spreadPct, atrMultipleNow *float64) *models.EntrySignal {
	if len(bars) < s.maSlow {
		return nil
	}

	atrPct := s.ATRPct(bars)
	if atrPct > s.maxATRPctForEntry {
		return nil
	}

	closes := Closes(bars)
	price := closes[len(closes)-1]
	maFast := SMA(closes, s.maFast)
	maSlow := SMA(closes, s.maSlow)

	// Uptrend: price above the slow MA.
	if price <= maSlow {
		return nil
	}
	// Pullback: price at or near the fast MA.
	if s.pullbackTouchMAFast && maFast > 0 && math.Abs(price-maFast)/maFast > pullbackTolerance {
		return nil
	}

	// Kill-switch pre-entry: don't open into bad spread or a volatility spike.
	if spreadPct != nil && *spreadPct > s.ksMaxSpreadPct {
		return nil
	}
	if atrMultipleNow != nil && *atrMultipleNow > s.ksMaxATRMult {
		return nil
	}

	// Institutional: elevated volume as a proxy for institutional activity.
	if s.focus == FocusInstitutional && len(bars) >= 20 {
		volumes := Volumes(bars)
		avg := SMA(volumes, 20)
		if avg > 0 && volumes[len(volumes)-1]/avg < s.instMinVolumeRatio {
			return nil
		}
	}

	if s.candlestickEnabled && !patterns.DetectAny(bars, s.candlestickPatterns) {
		return nil
	}

	return &models.EntrySignal{
		Symbol:        symbol,
		Side:          models.SideLong,
		Strength:      1.0,
		StopPct:       s.stopLossPct,
		TakeProfitPct: s.takeProfitPct,
		TimeBarsExit:  s.timeBarsExit,
		Metadata: map[string]float64{
			"ma_fast": maFast,
			"ma_slow": maSlow,
			"atr_pct": atrPct,
		},
	}
}

// CheckExit runs the exit state machine for one open position. The priority
// order is fixed: stop loss, take profit, time exit, kill-switch spread,
// kill-switch ATR. The first rule that fires wins; nil means hold.
func (s *TrendFollowing) CheckExit(symbol string, entryPrice, currentPrice float64, barsHeld int, spreadPct, atrMultiple *float64) *models.ExitSignal {
	if entryPrice <= 0 {
		return nil
	}
	retPct := (currentPrice - entryPrice) / entryPrice * 100

	if retPct <= -s.stopLossPct {
		return &models.ExitSignal{
			Symbol:   symbol,
			Reason:   models.ExitStopLoss,
			Metadata: map[string]float64{"ret_pct": retPct},
		}
	}
	if s.takeProfitPct > 0 && retPct >= s.takeProfitPct {
		return &models.ExitSignal{
			Symbol:   symbol,
			Reason:   models.ExitTakeProfit,
			Metadata: map[string]float64{"ret_pct": retPct},
		}
	}
	if barsHeld >= s.timeBarsExit {
		return &models.ExitSignal{
			Symbol:   symbol,
			Reason:   models.ExitTimeBars,
			Metadata: map[string]float64{"bars_held": float64(barsHeld)},
		}
	}
	if spreadPct != nil && *spreadPct > s.ksMaxSpreadPct {
		return &models.ExitSignal{
			Symbol:   symbol,
			Reason:   models.ExitKillSwitch,
			Metadata: map[string]float64{"spread_pct": *spreadPct},
		}
	}
	if atrMultiple != nil && *atrMultiple > s.ksMaxATRMult {
		return &models.ExitSignal{
			Symbol:   symbol,
			Reason:   models.ExitKillSwitch,
			Metadata: map[string]float64{"atr_multiple": *atrMultiple},
		}
	}
	return nil
}
