// Package risk maintains the portfolio-risk ledger: the equity curve and
// peak, drawdown, daily loss and trade-count limits, and the latched safe
// mode after a max-drawdown breach.
package risk

import (
	"fmt"
	"time"
)

// Config is the portfolio_risk section of the configuration. Both
// DailyLossLimitPct and MaxDrawdownPct are negative percentages; the checks
// compare with <=.
type Config struct {
	DailyLossLimitPct        float64 `yaml:"daily_loss_limit_pct"`
	MaxDrawdownPct           float64 `yaml:"max_drawdown_pct"`
	SafeModeAfterMaxDD       bool    `yaml:"safe_mode_after_max_dd"`
	RecoveryCriteriaPct      float64 `yaml:"recovery_criteria_pct"`
	MaxTradesPerDay          int     `yaml:"max_trades_per_day"`
	MaxTradesPerSymbolPerDay int     `yaml:"max_trades_per_symbol_per_day"`
}

// DefaultConfig returns the stock limits: -2% daily stop, -10% drawdown
// safe mode with recovery past -8%, 15 trades/day, 3 per symbol.
func DefaultConfig() Config {
	return Config{
		DailyLossLimitPct:        -2.0,
		MaxDrawdownPct:           -10.0,
		SafeModeAfterMaxDD:       true,
		RecoveryCriteriaPct:      -8.0,
		MaxTradesPerDay:          15,
		MaxTradesPerSymbolPerDay: 3,
	}
}

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// State is the mutable ledger. It is owned by the engine and mutated only
// through Manager methods; the engine's single-threaded pass makes locking
// unnecessary.
type State struct {
	EquityCurve          []EquityPoint
	PeakEquity           float64
	DailyPnLPct          float64
	DailyTradeCount      int
	DailyTradesPerSymbol map[string]int
	LastTradeDate        string // YYYY-MM-DD, empty before the first pass
	SafeMode             bool
	TradingStoppedForDay bool
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{DailyTradesPerSymbol: make(map[string]int)}
}

// Manager applies the portfolio-risk rules to a State.
type Manager struct {
	cfg Config
}

// New returns a Manager with the given limits.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// UpdateEquity appends a sample and raises the peak when exceeded. The peak
// never decreases.
func (m *Manager) UpdateEquity(s *State, t time.Time, equity float64) {
	s.EquityCurve = append(s.EquityCurve, EquityPoint{Time: t, Equity: equity})
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
}

// DrawdownPct is the percentage decline from peak, zero or negative, and
// zero when no peak has been recorded.
func (m *Manager) DrawdownPct(s *State, currentEquity float64) float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (currentEquity - s.PeakEquity) / s.PeakEquity * 100
}

// CheckDailyReset clears the daily counters and the stopped-for-day latch
// when the date advances. Safe mode survives the reset.
func (m *Manager) CheckDailyReset(s *State, today time.Time) {
	key := dateKey(today)
	if s.LastTradeDate == key {
		return
	}
	s.DailyPnLPct = 0
	s.DailyTradeCount = 0
	s.DailyTradesPerSymbol = make(map[string]int)
	s.TradingStoppedForDay = false
	s.LastTradeDate = key
}

// CanTrade runs the ordered portfolio-risk checks for a prospective trade.
// Returns (false, reason) on the first failing check. Checks 4 and 5 latch
// their respective circuit-breakers as a side effect.
func (m *Manager) CanTrade(s *State, currentEquity float64, symbol string, today time.Time) (bool, string) {
	m.CheckDailyReset(s, today)

	if s.SafeMode {
		dd := m.DrawdownPct(s, currentEquity)
		if dd <= m.cfg.RecoveryCriteriaPct {
			return false, fmt.Sprintf("safe_mode: drawdown %.2f%% not yet recovered to %g%%",
				dd, m.cfg.RecoveryCriteriaPct)
		}
	}

	if s.TradingStoppedForDay {
		return false, "daily loss limit hit; trading stopped for the day"
	}

	if s.DailyPnLPct <= m.cfg.DailyLossLimitPct {
		s.TradingStoppedForDay = true
		return false, fmt.Sprintf("daily loss limit %g%% hit (current: %.2f%%)",
			m.cfg.DailyLossLimitPct, s.DailyPnLPct)
	}

	if dd := m.DrawdownPct(s, currentEquity); dd <= m.cfg.MaxDrawdownPct && m.cfg.SafeModeAfterMaxDD {
		s.SafeMode = true
		return false, fmt.Sprintf("max drawdown %g%% hit; entering safe mode", m.cfg.MaxDrawdownPct)
	}

	if s.DailyTradeCount >= m.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("max trades per day (%d) reached", m.cfg.MaxTradesPerDay)
	}

	if s.DailyTradesPerSymbol[symbol] >= m.cfg.MaxTradesPerSymbolPerDay {
		return false, fmt.Sprintf("max trades per symbol per day (%d) for %s",
			m.cfg.MaxTradesPerSymbolPerDay, symbol)
	}

	return true, "ok"
}

// RecordTrade bumps the daily counters and accumulates realized day P&L.
func (m *Manager) RecordTrade(s *State, symbol string, pnlPct float64) {
	s.DailyTradeCount++
	s.DailyTradesPerSymbol[symbol]++
	s.DailyPnLPct += pnlPct
}
