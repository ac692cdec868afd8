// Package filters holds the standalone trade filters: macro-event blackout,
// per-symbol earnings blackout, and the volatility/spread do-not-trade gate.
// Each filter returns a Result rather than an error; a veto is a normal
// decision, not a failure.
package filters

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Result is a filter verdict with a single-line reason on veto.
type Result struct {
	Allowed bool
	Reason  string
}

func allow() Result { return Result{Allowed: true, Reason: "ok"} }

func veto(format string, args ...any) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// WindowConfig is one macro blackout window: a half-open [start,end) time
// range on a specific date, venue time. Start > End wraps past midnight.
type WindowConfig struct {
	Date  string `yaml:"date"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// MacroConfig is the trade_filters.macro_blackout section.
type MacroConfig struct {
	Enabled         bool           `yaml:"enabled"`
	BlackoutDates   []string       `yaml:"blackout_dates"`
	BlackoutWindows []WindowConfig `yaml:"blackout_windows"`
}

// EarningsConfig is the trade_filters.earnings_blackout section.
type EarningsConfig struct {
	Enabled       bool                `yaml:"enabled"`
	DaysBefore    int                 `yaml:"days_before"`
	DaysAfter     int                 `yaml:"days_after"`
	EarningsDates map[string][]string `yaml:"earnings_dates"`
}

// VolatilityConfig is the trade_filters.volatility_do_not_trade section.
type VolatilityConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxATRPct    float64 `yaml:"max_atr_pct"`
	MaxSpreadPct float64 `yaml:"max_spread_pct"`
}

// Config is the trade_filters tree.
type Config struct {
	MacroBlackout        MacroConfig      `yaml:"macro_blackout"`
	EarningsBlackout     EarningsConfig   `yaml:"earnings_blackout"`
	VolatilityDoNotTrade VolatilityConfig `yaml:"volatility_do_not_trade"`
}

// DefaultConfig enables all three filters with no dates loaded and the stock
// volatility thresholds.
func DefaultConfig() Config {
	return Config{
		MacroBlackout:    MacroConfig{Enabled: true},
		EarningsBlackout: EarningsConfig{Enabled: true, DaysBefore: 1, DaysAfter: 1},
		VolatilityDoNotTrade: VolatilityConfig{
			Enabled:      true,
			MaxATRPct:    2.5,
			MaxSpreadPct: 0.15,
		},
	}
}

type macroWindow struct {
	date  string // YYYY-MM-DD
	start int    // minutes since midnight, inclusive
	end   int    // exclusive
}

// MacroBlackout vetoes trading on configured macro-event dates (FOMC, CPI)
// or inside per-date time windows.
type MacroBlackout struct {
	enabled bool
	dates   map[string]struct{}
	windows []macroWindow
}

// NewMacroBlackout parses the blackout dates and windows.
func NewMacroBlackout(cfg MacroConfig) (*MacroBlackout, error) {
	m := &MacroBlackout{
		enabled: cfg.Enabled,
		dates:   make(map[string]struct{}, len(cfg.BlackoutDates)),
	}
	for _, d := range cfg.BlackoutDates {
		d = strings.TrimSpace(d)
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, fmt.Errorf("macro blackout date %q: %w", d, err)
		}
		m.dates[d] = struct{}{}
	}
	for _, w := range cfg.BlackoutWindows {
		date := strings.TrimSpace(w.Date)
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("macro blackout window date %q: %w", w.Date, err)
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return nil, fmt.Errorf("macro blackout window %s: %w", date, err)
		}
		end, err := parseClock(w.End)
		if err != nil {
			return nil, fmt.Errorf("macro blackout window %s: %w", date, err)
		}
		m.windows = append(m.windows, macroWindow{date: date, start: start, end: end})
	}
	return m, nil
}

// Check vetoes when t falls on a blackout date or inside a blackout window.
func (m *MacroBlackout) Check(t time.Time) Result {
	if !m.enabled {
		return allow()
	}
	date := t.Format("2006-01-02")
	if _, ok := m.dates[date]; ok {
		return veto("macro blackout date %s", date)
	}
	minute := t.Hour()*60 + t.Minute()
	for _, w := range m.windows {
		if w.date != date {
			continue
		}
		inside := false
		if w.start <= w.end {
			inside = minute >= w.start && minute < w.end
		} else {
			inside = minute >= w.start || minute < w.end
		}
		if inside {
			return veto("macro blackout window %s %02d:%02d-%02d:%02d",
				date, w.start/60, w.start%60, w.end/60, w.end%60)
		}
	}
	return allow()
}

// EarningsBlackout vetoes a symbol for a window of calendar days around each
// of its known earnings dates, inclusive on both ends.
type EarningsBlackout struct {
	enabled    bool
	daysBefore int
	daysAfter  int
	dates      map[string][]time.Time
}

// NewEarningsBlackout parses the per-symbol earnings dates; symbols are
// keyed uppercase.
func NewEarningsBlackout(cfg EarningsConfig) (*EarningsBlackout, error) {
	e := &EarningsBlackout{
		enabled:    cfg.Enabled,
		daysBefore: cfg.DaysBefore,
		daysAfter:  cfg.DaysAfter,
		dates:      make(map[string][]time.Time, len(cfg.EarningsDates)),
	}
	for sym, dates := range cfg.EarningsDates {
		key := strings.ToUpper(strings.TrimSpace(sym))
		for _, d := range dates {
			parsed, err := time.Parse("2006-01-02", strings.TrimSpace(d))
			if err != nil {
				return nil, fmt.Errorf("earnings date %q for %s: %w", d, sym, err)
			}
			e.dates[key] = append(e.dates[key], parsed)
		}
	}
	return e, nil
}

// Check vetoes when the date of t lies in [earnings-daysBefore, earnings+daysAfter].
func (e *EarningsBlackout) Check(symbol string, t time.Time) Result {
	if !e.enabled {
		return allow()
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for _, ed := range e.dates[strings.ToUpper(symbol)] {
		start := ed.AddDate(0, 0, -e.daysBefore)
		end := ed.AddDate(0, 0, e.daysAfter)
		if !day.Before(start) && !day.After(end) {
			return veto("earnings blackout %s around %s", symbol, ed.Format("2006-01-02"))
		}
	}
	return allow()
}

// VolatilityDoNotTrade vetoes when ATR%% or spread exceeds hard thresholds.
// Nil metrics are unknown and pass.
type VolatilityDoNotTrade struct {
	enabled      bool
	maxATRPct    float64
	maxSpreadPct float64
}

// NewVolatilityDoNotTrade returns the gate with the given thresholds.
func NewVolatilityDoNotTrade(cfg VolatilityConfig) *VolatilityDoNotTrade {
	return &VolatilityDoNotTrade{
		enabled:      cfg.Enabled,
		maxATRPct:    cfg.MaxATRPct,
		maxSpreadPct: cfg.MaxSpreadPct,
	}
}

// Check evaluates the do-not-trade thresholds.
func (v *VolatilityDoNotTrade) Check(atrPct, spreadPct *float64) Result {
	if !v.enabled {
		return allow()
	}
	if atrPct != nil && *atrPct > v.maxATRPct {
		return veto("volatility DNT: ATR%% %.2f > %g", *atrPct, v.maxATRPct)
	}
	if spreadPct != nil && *spreadPct > v.maxSpreadPct {
		return veto("volatility DNT: spread %.2f%% > %g", *spreadPct, v.maxSpreadPct)
	}
	return allow()
}

func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 1 || len(parts) > 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return 0, fmt.Errorf("invalid minute in %q", s)
		}
	}
	return hour*60 + minute, nil
}
