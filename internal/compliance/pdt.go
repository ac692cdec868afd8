// Package compliance enforces the pattern-day-trader rule: margin accounts
// under the equity floor get at most three day trades in any rolling seven
// calendar days.
package compliance

import (
	"fmt"
	"time"
)

const (
	// windowDays is the rolling calendar window the day-trade count covers.
	windowDays = 7
	// maxDayTrades is the ceiling inside the window for restricted accounts.
	maxDayTrades = 3
	// keepDates bounds the retained history.
	keepDates = 20
)

// Config is the compliance section of the configuration.
type Config struct {
	PDTMinEquity  float64 `yaml:"pdt_min_equity"`
	PDTEnabled    bool    `yaml:"pdt_enabled"`
	MarginAccount bool    `yaml:"margin_account"`
}

// DefaultConfig enables the check for a margin account at the regulatory
// $25,000 floor.
func DefaultConfig() Config {
	return Config{
		PDTMinEquity:  25_000,
		PDTEnabled:    true,
		MarginAccount: true,
	}
}

// PDTState carries the last known equity and the recent day-trade dates.
type PDTState struct {
	Equity        float64
	DayTradeDates []time.Time
}

// NewPDTState returns an empty state.
func NewPDTState() *PDTState { return &PDTState{} }

// Checker applies the pattern-day-trader rule to a PDTState.
type Checker struct {
	cfg Config
}

// New returns a Checker with the given settings.
func New(cfg Config) *Checker {
	return &Checker{cfg: cfg}
}

// UpdateEquity records the latest account equity.
func (c *Checker) UpdateEquity(s *PDTState, equity float64) {
	s.Equity = equity
}

// DayTradesInWindow counts day trades in the trailing window ending at now.
// The window is inclusive at the cutoff: a trade exactly seven days old still
// counts.
func (c *Checker) DayTradesInWindow(s *PDTState, now time.Time) int {
	cutoff := now.AddDate(0, 0, -windowDays)
	n := 0
	for _, d := range s.DayTradeDates {
		if !d.Before(cutoff) {
			n++
		}
	}
	return n
}

// CanDayTrade reports whether opening and closing a position the same day is
// allowed. Cash accounts and accounts at or above the equity floor are
// unrestricted; the check can be disabled outright.
func (c *Checker) CanDayTrade(s *PDTState, now time.Time) (bool, string) {
	if !c.cfg.PDTEnabled {
		return true, "pdt check disabled"
	}
	if !c.cfg.MarginAccount {
		return true, "cash account; pdt does not apply"
	}
	if s.Equity >= c.cfg.PDTMinEquity {
		return true, "equity above pdt minimum"
	}

	used := c.DayTradesInWindow(s, now)
	if used >= maxDayTrades {
		return false, fmt.Sprintf("pdt: %d day trades in last %d days (max %d, equity $%.0f < $%.0f)",
			used, windowDays, maxDayTrades, s.Equity, c.cfg.PDTMinEquity)
	}
	return true, fmt.Sprintf("pdt: %d of %d day trades used", used, maxDayTrades)
}

// RecordDayTrade appends the date of a completed day trade, retaining only
// the most recent entries.
func (c *Checker) RecordDayTrade(s *PDTState, when time.Time) {
	s.DayTradeDates = append(s.DayTradeDates, when)
	if len(s.DayTradeDates) > keepDates {
		s.DayTradeDates = s.DayTradeDates[len(s.DayTradeDates)-keepDates:]
	}
}
