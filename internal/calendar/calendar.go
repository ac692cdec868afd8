// Package calendar classifies venue-local time into US equity market
// sessions and decides whether trading is allowed at a given instant.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionType is the market session a point in time falls into.
type SessionType string

const (
	SessionPreMarket  SessionType = "pre_market"
	SessionRegular    SessionType = "regular"
	SessionAfterHours SessionType = "after_hours"
	SessionClosed     SessionType = "closed"
)

// WindowConfig is one session window in config. Start/End are "HH:MM" in
// venue time; a window with Start > End wraps past midnight.
type WindowConfig struct {
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	TradeAllowed bool   `yaml:"trade_allowed"`
}

// Config is the market_sessions section of the configuration.
type Config struct {
	PreMarket  WindowConfig `yaml:"pre_market"`
	Regular    WindowConfig `yaml:"regular"`
	AfterHours WindowConfig `yaml:"after_hours"`
}

// DefaultConfig returns standard US equity sessions with only the regular
// session tradeable.
func DefaultConfig() Config {
	return Config{
		PreMarket:  WindowConfig{Start: "04:00", End: "09:30", TradeAllowed: false},
		Regular:    WindowConfig{Start: "09:30", End: "16:00", TradeAllowed: true},
		AfterHours: WindowConfig{Start: "16:00", End: "20:00", TradeAllowed: false},
	}
}

type window struct {
	start        int // minutes since midnight, inclusive
	end          int // exclusive
	tradeAllowed bool
}

func (w window) contains(minute int) bool {
	if w.start <= w.end {
		return minute >= w.start && minute < w.end
	}
	// Wraps past midnight, e.g. 20:00-04:00.
	return minute >= w.start || minute < w.end
}

// Calendar holds parsed session windows, the holiday set, and the venue
// timezone. Safe for concurrent reads; never mutated after New.
type Calendar struct {
	sessions map[SessionType]window
	holidays map[string]struct{}
	loc      *time.Location
}

// New parses the session config and holiday list (YYYY-MM-DD). Times are
// interpreted in America/New_York, with a fixed ET offset as fallback when
// the tz database is unavailable.
func New(cfg Config, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}

	c := &Calendar{
		sessions: make(map[SessionType]window, 3),
		holidays: make(map[string]struct{}, len(holidays)),
		loc:      loc,
	}

	for _, s := range []struct {
		typ SessionType
		cfg WindowConfig
	}{
		{SessionPreMarket, cfg.PreMarket},
		{SessionRegular, cfg.Regular},
		{SessionAfterHours, cfg.AfterHours},
	} {
		w, err := parseWindow(s.cfg)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.typ, err)
		}
		c.sessions[s.typ] = w
	}

	for _, h := range holidays {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}

	return c, nil
}

func parseWindow(cfg WindowConfig) (window, error) {
	start, err := parseClock(cfg.Start)
	if err != nil {
		return window{}, err
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return window{}, err
	}
	return window{start: start, end: end, tradeAllowed: cfg.TradeAllowed}, nil
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

// Location returns the venue timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsHoliday reports whether the venue-local date of t is a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[t.In(c.loc).Format("2006-01-02")]
	return ok
}

// SessionAt classifies t into a session. Holidays are CLOSED all day;
// otherwise the pre-market, regular, and after-hours windows are checked in
// order and anything outside them is CLOSED.
func (c *Calendar) SessionAt(t time.Time) SessionType {
	local := t.In(c.loc)
	if c.IsHoliday(local) {
		return SessionClosed
	}
	minute := local.Hour()*60 + local.Minute()
	for _, typ := range []SessionType{SessionPreMarket, SessionRegular, SessionAfterHours} {
		if c.sessions[typ].contains(minute) {
			return typ
		}
	}
	return SessionClosed
}

// TradingAllowed reports whether new orders may be worked at t: the session
// must be open and flagged trade_allowed.
func (c *Calendar) TradingAllowed(t time.Time) bool {
	session := c.SessionAt(t)
	if session == SessionClosed {
		return false
	}
	return c.sessions[session].tradeAllowed
}

// NextOpen returns the next regular-session start strictly after t, skipping
// weekends and holidays. Used by the control loop to sleep overnight.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	start := c.sessions[SessionRegular].start
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		start/60, start%60, 0, 0, c.loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i < 366; i++ {
		wd := candidate.Weekday()
		if wd != time.Saturday && wd != time.Sunday && !c.IsHoliday(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
