package risk

import (
	"math"
	"strings"
	"testing"
	"time"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func TestPeakEquityMonotone(t *testing.T) {
	m := New(DefaultConfig())
	s := NewState()
	now := time.Now()

	equities := []float64{100_000, 105_000, 98_000, 104_000, 110_000, 90_000}
	max := 0.0
	for i, eq := range equities {
		m.UpdateEquity(s, now.Add(time.Duration(i)*time.Hour), eq)
		if eq > max {
			max = eq
		}
		if s.PeakEquity != max {
			t.Fatalf("after %v: peak = %v, want %v", eq, s.PeakEquity, max)
		}
	}
	if len(s.EquityCurve) != len(equities) {
		t.Errorf("curve length = %d, want %d", len(s.EquityCurve), len(equities))
	}
}

func TestDrawdownPct(t *testing.T) {
	m := New(DefaultConfig())
	s := NewState()

	if got := m.DrawdownPct(s, 100_000); got != 0 {
		t.Errorf("drawdown with no peak = %v, want 0", got)
	}

	m.UpdateEquity(s, time.Now(), 100_000)
	if got := m.DrawdownPct(s, 95_000); math.Abs(got-(-5.0)) > 1e-9 {
		t.Errorf("drawdown = %v, want -5", got)
	}
	if got := m.DrawdownPct(s, 100_000); got > 0 {
		t.Errorf("drawdown must never be positive, got %v", got)
	}
}

func TestDailyLossLatch(t *testing.T) {
	m := New(DefaultConfig()) // daily limit -2.0
	s := NewState()
	today := day(t, "2025-03-10")

	m.UpdateEquity(s, today, 100_000)
	m.CheckDailyReset(s, today)
	s.DailyPnLPct = -2.5

	ok, reason := m.CanTrade(s, 100_000, "SPY", today)
	if ok {
		t.Fatal("expected daily loss veto")
	}
	if !strings.Contains(reason, "daily loss limit") {
		t.Errorf("reason = %q", reason)
	}
	if !s.TradingStoppedForDay {
		t.Error("trading_stopped_for_day should latch")
	}

	// Latched for the rest of the day even if P&L is repaired.
	s.DailyPnLPct = 0
	if ok, _ := m.CanTrade(s, 100_000, "SPY", today); ok {
		t.Error("latch must hold until the date advances")
	}

	// Next day the reset clears the latch.
	tomorrow := day(t, "2025-03-11")
	if ok, reason := m.CanTrade(s, 100_000, "SPY", tomorrow); !ok {
		t.Errorf("next day should trade, got %q", reason)
	}
	if s.TradingStoppedForDay {
		t.Error("latch should clear on reset")
	}
}

func TestSafeModeLatchAndRecovery(t *testing.T) {
	m := New(DefaultConfig()) // max dd -10, recovery -8
	s := NewState()
	today := day(t, "2025-03-10")

	m.UpdateEquity(s, today, 100_000)

	// Equity 89,000 -> drawdown -11% <= -10% latches safe mode.
	ok, reason := m.CanTrade(s, 89_000, "SPY", today)
	if ok {
		t.Fatal("expected max drawdown veto")
	}
	if !strings.Contains(reason, "safe mode") {
		t.Errorf("reason = %q", reason)
	}
	if !s.SafeMode {
		t.Fatal("safe_mode should latch")
	}

	// At -8% exactly, recovery uses <= so still blocked.
	ok, reason = m.CanTrade(s, 92_000, "SPY", today)
	if ok {
		t.Error("drawdown exactly at recovery threshold must stay blocked")
	}
	if !strings.Contains(reason, "safe_mode") {
		t.Errorf("reason = %q", reason)
	}

	// At -7% the safe-mode check passes.
	if ok, reason := m.CanTrade(s, 93_000, "SPY", today); !ok {
		t.Errorf("recovered drawdown should trade, got %q", reason)
	}
	// Safe mode itself stays latched; only the check passes.
	if !s.SafeMode {
		t.Error("safe_mode latch should survive recovery checks")
	}
}

func TestTradeCountLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradesPerDay = 2
	cfg.MaxTradesPerSymbolPerDay = 1
	m := New(cfg)
	s := NewState()
	today := day(t, "2025-03-10")
	m.UpdateEquity(s, today, 100_000)

	if ok, _ := m.CanTrade(s, 100_000, "SPY", today); !ok {
		t.Fatal("first trade should pass")
	}
	m.RecordTrade(s, "SPY", 0)

	ok, reason := m.CanTrade(s, 100_000, "SPY", today)
	if ok {
		t.Error("per-symbol limit should veto the second SPY trade")
	} else if !strings.Contains(reason, "per symbol") {
		t.Errorf("reason = %q", reason)
	}

	if ok, _ := m.CanTrade(s, 100_000, "QQQ", today); !ok {
		t.Fatal("different symbol should still pass")
	}
	m.RecordTrade(s, "QQQ", 0)

	ok, reason = m.CanTrade(s, 100_000, "IWM", today)
	if ok {
		t.Error("daily total limit should veto the third trade")
	} else if !strings.Contains(reason, "per day") {
		t.Errorf("reason = %q", reason)
	}
}

func TestCheckDailyResetIdempotentWithinDay(t *testing.T) {
	m := New(DefaultConfig())
	s := NewState()
	today := day(t, "2025-03-10")

	m.CheckDailyReset(s, today)
	m.RecordTrade(s, "SPY", -0.4)
	m.CheckDailyReset(s, today)

	if s.DailyTradeCount != 1 || s.DailyPnLPct != -0.4 {
		t.Error("same-day reset must not clear counters")
	}
}
