package engine

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/config"
	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/tracker"
)

// tradingTime is a Monday 11:00 ET inside the regular session.
var tradingTime = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

// trendBars builds a steady uptrend: close rises by step per bar, range 1.0.
func trendBars(n int, start, step float64) []models.Bar {
	bars := make([]models.Bar, n)
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = models.Bar{
			Time:   day.AddDate(0, 0, i),
			Open:   c - step/2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return bars
}

// tightQuote builds a quote with the given mid and a 0.05% spread.
func tightQuote(mid float64) *models.Quote {
	half := mid * 0.0005 / 2
	return models.NewQuote(mid-half, mid+half)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Broker.APIKey = "k"
	cfg.Broker.APISecret = "s"
	// Wider stop so the risk budget, not the symbol cap, sets the size.
	cfg.Strategy.Exits.StopLossPct = 2.5
	cfg.Engine.TrackerPath = filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *broker.MockBroker, *tracker.Tracker) {
	t.Helper()
	mock := broker.NewMockBroker()
	trk := tracker.New(cfg.TrackerPath())
	require.NoError(t, trk.Load())
	eng, err := New(cfg, mock, trk, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return eng, mock, trk
}

func entryContext(bars []models.Bar, quote *models.Quote) EntryContext {
	return EntryContext{
		Symbol: "SPY",
		Equity: 100_000,
		Bars:   bars,
		Quote:  quote,
	}
}

func TestRunEntryGatesHappyPath(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig(t))
	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close

	decision := eng.RunEntryGates(tradingTime, entryContext(bars, tightQuote(mid)))
	require.True(t, decision.Allowed, "reason: %s", decision.Reason)
	require.NotNil(t, decision.Order)
	require.NotNil(t, decision.Entry)
	require.NotNil(t, decision.Sizing)

	assert.Equal(t, models.OrderTypeLimit, decision.Order.Type)
	assert.Greater(t, decision.Order.Quantity, 0)
	assert.InDelta(t, 0.5, decision.Sizing.RiskPct, 0.01)
	assert.Less(t, decision.Order.LimitPrice, decision.Order.ExpectedPrice,
		"buy limit sits below the mid")
}

func TestRunEntryGatesSpreadVeto(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig(t))
	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close

	wide := &models.Quote{Bid: mid - 0.11, Ask: mid + 0.11, Mid: mid, SpreadPct: 0.20}
	decision := eng.RunEntryGates(tradingTime, entryContext(bars, wide))

	require.False(t, decision.Allowed)
	assert.True(t, strings.HasPrefix(decision.Reason, "spread"), "reason = %q", decision.Reason)
	assert.Nil(t, decision.Sizing, "no sizing computed after a spread veto")
	assert.Nil(t, decision.Order)
}

func TestRunEntryGatesGateIsolation(t *testing.T) {
	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close

	tests := []struct {
		name       string
		mutateCfg  func(*config.Config)
		now        time.Time
		quote      *models.Quote
		openRisk   float64
		wantReason string
	}{
		{
			name:       "closed session",
			now:        time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), // 22:00 ET Sunday
			wantReason: "market closed or session not tradeable",
		},
		{
			name: "macro blackout",
			mutateCfg: func(c *config.Config) {
				c.TradeFilters.MacroBlackout.BlackoutDates = []string{"2025-03-10"}
			},
			wantReason: "macro blackout date 2025-03-10",
		},
		{
			name: "not in universe",
			mutateCfg: func(c *config.Config) {
				c.Universe.Symbols = []string{"QQQ"}
			},
			wantReason: "symbol not eligible",
		},
		{
			name: "earnings blackout",
			mutateCfg: func(c *config.Config) {
				c.TradeFilters.EarningsBlackout.EarningsDates = map[string][]string{
					"SPY": {"2025-03-11"},
				}
			},
			wantReason: "earnings blackout SPY",
		},
		{
			name:       "open risk cap",
			openRisk:   2.8,
			wantReason: "open risk",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			if tt.mutateCfg != nil {
				tt.mutateCfg(cfg)
			}
			eng, _, _ := newTestEngine(t, cfg)

			now := tradingTime
			if !tt.now.IsZero() {
				now = tt.now
			}
			quote := tt.quote
			if quote == nil {
				quote = tightQuote(mid)
			}
			in := entryContext(bars, quote)
			in.OpenRiskPct = tt.openRisk

			decision := eng.RunEntryGates(now, in)
			require.False(t, decision.Allowed)
			assert.True(t, strings.HasPrefix(decision.Reason, tt.wantReason),
				"reason = %q, want prefix %q", decision.Reason, tt.wantReason)
		})
	}
}

func TestRunEntryGatesStrategyBlockedLatch(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig(t))
	bars := trendBars(220, 100, 0.05)
	eng.State().Execution.StrategyBlocked = true

	decision := eng.RunEntryGates(tradingTime, entryContext(bars, tightQuote(bars[len(bars)-1].Close)))
	require.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "strategy blocked")
}

func TestRunEntryGatesNoSignal(t *testing.T) {
	eng, _, _ := newTestEngine(t, testConfig(t))
	// Flat tape: price never pulls above the slow MA convincingly.
	bars := trendBars(220, 100, 0)

	decision := eng.RunEntryGates(tradingTime, entryContext(bars, tightQuote(100)))
	require.False(t, decision.Allowed)
	assert.Equal(t, "no entry signal", decision.Reason)
}

func TestRunPassEntersPosition(t *testing.T) {
	cfg := testConfig(t)
	eng, mock, trk := newTestEngine(t, cfg)

	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close
	mock.Bars["SPY"] = bars
	mock.Quotes["SPY"] = tightQuote(mid)

	require.NoError(t, eng.RunPass(context.Background(), tradingTime))

	require.Len(t, mock.Orders, 1)
	assert.Equal(t, "buy", mock.Orders[0].Side)
	assert.Equal(t, "SPY", mock.Orders[0].Symbol)

	pos, ok := trk.Get("SPY")
	require.True(t, ok, "position must be tracked after the fill")
	assert.Equal(t, int(mock.Orders[0].Qty), pos.Qty)
	assert.Equal(t, cfg.Strategy.Exits.StopLossPct, pos.StopPct)

	state := eng.State()
	assert.Equal(t, 1, state.PortfolioRisk.DailyTradeCount)
	assert.Equal(t, tradingTime, state.LastPass)
}

func TestRunPassSkipsHeldSymbol(t *testing.T) {
	cfg := testConfig(t)
	eng, mock, trk := newTestEngine(t, cfg)

	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close
	mock.Bars["SPY"] = bars
	mock.Quotes["SPY"] = tightQuote(mid)

	// Already long and holding: no exit fires, and no pyramid entry.
	require.NoError(t, trk.Add("SPY", models.TrackedPosition{
		Qty:        100,
		EntryPrice: mid,
		EntryTime:  tradingTime.Add(-24 * time.Hour).UTC().Format(time.RFC3339),
		StopPct:    cfg.Strategy.Exits.StopLossPct,
	}))

	require.NoError(t, eng.RunPass(context.Background(), tradingTime))
	assert.Empty(t, mock.Orders, "held symbol must produce no new orders")
}

func TestRunPassStopLossExit(t *testing.T) {
	cfg := testConfig(t) // stop 2.5
	eng, mock, trk := newTestEngine(t, cfg)

	bars := trendBars(220, 100, 0) // flat series priced near 100
	mock.Bars["SPY"] = bars
	mock.Quotes["SPY"] = tightQuote(94.0)

	require.NoError(t, trk.Add("SPY", models.TrackedPosition{
		Qty:        100,
		EntryPrice: 100.0,
		EntryTime:  tradingTime.AddDate(0, 0, -10).UTC().Format(time.RFC3339),
		StopPct:    cfg.Strategy.Exits.StopLossPct,
	}))

	require.NoError(t, eng.RunPass(context.Background(), tradingTime))

	require.NotEmpty(t, mock.Orders)
	assert.Equal(t, "sell", mock.Orders[0].Side)
	_, stillHeld := trk.Get("SPY")
	assert.False(t, stillHeld, "stopped-out position must leave the tracker")

	// Realized loss lands in the daily P&L ledger.
	state := eng.State()
	assert.Equal(t, 1, state.PortfolioRisk.DailyTradeCount)
	assert.Negative(t, state.PortfolioRisk.DailyPnLPct)
}

func TestReconcile(t *testing.T) {
	cfg := testConfig(t)
	eng, mock, trk := newTestEngine(t, cfg)
	ctx := context.Background()

	// Broker knows a position the tracker has never seen.
	mock.Positions = append(mock.Positions, broker.Position{
		Symbol:    "QQQ",
		Qty:       50,
		AvgEntry:  400.0,
		CostBasis: 20_000,
		Side:      "long",
	})
	// Tracker remembers a position the broker no longer holds.
	require.NoError(t, trk.Add("IWM", models.TrackedPosition{
		Qty:        10,
		EntryPrice: 200,
		EntryTime:  "2025-03-01T15:00:00Z",
		StopPct:    2.5,
	}))

	require.NoError(t, eng.Reconcile(ctx))

	adopted, ok := trk.Get("QQQ")
	require.True(t, ok, "live position must be adopted")
	assert.Equal(t, 50, adopted.Qty)
	assert.Equal(t, 400.0, adopted.EntryPrice)
	assert.Equal(t, cfg.Strategy.Exits.StopLossPct, adopted.StopPct)

	_, stale := trk.Get("IWM")
	assert.False(t, stale, "stale tracker entry must be dropped")
}

func TestSnapshot(t *testing.T) {
	eng, _, trk := newTestEngine(t, testConfig(t))

	state := eng.State()
	now := time.Now()
	eng.riskMgr.UpdateEquity(state.PortfolioRisk, now, 100_000)
	eng.riskMgr.UpdateEquity(state.PortfolioRisk, now, 95_000)
	require.NoError(t, trk.Add("SPY", models.TrackedPosition{
		Qty: 1, EntryPrice: 100, EntryTime: "2025-03-10T15:00:00Z", StopPct: 2.5,
	}))

	snap := eng.Snapshot()
	assert.Equal(t, 95_000.0, snap.Equity)
	assert.Equal(t, 100_000.0, snap.PeakEquity)
	assert.InDelta(t, -5.0, snap.DrawdownPct, 1e-9)
	assert.Equal(t, 1, snap.OpenPositions)
}

func TestRunPassOpenRiskCapAcrossEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Universe.Symbols = []string{"SPY", "QQQ"}
	cfg.Sectors = map[string]string{"SPY": "index", "QQQ": "tech"}
	// One 0.5% entry fits under the cap; a second in the same pass does not.
	cfg.PositionSizing.MaxOpenRiskPct = 0.8
	eng, mock, _ := newTestEngine(t, cfg)

	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close
	for _, sym := range cfg.Universe.Symbols {
		mock.Bars[sym] = bars
		mock.Quotes[sym] = tightQuote(mid)
	}

	require.NoError(t, eng.RunPass(context.Background(), tradingTime))

	require.Len(t, mock.Orders, 1,
		"second same-pass entry must be vetoed by the open-risk cap")
	assert.Equal(t, "SPY", mock.Orders[0].Symbol)
}

func TestRunPassCancelReplacesStalePartialFill(t *testing.T) {
	cfg := testConfig(t)
	eng, mock, trk := newTestEngine(t, cfg)

	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close
	mock.Bars["SPY"] = bars
	mock.Quotes["SPY"] = tightQuote(mid)

	// Half the entry fills on submit; the rest stays working.
	mock.FillRatio = 0.5
	require.NoError(t, eng.RunPass(context.Background(), tradingTime))
	require.Len(t, mock.Orders, 1)
	require.Len(t, eng.State().PendingOrders, 1)

	// Next pass, past the partial-fill timeout: the stale order is canceled
	// and the remainder re-sent as a market order.
	mock.FillRatio = 1
	require.NoError(t, eng.RunPass(context.Background(), tradingTime.Add(time.Minute)))

	require.Len(t, mock.Canceled, 1)
	assert.Equal(t, mock.Orders[0].ID, mock.Canceled[0])
	require.Len(t, mock.Orders, 2)

	replacement := mock.Orders[1]
	assert.Equal(t, string(models.OrderTypeMarket), replacement.Type)
	assert.Equal(t, mock.Orders[0].Qty-mock.Orders[0].FilledQty, replacement.Qty)
	assert.Empty(t, eng.State().PendingOrders)

	// The tracker kept the full decision quantity throughout.
	pos, ok := trk.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, int(mock.Orders[0].Qty), pos.Qty)
}
