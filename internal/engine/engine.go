// Package engine composes the calendar, filters, strategy, sizing, risk,
// execution, compliance, and tracker components into the entry gate
// pipeline, the exit flow, and the pass loop. Gates run in a fixed order and
// the first veto wins; vetoes are values, never errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/calendar"
	"github.com/hwatkins-dev/trendgate/internal/compliance"
	"github.com/hwatkins-dev/trendgate/internal/config"
	"github.com/hwatkins-dev/trendgate/internal/execution"
	"github.com/hwatkins-dev/trendgate/internal/filters"
	"github.com/hwatkins-dev/trendgate/internal/metrics"
	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/risk"
	"github.com/hwatkins-dev/trendgate/internal/sizing"
	"github.com/hwatkins-dev/trendgate/internal/status"
	"github.com/hwatkins-dev/trendgate/internal/strategy"
	"github.com/hwatkins-dev/trendgate/internal/tracker"
	"github.com/hwatkins-dev/trendgate/internal/universe"
)

const (
	// barsLimit is how many daily bars each pass requests per symbol.
	barsLimit = 220
	// barTimeframe is the bar resolution the strategy runs on.
	barTimeframe = "1Day"
	// spreadFallbackPct stands in when no usable quote is available. It is
	// above the execution ceiling, so quoteless symbols fail the spread gate
	// rather than trading blind.
	spreadFallbackPct = 0.15
	// dollarVolumeWindow is the lookback for the liquidity floor.
	dollarVolumeWindow = 30
)

var (
	// ErrNoQuote reports that no usable top-of-book quote exists.
	ErrNoQuote = errors.New("no usable quote")
	// ErrInsufficientBars reports a bar series shorter than the strategy needs.
	ErrInsufficientBars = errors.New("insufficient bars")
)

// TradeDecision is the outcome of the entry gate pipeline for one symbol.
// Allowed is false exactly when Reason names the vetoing gate's complaint.
type TradeDecision struct {
	Allowed bool
	Reason  string
	Order   *models.OrderRequest
	Entry   *models.EntrySignal
	Sizing  *sizing.Result
}

// PendingOrder is an order submitted but not yet fully filled. The pass loop
// reviews these and cancel/replaces stale partials.
type PendingOrder struct {
	ID            string
	Symbol        string
	Side          models.Side
	SubmittedAt   time.Time
	ExpectedPrice float64
}

// State aggregates the mutable ledgers the engine owns. Single-writer: only
// the pass loop mutates it.
type State struct {
	PortfolioRisk *risk.State
	Execution     *execution.State
	PDT           *compliance.PDTState
	PendingOrders []PendingOrder
	LastPass      time.Time
}

// NewState returns empty ledgers.
func NewState() *State {
	return &State{
		PortfolioRisk: risk.NewState(),
		Execution:     execution.NewState(),
		PDT:           compliance.NewPDTState(),
	}
}

// Engine runs the decision pipeline. Construct with New; all dependencies
// except the logger are required.
type Engine struct {
	cfg      *config.Config
	broker   broker.Interface
	tracker  *tracker.Tracker
	calendar *calendar.Calendar

	universeFilter *universe.Filter
	qualityGate    *universe.QualityGate
	macro          *filters.MacroBlackout
	earnings       *filters.EarningsBlackout
	volDNT         *filters.VolatilityDoNotTrade
	strat          *strategy.TrendFollowing
	sizer          *sizing.Sizer
	riskMgr        *risk.Manager
	execMgr        *execution.Manager
	pdt            *compliance.Checker

	logger  *log.Logger
	verbose bool

	mu    sync.Mutex
	state *State
}

// New wires the engine from config. The broker and tracker are required; a
// nil logger falls back to stderr.
func New(cfg *config.Config, brk broker.Interface, trk *tracker.Tracker, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil config")
	}
	if brk == nil {
		return nil, fmt.Errorf("engine: nil broker")
	}
	if trk == nil {
		return nil, fmt.Errorf("engine: nil tracker")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	cal, err := calendar.New(cfg.MarketSessions, cfg.Holidays)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	macro, err := filters.NewMacroBlackout(cfg.TradeFilters.MacroBlackout)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	earnings, err := filters.NewEarningsBlackout(cfg.TradeFilters.EarningsBlackout)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		cfg:            cfg,
		broker:         brk,
		tracker:        trk,
		calendar:       cal,
		universeFilter: universe.NewFilter(cfg.Universe),
		qualityGate:    universe.NewQualityGate(cfg.MarketQuality),
		macro:          macro,
		earnings:       earnings,
		volDNT:         filters.NewVolatilityDoNotTrade(cfg.TradeFilters.VolatilityDoNotTrade),
		strat:          strategy.New(cfg.Strategy),
		sizer:          sizing.New(cfg.PositionSizing),
		riskMgr:        risk.New(cfg.PortfolioRisk),
		execMgr:        execution.New(cfg.Execution),
		pdt:            compliance.New(cfg.Compliance),
		logger:         logger,
		verbose:        cfg.Logging.Verbose,
		state:          NewState(),
	}, nil
}

// State exposes the ledgers for tests and the summary command.
func (e *Engine) State() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Calendar exposes the session calendar for the status command.
func (e *Engine) Calendar() *calendar.Calendar { return e.calendar }

func veto(gate, reason string) TradeDecision {
	metrics.GateVetoes.WithLabelValues(gate).Inc()
	return TradeDecision{Allowed: false, Reason: reason}
}

// EntryContext carries the per-symbol market inputs for one gate run. Quote
// may be nil; the spread fallback then applies.
type EntryContext struct {
	Symbol         string
	Equity         float64
	Bars           []models.Bar
	Quote          *models.Quote
	OpenRiskPct    float64
	SectorExposure map[string]float64
}

// RunEntryGates evaluates the fixed-order entry pipeline for one symbol.
// The first veto returns immediately with its reason.
func (e *Engine) RunEntryGates(now time.Time, in EntryContext) TradeDecision {
	if !e.calendar.TradingAllowed(now) {
		return veto("calendar", "market closed or session not tradeable")
	}

	if res := e.macro.Check(now); !res.Allowed {
		return veto("macro_blackout", res.Reason)
	}

	spreadPct := spreadFallbackPct
	mid := 0.0
	if in.Quote != nil {
		spreadPct = in.Quote.SpreadPct
		mid = in.Quote.Mid
	} else if len(in.Bars) > 0 {
		mid = in.Bars[len(in.Bars)-1].Close
	}

	atrPct := e.strat.ATRPct(in.Bars)
	atrMultiple := e.strat.ATRMultipleNow(in.Bars)
	avgDollarVolume := avgDollarVolume30d(in.Bars)
	volumeATRRatio := volumeATRRatio(in.Bars, atrPct, mid)

	if !e.universeFilter.Eligible(in.Symbol, avgDollarVolume, volumeATRRatio) {
		return veto("universe", "symbol not eligible")
	}

	if res := e.earnings.Check(in.Symbol, now); !res.Allowed {
		return veto("earnings_blackout", res.Reason)
	}

	var atrMultPtr *float64
	if atrMultiple > 0 {
		atrMultPtr = &atrMultiple
	}
	if res := e.qualityGate.Check(spreadPct, volumeATRRatio, atrMultPtr); !res.OK {
		return veto("market_quality", res.Reason)
	}

	if ok, reason := e.execMgr.CanTradeSpread(spreadPct); !ok {
		return veto("spread", reason)
	}

	var atrPctPtr *float64
	if atrPct > 0 {
		atrPctPtr = &atrPct
	}
	if res := e.volDNT.Check(atrPctPtr, &spreadPct); !res.Allowed {
		return veto("volatility_dnt", res.Reason)
	}

	if e.execMgr.ShouldBlockStrategy(e.state.Execution) {
		return veto("strategy_blocked", fmt.Sprintf("strategy blocked: slippage avg %.1f bps",
			e.state.Execution.StrategySlippageBpsAvg))
	}

	if ok, reason := e.riskMgr.CanTrade(e.state.PortfolioRisk, in.Equity, in.Symbol, now); !ok {
		return veto("portfolio_risk", reason)
	}

	if ok, reason := e.pdt.CanDayTrade(e.state.PDT, now); !ok {
		return veto("pdt", reason)
	}

	entry := e.strat.GenerateEntry(in.Symbol, in.Bars, &spreadPct, atrMultPtr)
	if entry == nil {
		return veto("signal", "no entry signal")
	}

	sized := e.sizer.SizePosition(in.Equity, mid, entry.StopPct, in.Symbol,
		in.SectorExposure, e.cfg.Sectors, atrPctPtr)
	if sized.RejectReason != "" {
		return veto("sizing", sized.RejectReason)
	}

	if e.sizer.WouldExceedMaxOpenRisk(in.OpenRiskPct, sized.RiskPct) {
		return veto("open_risk", fmt.Sprintf("open risk %.2f%% + %.2f%% would exceed %g%%",
			in.OpenRiskPct, sized.RiskPct, e.sizer.MaxOpenRiskPct()))
	}

	order := e.execMgr.BuildOrder(in.Symbol, entry.Side.OrderSide(), sized.Shares, mid, spreadPct)
	if order == nil {
		return veto("order_build", "execution: order build failed")
	}

	return TradeDecision{
		Allowed: true,
		Reason:  "ok",
		Order:   order,
		Entry:   entry,
		Sizing:  &sized,
	}
}

// CheckExit evaluates the exit state machine for one tracked position.
func (e *Engine) CheckExit(symbol string, pos models.TrackedPosition, currentPrice float64, now time.Time, spreadPct, atrMultiple *float64) *models.ExitSignal {
	barsHeld := tracker.BarsHeld(pos.EntryTime, now)
	return e.strat.CheckExit(symbol, pos.EntryPrice, currentPrice, barsHeld, spreadPct, atrMultiple)
}

// avgDollarVolume30d is the mean of close·volume over the trailing window;
// nil when the series is too short.
func avgDollarVolume30d(bars []models.Bar) *float64 {
	if len(bars) < dollarVolumeWindow {
		return nil
	}
	sum := 0.0
	for _, b := range bars[len(bars)-dollarVolumeWindow:] {
		sum += b.Close * b.Volume
	}
	avg := sum / dollarVolumeWindow
	return &avg
}

// volumeATRRatio relates the last bar's volume to the ATR in price points.
// A thin print against a big range reads low; nil when ATR is unavailable.
func volumeATRRatio(bars []models.Bar, atrPct, price float64) *float64 {
	if len(bars) == 0 || atrPct <= 0 || price <= 0 {
		return nil
	}
	atr := atrPct / 100 * price
	if atr <= 0 {
		return nil
	}
	ratio := bars[len(bars)-1].Volume / atr
	return &ratio
}

// Snapshot builds the status-server view of the ledgers.
func (e *Engine) Snapshot() status.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state

	equity := 0.0
	if n := len(s.PortfolioRisk.EquityCurve); n > 0 {
		equity = s.PortfolioRisk.EquityCurve[n-1].Equity
	}
	return status.Snapshot{
		Equity:               equity,
		PeakEquity:           s.PortfolioRisk.PeakEquity,
		DrawdownPct:          e.riskMgr.DrawdownPct(s.PortfolioRisk, equity),
		DailyPnLPct:          s.PortfolioRisk.DailyPnLPct,
		DailyTradeCount:      s.PortfolioRisk.DailyTradeCount,
		SafeMode:             s.PortfolioRisk.SafeMode,
		TradingStoppedForDay: s.PortfolioRisk.TradingStoppedForDay,
		StrategyBlocked:      s.Execution.StrategyBlocked,
		OpenPositions:        e.tracker.Len(),
		LastPass:             s.LastPass,
	}
}

// Positions exposes the tracker view for the status server.
func (e *Engine) Positions() map[string]models.TrackedPosition {
	return e.tracker.All()
}

// openRisk computes the aggregate open-risk percentage and the sector
// exposure map from tracked positions and the last close per symbol.
func (e *Engine) openRisk(equity float64, lastPrice map[string]float64) (float64, map[string]float64, []sizing.OpenPosition) {
	positions := e.tracker.All()
	open := make([]sizing.OpenPosition, 0, len(positions))
	sector := make(map[string]float64)
	for sym, pos := range positions {
		price := lastPrice[sym]
		if price <= 0 {
			price = pos.EntryPrice
		}
		notional := float64(pos.Qty) * price
		open = append(open, sizing.OpenPosition{Notional: notional, StopPct: pos.StopPct})

		if equity > 0 {
			sector[e.sectorOf(sym)] += notional / equity * 100
		}
	}
	return e.sizer.TotalOpenRiskPct(equity, open), sector, open
}

// sectorOf maps a symbol to its configured sector, "unknown" otherwise.
func (e *Engine) sectorOf(sym string) string {
	if s, ok := e.cfg.Sectors[sym]; ok {
		return s
	}
	return "unknown"
}

// sameVenueDay reports whether two instants fall on the same venue-local date.
func (e *Engine) sameVenueDay(a, b time.Time) bool {
	loc := e.calendar.Location()
	return a.In(loc).Format("2006-01-02") == b.In(loc).Format("2006-01-02")
}

func upper(s string) string { return strings.ToUpper(s) }

// Reconcile aligns the tracker with the broker's position list at startup.
// Unknown broker positions are adopted with entry derived from cost basis
// and the configured default stop; tracker entries with no live position are
// dropped.
func (e *Engine) Reconcile(ctx context.Context) error {
	live, err := e.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	bySymbol := make(map[string]broker.Position, len(live))
	for _, p := range live {
		bySymbol[upper(p.Symbol)] = p
	}

	for sym, p := range bySymbol {
		if _, ok := e.tracker.Get(sym); ok || p.Qty <= 0 {
			continue
		}
		entry := p.AvgEntry
		if entry <= 0 && p.Qty > 0 {
			entry = p.CostBasis / p.Qty
		}
		pos := models.TrackedPosition{
			Qty:        int(p.Qty),
			EntryPrice: entry,
			EntryTime:  time.Now().UTC().Format(time.RFC3339),
			StopPct:    e.strat.StopLossPct(),
		}
		if err := e.tracker.Add(sym, pos); err != nil {
			return fmt.Errorf("reconcile: adopt %s: %w", sym, err)
		}
		e.logger.Printf("[RECONCILE] adopted %s: qty %d entry %.2f (default stop %g%%)",
			sym, pos.Qty, pos.EntryPrice, pos.StopPct)
	}

	for sym := range e.tracker.All() {
		if _, ok := bySymbol[sym]; ok {
			continue
		}
		if err := e.tracker.Remove(sym); err != nil {
			return fmt.Errorf("reconcile: drop %s: %w", sym, err)
		}
		e.logger.Printf("[RECONCILE] dropped %s: no live broker position", sym)
	}
	return nil
}
