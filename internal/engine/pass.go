package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/metrics"
	"github.com/hwatkins-dev/trendgate/internal/models"
)

// RunPass executes one synchronous decision pass: equity refresh, exits over
// tracked positions, then entries over the universe. One symbol's failure is
// logged and skipped; it never aborts the pass.
func (e *Engine) RunPass(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() { metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	equity, err := e.broker.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("pass: get equity: %w", err)
	}
	e.riskMgr.UpdateEquity(e.state.PortfolioRisk, now, equity)
	e.riskMgr.CheckDailyReset(e.state.PortfolioRisk, now)
	e.pdt.UpdateEquity(e.state.PDT, equity)

	e.logger.Printf("[PASS] equity %.2f drawdown %.2f%% tracked %d",
		equity, e.riskMgr.DrawdownPct(e.state.PortfolioRisk, equity), e.tracker.Len())

	e.reviewPendingOrders(ctx, now)

	// Exits first: closing frees exposure before any entry is sized.
	lastPrice := make(map[string]float64)
	for sym, pos := range e.tracker.All() {
		if err := e.evaluateExit(ctx, now, sym, pos, equity, lastPrice); err != nil {
			e.logger.Printf("[EXIT] %s: %v", sym, err)
		}
	}

	openRiskPct, sectorExposure, _ := e.openRisk(equity, lastPrice)

	for _, sym := range e.universeFilter.Symbols() {
		if _, held := e.tracker.Get(sym); held {
			continue
		}
		entered, err := e.evaluateEntry(ctx, now, sym, equity, openRiskPct, sectorExposure)
		if err != nil {
			e.logger.Printf("[ENTRY] %s: %v", sym, err)
			continue
		}
		// Each fill consumes open-risk and sector headroom for the rest of
		// the pass; later symbols are gated on the updated totals.
		if entered != nil {
			openRiskPct += entered.Sizing.RiskPct
			if equity > 0 {
				sectorExposure[e.sectorOf(sym)] += entered.Sizing.Notional / equity * 100
			}
		}
	}

	e.state.LastPass = now
	e.publishMetrics(equity, now)
	return nil
}

func (e *Engine) publishMetrics(equity float64, now time.Time) {
	metrics.Equity.Set(equity)
	metrics.Drawdown.Set(e.riskMgr.DrawdownPct(e.state.PortfolioRisk, equity))
	metrics.SetBool(metrics.SafeMode, e.state.PortfolioRisk.SafeMode)
	metrics.DayTradesInWindow.Set(float64(e.pdt.DayTradesInWindow(e.state.PDT, now)))
}

// evaluateExit checks one tracked position and closes it when an exit rule
// fires. Exits are never blocked by the spread gate; a wide market gets a
// market order instead of no order.
func (e *Engine) evaluateExit(ctx context.Context, now time.Time, sym string, pos models.TrackedPosition, equity float64, lastPrice map[string]float64) error {
	var spreadPtr *float64
	price := 0.0
	spread := spreadFallbackPct

	quote, err := e.broker.GetLatestQuote(ctx, sym)
	if err == nil && quote != nil {
		price = quote.Mid
		spread = quote.SpreadPct
		spreadPtr = &spread
	}

	bars, err := e.broker.GetBars(ctx, sym, barTimeframe, barsLimit)
	if err != nil {
		return fmt.Errorf("get bars: %w", err)
	}
	if price <= 0 && len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}
	if price <= 0 {
		return fmt.Errorf("%w and no bars to price %s", ErrNoQuote, sym)
	}
	lastPrice[sym] = price

	var atrMultPtr *float64
	if m := e.strat.ATRMultipleNow(bars); m > 0 {
		atrMultPtr = &m
	}

	exit := e.CheckExit(sym, pos, price, now, spreadPtr, atrMultPtr)
	if exit == nil {
		return nil
	}

	order := e.execMgr.BuildOrder(sym, models.SideSell, pos.Qty, price, spread)
	if order == nil {
		order = &models.OrderRequest{
			Symbol:        sym,
			Side:          models.SideSell,
			Quantity:      pos.Qty,
			Type:          models.OrderTypeMarket,
			ExpectedPrice: price,
		}
	}

	submitted, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("submit exit order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues("sell", string(order.Type)).Inc()

	e.trackWorkingOrder(submitted, sym, order, now)

	retPct := 0.0
	if pos.EntryPrice > 0 {
		retPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	pnlPct := 0.0
	if equity > 0 {
		pnlPct = retPct * (float64(pos.Qty) * price) / equity
	}
	e.riskMgr.RecordTrade(e.state.PortfolioRisk, sym, pnlPct)

	if entry, perr := time.Parse(time.RFC3339, pos.EntryTime); perr == nil && e.sameVenueDay(entry, now) {
		e.pdt.RecordDayTrade(e.state.PDT, now)
	}

	if err := e.tracker.Remove(sym); err != nil {
		return fmt.Errorf("remove from tracker: %w", err)
	}

	e.logger.Printf("[EXIT] %s %s qty %d at %.2f (ret %.2f%%)",
		sym, exit.Reason, pos.Qty, price, retPct)
	return nil
}

// evaluateEntry runs the gate pipeline for one symbol and submits on allow.
// The returned decision is non-nil exactly when an order went out.
func (e *Engine) evaluateEntry(ctx context.Context, now time.Time, sym string, equity, openRiskPct float64, sectorExposure map[string]float64) (*TradeDecision, error) {
	bars, err := e.broker.GetBars(ctx, sym, barTimeframe, barsLimit)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty series for %s", ErrInsufficientBars, sym)
	}

	// A failed quote is not fatal: the spread fallback applies downstream.
	quote, qerr := e.broker.GetLatestQuote(ctx, sym)
	if qerr != nil {
		quote = nil
	}

	decision := e.RunEntryGates(now, EntryContext{
		Symbol:         sym,
		Equity:         equity,
		Bars:           bars,
		Quote:          quote,
		OpenRiskPct:    openRiskPct,
		SectorExposure: sectorExposure,
	})
	if !decision.Allowed {
		if e.verbose {
			e.logger.Printf("[ENTRY] %s vetoed: %s", sym, decision.Reason)
		}
		return nil, nil
	}

	submitted, err := e.broker.SubmitOrder(ctx, decision.Order)
	if err != nil {
		return nil, fmt.Errorf("submit entry order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(
		string(decision.Order.Side.OrderSide()), string(decision.Order.Type)).Inc()

	entryPrice := decision.Order.ExpectedPrice
	if submitted.FilledAvgPrice > 0 {
		entryPrice = submitted.FilledAvgPrice
	}
	e.trackWorkingOrder(submitted, sym, decision.Order, now)

	e.riskMgr.RecordTrade(e.state.PortfolioRisk, sym, 0)

	pos := models.TrackedPosition{
		Qty:        decision.Order.Quantity,
		EntryPrice: entryPrice,
		EntryTime:  now.UTC().Format(time.RFC3339),
		StopPct:    decision.Entry.StopPct,
	}
	if err := e.tracker.Add(sym, pos); err != nil {
		return nil, fmt.Errorf("track position: %w", err)
	}

	e.logger.Printf("[ORDER] %s buy qty %d %s at %.2f (risk %.2f%%)",
		sym, pos.Qty, decision.Order.Type, entryPrice, decision.Sizing.RiskPct)
	return &decision, nil
}

// trackWorkingOrder records the fill when the order completed on submit,
// otherwise parks it for review on later passes. Partial fills are accounted
// once, when the order resolves.
func (e *Engine) trackWorkingOrder(submitted *broker.Order, sym string, req *models.OrderRequest, now time.Time) {
	filled := int(submitted.FilledQty)
	if filled >= req.Quantity && submitted.FilledAvgPrice > 0 {
		e.execMgr.RecordFill(e.state.Execution, sym, req.Side, filled,
			submitted.FilledAvgPrice, req.ExpectedPrice, now)
		return
	}
	e.state.PendingOrders = append(e.state.PendingOrders, PendingOrder{
		ID:            submitted.ID,
		Symbol:        sym,
		Side:          req.Side,
		SubmittedAt:   now,
		ExpectedPrice: req.ExpectedPrice,
	})
}

// reviewPendingOrders resolves orders left working from earlier passes.
// Completed orders land in the fill ledger; partials older than the
// partial-fill timeout are cancel/replaced.
func (e *Engine) reviewPendingOrders(ctx context.Context, now time.Time) {
	if len(e.state.PendingOrders) == 0 {
		return
	}
	still := e.state.PendingOrders[:0]
	for _, p := range e.state.PendingOrders {
		ord, err := e.broker.GetOrder(ctx, p.ID)
		if err != nil {
			e.logger.Printf("[ORDER] %s: check %s: %v", p.Symbol, p.ID, err)
			still = append(still, p)
			continue
		}

		filled := int(ord.FilledQty)
		requested := int(ord.Qty)
		switch ord.Status {
		case "filled":
			if filled > 0 {
				e.execMgr.RecordFill(e.state.Execution, p.Symbol, p.Side, filled,
					ord.FilledAvgPrice, p.ExpectedPrice, now)
			}
			continue
		case "canceled", "expired", "rejected", "done_for_day":
			e.logger.Printf("[ORDER] %s: order %s closed as %s with %d/%d filled",
				p.Symbol, p.ID, ord.Status, filled, requested)
			continue
		}

		if e.execMgr.PartialFillShouldCancelReplace(filled, requested) &&
			now.Sub(p.SubmittedAt) >= e.execMgr.PartialFillTimeout() {
			replacement, err := e.cancelReplace(ctx, now, p, ord)
			if err != nil {
				e.logger.Printf("[ORDER] %s: cancel/replace %s: %v", p.Symbol, p.ID, err)
				still = append(still, p)
			} else if replacement != nil {
				still = append(still, *replacement)
			}
			continue
		}
		still = append(still, p)
	}
	e.state.PendingOrders = still
}

// cancelReplace cancels a stale partial and resubmits the unfilled remainder
// as a market order. The partial fill is recorded against the original
// expected price. Returns the replacement as a new pending order when it did
// not fill on submit.
func (e *Engine) cancelReplace(ctx context.Context, now time.Time, p PendingOrder, ord *broker.Order) (*PendingOrder, error) {
	if err := e.broker.CancelOrder(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	filled := int(ord.FilledQty)
	if filled > 0 {
		e.execMgr.RecordFill(e.state.Execution, p.Symbol, p.Side, filled,
			ord.FilledAvgPrice, p.ExpectedPrice, now)
	}
	remaining := int(ord.Qty) - filled
	if remaining <= 0 {
		return nil, nil
	}

	req := &models.OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Quantity:      remaining,
		Type:          models.OrderTypeMarket,
		ExpectedPrice: p.ExpectedPrice,
	}
	submitted, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("replace: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(p.Side.OrderSide()), string(req.Type)).Inc()
	e.logger.Printf("[ORDER] %s: replaced stale partial %s with market for %d",
		p.Symbol, p.ID, remaining)

	if int(submitted.FilledQty) >= remaining && submitted.FilledAvgPrice > 0 {
		e.execMgr.RecordFill(e.state.Execution, p.Symbol, p.Side, int(submitted.FilledQty),
			submitted.FilledAvgPrice, p.ExpectedPrice, now)
		return nil, nil
	}
	return &PendingOrder{
		ID:            submitted.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		SubmittedAt:   now,
		ExpectedPrice: p.ExpectedPrice,
	}, nil
}

// Run is the control loop: outside tradeable sessions it sleeps until the
// next open; otherwise it runs a pass each check interval. Returns nil once
// ctx is canceled; the in-flight pass always completes first.
func (e *Engine) Run(ctx context.Context) error {
	for {
		now := time.Now()
		if !e.calendar.TradingAllowed(now) {
			next := e.calendar.NextOpen(now)
			e.logger.Printf("[PASS] market closed; sleeping until %s", next.Format(time.RFC3339))
			if !sleepCtx(ctx, time.Until(next)) {
				return nil
			}
			continue
		}

		if err := e.RunPass(ctx, now); err != nil {
			e.logger.Printf("[PASS] error: %v", err)
		}

		if !sleepCtx(ctx, e.cfg.CheckInterval()) {
			return nil
		}
	}
}

// sleepCtx waits for d or cancellation; false means canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
