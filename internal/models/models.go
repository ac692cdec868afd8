// Package models defines the value objects shared across the engine:
// bars, quotes, entry/exit signals, order requests, fill reports, and the
// durable tracked position. All of them are created per decision and owned
// by the caller; none carry internal synchronization.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is an order or signal direction. Orders use buy/sell, strategy
// signals use long/short. Comparisons are case-insensitive via Is.
type Side string

const (
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Is reports whether s equals other, ignoring case.
func (s Side) Is(other Side) bool {
	return strings.EqualFold(string(s), string(other))
}

// OrderSide maps a signal side (long/short) to the order side used to open it.
func (s Side) OrderSide() Side {
	if s.Is(SideShort) {
		return SideSell
	}
	return SideBuy
}

// OrderType is the order kind submitted to the broker.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// ExitReason identifies which exit rule fired for an open position.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeBars   ExitReason = "time_bars"
	ExitKillSwitch ExitReason = "kill_switch"
	ExitSignalExit ExitReason = "signal_exit"
)

// Bar is one OHLCV record at the series timeframe (daily or 1-minute).
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Validate checks the OHLC ordering invariant and non-negative volume.
func (b Bar) Validate() error {
	lo, hi := b.Open, b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Close > hi {
		hi = b.Close
	}
	if b.Low > lo {
		return fmt.Errorf("bar %s: low %.4f above body low %.4f", b.Time.Format("2006-01-02"), b.Low, lo)
	}
	if b.High < hi {
		return fmt.Errorf("bar %s: high %.4f below body high %.4f", b.Time.Format("2006-01-02"), b.High, hi)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %.0f", b.Time.Format("2006-01-02"), b.Volume)
	}
	return nil
}

// Quote is a top-of-book snapshot with derived mid and spread.
type Quote struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Mid       float64 `json:"mid"`
	SpreadPct float64 `json:"spread_pct"`
}

// NewQuote derives mid and spread from a bid/ask pair. Returns nil when the
// book is crossed or either side is missing; callers treat nil as "no quote".
func NewQuote(bid, ask float64) *Quote {
	if bid <= 0 || ask <= 0 || ask < bid {
		return nil
	}
	mid := (bid + ask) / 2
	return &Quote{
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		SpreadPct: (ask - bid) / mid * 100,
	}
}

// EntrySignal is emitted by the strategy when all entry conditions pass.
// TakeProfitPct of zero means no profit target is armed.
type EntrySignal struct {
	Symbol        string
	Side          Side
	Strength      float64
	StopPct       float64
	TakeProfitPct float64
	TimeBarsExit  int
	Metadata      map[string]float64
}

// ExitSignal is emitted by the exit state machine; Reason identifies the
// first rule that fired.
type ExitSignal struct {
	Symbol   string
	Reason   ExitReason
	Metadata map[string]float64
}

// OrderRequest describes an order to submit. LIMIT orders carry a positive
// limit price; ExpectedPrice is the mid at decision time and feeds slippage
// accounting once the fill comes back.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      int
	Type          OrderType
	LimitPrice    float64
	ExpectedPrice float64
}

// Validate enforces the order invariants before submission.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order: empty symbol")
	}
	if !o.Side.Is(SideBuy) && !o.Side.Is(SideSell) {
		return fmt.Errorf("order %s: side %q is not buy/sell", o.Symbol, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity %d must be positive", o.Symbol, o.Quantity)
	}
	if o.Type == OrderTypeLimit && o.LimitPrice <= 0 {
		return fmt.Errorf("order %s: limit order without positive limit price", o.Symbol)
	}
	return nil
}

// FillReport records an executed order against its expected price.
// SlippageBps is sign-normalized by side: positive means worse than expected.
type FillReport struct {
	Symbol        string
	Side          Side
	Quantity      int
	FillPrice     float64
	ExpectedPrice float64
	SlippageBps   float64
	Timestamp     time.Time
}

// TrackedPosition is the durable per-symbol entry record the exit logic
// needs across restarts. EntryTime is ISO-8601 UTC; unknown JSON keys in the
// tracker file are ignored on load.
type TrackedPosition struct {
	Qty        int     `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	EntryTime  string  `json:"entry_time"`
	StopPct    float64 `json:"stop_pct"`
}
