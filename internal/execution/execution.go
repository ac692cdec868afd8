// Package execution owns order hygiene: the spread gate, limit/market order
// construction, fill and slippage accounting, and the strategy circuit
// breaker that latches once average slippage degrades past the threshold.
package execution

import (
	"fmt"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/util"
)

// tickSize is the US equity price increment used for limit offsets.
const tickSize = 0.01

// Config is the execution section of the configuration.
type Config struct {
	PreferLimitOrders                    bool    `yaml:"prefer_limit_orders"`
	LimitOrderOffsetTicks                int     `yaml:"limit_order_offset_ticks"`
	MaxSpreadPctToTrade                  float64 `yaml:"max_spread_pct_to_trade"`
	PartialFillTimeoutSeconds            int     `yaml:"partial_fill_timeout_seconds"`
	CancelReplaceOnPartial               bool    `yaml:"cancel_replace_on_partial"`
	MaxSlippageBps                       float64 `yaml:"max_slippage_bps"`
	BlockStrategyIfSlippageBpsAvgExceeds float64 `yaml:"block_strategy_if_slippage_bps_avg_exceeds"`
}

// DefaultConfig prefers limit orders one tick inside the mid and blocks the
// strategy once average slippage exceeds 25 bps.
func DefaultConfig() Config {
	return Config{
		PreferLimitOrders:                    true,
		LimitOrderOffsetTicks:                1,
		MaxSpreadPctToTrade:                  0.10,
		PartialFillTimeoutSeconds:            30,
		CancelReplaceOnPartial:               true,
		MaxSlippageBps:                       10,
		BlockStrategyIfSlippageBpsAvgExceeds: 25,
	}
}

// State is the execution ledger: fill history, running slippage average, and
// the latched strategy block. Owned by the engine; mutated only here.
type State struct {
	FillHistory            []models.FillReport
	StrategySlippageBpsAvg float64
	StrategyBlocked        bool
}

// NewState returns an empty execution ledger.
func NewState() *State { return &State{} }

// Manager applies the execution rules.
type Manager struct {
	cfg Config
}

// New returns a Manager with the given settings.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// SlippageBps is the signed fill deviation in basis points, sign-normalized
// by side: buys above expected and sells below expected are positive (bad).
func SlippageBps(side models.Side, fillPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0
	}
	if side.Is(models.SideBuy) {
		return (fillPrice - expectedPrice) / expectedPrice * 10_000
	}
	return (expectedPrice - fillPrice) / expectedPrice * 10_000
}

// CanTradeSpread allows a trade only when the spread is within the ceiling.
func (m *Manager) CanTradeSpread(spreadPct float64) (bool, string) {
	if spreadPct > m.cfg.MaxSpreadPctToTrade {
		return false, fmt.Sprintf("spread %.4f%% > max %g%%", spreadPct, m.cfg.MaxSpreadPctToTrade)
	}
	return true, "ok"
}

// BuildOrder constructs the order for a decision. Returns nil when the
// spread gate fails. Limit orders are placed offset_ticks inside the mid
// (below for buys, above for sells); market orders carry only the expected
// price for slippage accounting.
func (m *Manager) BuildOrder(symbol string, side models.Side, quantity int, midPrice, spreadPct float64) *models.OrderRequest {
	if allowed, _ := m.CanTradeSpread(spreadPct); !allowed {
		return nil
	}

	if m.cfg.PreferLimitOrders {
		offset := float64(m.cfg.LimitOrderOffsetTicks) * tickSize
		var limitPrice float64
		if side.Is(models.SideBuy) {
			limitPrice = util.RoundCents(midPrice - offset)
		} else {
			limitPrice = util.RoundCents(midPrice + offset)
		}
		return &models.OrderRequest{
			Symbol:        symbol,
			Side:          side,
			Quantity:      quantity,
			Type:          models.OrderTypeLimit,
			LimitPrice:    limitPrice,
			ExpectedPrice: midPrice,
		}
	}
	return &models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Type:          models.OrderTypeMarket,
		ExpectedPrice: midPrice,
	}
}

// RecordFill appends a fill report, recomputes the running slippage average
// over all fills, and latches the strategy block once the average crosses
// the threshold. The latch is never cleared here.
func (m *Manager) RecordFill(s *State, symbol string, side models.Side, quantity int, fillPrice, expectedPrice float64, at time.Time) {
	s.FillHistory = append(s.FillHistory, models.FillReport{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		FillPrice:     fillPrice,
		ExpectedPrice: expectedPrice,
		SlippageBps:   SlippageBps(side, fillPrice, expectedPrice),
		Timestamp:     at,
	})

	sum := 0.0
	for _, f := range s.FillHistory {
		sum += f.SlippageBps
	}
	s.StrategySlippageBpsAvg = sum / float64(len(s.FillHistory))
	if s.StrategySlippageBpsAvg > m.cfg.BlockStrategyIfSlippageBpsAvgExceeds {
		s.StrategyBlocked = true
	}
}

// ShouldBlockStrategy reports the latched circuit-breaker.
func (m *Manager) ShouldBlockStrategy(s *State) bool {
	return s.StrategyBlocked
}

// PartialFillShouldCancelReplace decides whether a partially filled order
// should be cancel/replaced once the partial-fill timeout has elapsed.
func (m *Manager) PartialFillShouldCancelReplace(filledQty, requestedQty int) bool {
	if !m.cfg.CancelReplaceOnPartial {
		return false
	}
	return filledQty > 0 && filledQty < requestedQty
}

// PartialFillTimeout is the wall-clock wait before the cancel/replace
// decision applies.
func (m *Manager) PartialFillTimeout() time.Duration {
	return time.Duration(m.cfg.PartialFillTimeoutSeconds) * time.Second
}
