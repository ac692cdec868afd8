// Package sizing converts an entry signal into a share count so that each
// trade risks a fixed fraction of equity, then applies per-symbol, high
// volatility, and per-sector exposure caps.
package sizing

import (
	"fmt"
	"math"
)

// HighVolConfig is the position_sizing.high_vol_reduction section.
type HighVolConfig struct {
	Enabled         bool    `yaml:"enabled"`
	ATRPctThreshold float64 `yaml:"atr_pct_threshold"`
	SizeMultiplier  float64 `yaml:"size_multiplier"`
}

// Config is the position_sizing section of the configuration.
type Config struct {
	RiskPerTradePct         float64       `yaml:"risk_per_trade_pct"`
	MaxOpenRiskPct          float64       `yaml:"max_open_risk_pct"`
	MaxExposurePerSymbolPct float64       `yaml:"max_exposure_per_symbol_pct"`
	MaxExposurePerSectorPct float64       `yaml:"max_exposure_per_sector_pct"`
	HighVolReduction        HighVolConfig `yaml:"high_vol_reduction"`
}

// DefaultConfig returns the stock risk budget: 0.5% per trade, 3% aggregate
// open risk, 20% per symbol, 40% per sector.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:         0.5,
		MaxOpenRiskPct:          3.0,
		MaxExposurePerSymbolPct: 20.0,
		MaxExposurePerSectorPct: 40.0,
		HighVolReduction: HighVolConfig{
			Enabled:         false,
			ATRPctThreshold: 2.0,
			SizeMultiplier:  0.5,
		},
	}
}

// Result is the sizing outcome. Shares is zero exactly when RejectReason is
// set; a rejected sizing carries no notional or risk.
type Result struct {
	Shares       int
	Notional     float64
	RiskAmount   float64
	RiskPct      float64
	RejectReason string
}

func reject(reason string) Result { return Result{RejectReason: reason} }

// OpenPosition is the per-position input to the aggregate open-risk sum.
type OpenPosition struct {
	Notional float64
	StopPct  float64
}

// Sizer computes risk-based position sizes. Stateless; safe for concurrent use.
type Sizer struct {
	cfg Config
}

// New returns a Sizer with the given limits.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// MaxOpenRiskPct exposes the aggregate cap for veto reason strings.
func (s *Sizer) MaxOpenRiskPct() float64 { return s.cfg.MaxOpenRiskPct }

// SizePosition computes the share count so that a stop-out loses
// risk_per_trade_pct of equity, then applies the symbol exposure cap, the
// optional high-volatility reduction, and the sector exposure cap. atrPct is
// optional; nil skips the high-volatility check.
func (s *Sizer) SizePosition(
	equity, price, stopDistancePct float64,
	symbol string,
	sectorExposurePct map[string]float64,
	symbolSector map[string]string,
	atrPct *float64,
) Result {
	riskAmount := equity * s.cfg.RiskPerTradePct / 100
	if stopDistancePct <= 0 {
		return reject("invalid stop_distance_pct")
	}

	riskPerShare := price * stopDistancePct / 100
	if riskPerShare <= 0 {
		return reject("risk_per_share <= 0")
	}

	sharesByRisk := int(riskAmount / riskPerShare)
	if sharesByRisk <= 0 {
		return reject("shares <= 0 (risk too small vs stop)")
	}

	// Symbol exposure cap: down-size rather than reject.
	maxNotional := equity * s.cfg.MaxExposurePerSymbolPct / 100
	var shares int
	var notional, riskPct float64
	if float64(sharesByRisk)*price > maxNotional {
		shares = int(maxNotional / price)
		if shares <= 0 {
			return reject("exposure cap yields zero shares")
		}
		notional = float64(shares) * price
		riskAmount = float64(shares) * riskPerShare
		riskPct = riskAmount / equity * 100
	} else {
		shares = sharesByRisk
		notional = float64(shares) * price
		riskPct = s.cfg.RiskPerTradePct
	}

	// Size down in high-volatility regimes, but never below one share.
	hv := s.cfg.HighVolReduction
	if hv.Enabled && atrPct != nil && *atrPct > hv.ATRPctThreshold {
		shares = int(math.Max(1, math.Floor(float64(shares)*hv.SizeMultiplier)))
		notional = float64(shares) * price
		riskAmount = float64(shares) * riskPerShare
		riskPct = riskAmount / equity * 100
	}

	sector := "unknown"
	if symbolSector != nil {
		if sec, ok := symbolSector[symbol]; ok {
			sector = sec
		}
	}
	exposurePct := notional / equity * 100
	if sectorExposurePct[sector]+exposurePct > s.cfg.MaxExposurePerSectorPct {
		return reject(fmt.Sprintf("sector %s would exceed %g%%", sector, s.cfg.MaxExposurePerSectorPct))
	}

	return Result{
		Shares:     shares,
		Notional:   notional,
		RiskAmount: riskAmount,
		RiskPct:    riskPct,
	}
}

// TotalOpenRiskPct sums each open position's stop-out loss as a percentage
// of equity.
func (s *Sizer) TotalOpenRiskPct(equity float64, positions []OpenPosition) float64 {
	if equity <= 0 {
		return 0
	}
	total := 0.0
	for _, p := range positions {
		total += p.Notional * (p.StopPct / 100) / equity * 100
	}
	return total
}

// WouldExceedMaxOpenRisk reports whether adding newTradeRiskPct to the
// current aggregate would break the cap.
func (s *Sizer) WouldExceedMaxOpenRisk(currentOpenRiskPct, newTradeRiskPct float64) bool {
	return currentOpenRiskPct+newTradeRiskPct > s.cfg.MaxOpenRiskPct
}
