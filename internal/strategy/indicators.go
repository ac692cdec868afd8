package strategy

import (
	"math"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// TrueRange is max(H-L, |H-prevClose|, |L-prevClose|).
func TrueRange(cur, prev models.Bar) float64 {
	tr := cur.High - cur.Low
	if v := math.Abs(cur.High - prev.Close); v > tr {
		tr = v
	}
	if v := math.Abs(cur.Low - prev.Close); v > tr {
		tr = v
	}
	return tr
}

// ATR is the rolling mean of true range over the trailing period bars.
// Returns 0 when the series is too short (period+1 bars are needed for the
// first true range).
func ATR(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}

// ATRPct is ATR expressed as a percentage of the latest close.
func ATRPct(bars []models.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	close := bars[len(bars)-1].Close
	if close <= 0 {
		return 0
	}
	return ATR(bars, period) / close * 100
}

// ATRMultiple is the latest bar's true range relative to trailing ATR,
// a dimensionless spike measure near 1.0 in calm tape. Returns 0 when ATR
// is unavailable.
func ATRMultiple(bars []models.Bar, period int) float64 {
	if len(bars) < 2 {
		return 0
	}
	atr := ATR(bars, period)
	if atr <= 0 {
		return 0
	}
	return TrueRange(bars[len(bars)-1], bars[len(bars)-2]) / atr
}

// SMA is the simple moving average of the trailing period values.
// Returns 0 when the series is too short.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// Closes extracts the close column.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
