// Package patterns implements candlestick predicates over OHLC bars.
// All functions evaluate the latest bar of the series and are pure.
package patterns

import (
	"strings"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// dojiBodyRatio is the body/range ceiling used by the "doji" registry entry.
const dojiBodyRatio = 0.15

func body(b models.Bar) float64 {
	d := b.Close - b.Open
	if d < 0 {
		return -d
	}
	return d
}

func upperWick(b models.Bar) float64 {
	top := b.Open
	if b.Close > top {
		top = b.Close
	}
	return b.High - top
}

func lowerWick(b models.Bar) float64 {
	bottom := b.Open
	if b.Close < bottom {
		bottom = b.Close
	}
	return bottom - b.Low
}

func barRange(b models.Bar) float64 {
	r := b.High - b.Low
	if r > 0 {
		return r
	}
	return 1e-9
}

// Bullish reports whether the bar closed above its open.
func Bullish(b models.Bar) bool { return b.Close > b.Open }

// Bearish reports whether the bar closed below its open.
func Bearish(b models.Bar) bool { return b.Close < b.Open }

// BullishEngulfing matches when the latest bar is bullish and its body
// engulfs the previous (bearish) bar's body. A common reversal signal after
// a dip.
func BullishEngulfing(bars []models.Bar) bool {
	if len(bars) < 2 {
		return false
	}
	curr := bars[len(bars)-1]
	prev := bars[len(bars)-2]
	if !Bullish(curr) || !Bearish(prev) {
		return false
	}
	return curr.Close >= prev.Open && curr.Open <= prev.Close
}

// Hammer matches a bullish bar with a small body at the top and a long lower
// wick: lower wick at least twice the body, upper wick at most half of it.
func Hammer(bars []models.Bar) bool {
	if len(bars) < 1 {
		return false
	}
	b := bars[len(bars)-1]
	bodySize := body(b)
	if bodySize <= 0 {
		return false
	}
	return Bullish(b) &&
		lowerWick(b) >= bodySize*2.0 &&
		upperWick(b) <= bodySize*0.5
}

// DojiNearSupport matches a bar whose body is a small fraction of its range,
// meaning open and close are nearly equal.
func DojiNearSupport(bars []models.Bar, bodyRatio float64) bool {
	if len(bars) < 1 {
		return false
	}
	b := bars[len(bars)-1]
	return body(b)/barRange(b) <= bodyRatio
}

// registry maps configured pattern names to their predicates. The set is
// closed; unrecognized names never match.
var registry = map[string]func([]models.Bar) bool{
	"bullish_engulfing": BullishEngulfing,
	"hammer":            Hammer,
	"doji": func(bars []models.Bar) bool {
		return DojiNearSupport(bars, dojiBodyRatio)
	},
}

// DetectAny reports whether any named pattern matches the latest bar.
// An empty pattern list is vacuously true so that a disabled or unconfigured
// filter never blocks entries.
func DetectAny(bars []models.Bar, names []string) bool {
	if len(names) == 0 || len(bars) < 1 {
		return true
	}
	for _, name := range names {
		fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
		if ok && fn(bars) {
			return true
		}
	}
	return false
}
