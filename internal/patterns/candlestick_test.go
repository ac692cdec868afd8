package patterns

import (
	"testing"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

func bar(open, high, low, close float64) models.Bar {
	return models.Bar{Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

func TestBullishEngulfing(t *testing.T) {
	tests := []struct {
		name string
		bars []models.Bar
		want bool
	}{
		{
			"classic engulfing",
			[]models.Bar{bar(102, 103, 99, 100), bar(99.5, 103.5, 99, 102.5)},
			true,
		},
		{
			"current bearish",
			[]models.Bar{bar(102, 103, 99, 100), bar(102.5, 103.5, 99, 99.5)},
			false,
		},
		{
			"previous bullish",
			[]models.Bar{bar(100, 103, 99, 102), bar(99.5, 103.5, 99, 102.5)},
			false,
		},
		{
			"body not engulfed",
			[]models.Bar{bar(102, 103, 99, 100), bar(100.5, 103.5, 99, 101.5)},
			false,
		},
		{
			"single bar",
			[]models.Bar{bar(99.5, 103.5, 99, 102.5)},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BullishEngulfing(tt.bars); got != tt.want {
				t.Errorf("BullishEngulfing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHammer(t *testing.T) {
	tests := []struct {
		name string
		b    models.Bar
		want bool
	}{
		// body 1, lower wick 3, upper wick 0.2
		{"classic hammer", bar(100, 101.2, 97, 101), true},
		// bearish body disqualifies
		{"bearish body", bar(101, 101.2, 97, 100), false},
		// lower wick too short: body 1, lower 1
		{"short lower wick", bar(100, 101.2, 99, 101), false},
		// upper wick too long: body 1, upper 1
		{"long upper wick", bar(100, 102, 97, 101), false},
		{"zero body", bar(100, 101, 99, 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hammer([]models.Bar{tt.b}); got != tt.want {
				t.Errorf("Hammer(%+v) = %v, want %v", tt.b, got, tt.want)
			}
		})
	}
}

func TestDojiNearSupport(t *testing.T) {
	// body 0.1, range 2 -> ratio 0.05
	if !DojiNearSupport([]models.Bar{bar(100, 101, 99, 100.1)}, 0.15) {
		t.Error("small body should be a doji")
	}
	// body 1, range 2 -> ratio 0.5
	if DojiNearSupport([]models.Bar{bar(100, 101.5, 99.5, 101)}, 0.15) {
		t.Error("large body should not be a doji")
	}
}

func TestDetectAny(t *testing.T) {
	hammerBars := []models.Bar{bar(100, 101.2, 97, 101)}

	tests := []struct {
		name     string
		bars     []models.Bar
		patterns []string
		want     bool
	}{
		{"empty list vacuously true", hammerBars, nil, true},
		{"hammer matches", hammerBars, []string{"hammer"}, true},
		{"case and spacing tolerated", hammerBars, []string{" Hammer "}, true},
		{"no match", hammerBars, []string{"bullish_engulfing"}, false},
		{"unknown name never matches", hammerBars, []string{"shooting_star"}, false},
		{"any of several", hammerBars, []string{"bullish_engulfing", "hammer"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectAny(tt.bars, tt.patterns); got != tt.want {
				t.Errorf("DetectAny(%v) = %v, want %v", tt.patterns, got, tt.want)
			}
		})
	}
}
