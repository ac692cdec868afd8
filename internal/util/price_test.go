package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"round down", 1.2344, 0.01, 1.23},
		{"round up", 1.2355, 0.01, 1.24},
		{"exact", 1.23, 0.01, 1.23},
		{"nickel tick", 10.12, 0.05, 10.10},
		{"zero tick passthrough", 1.2345, 0, 1.2345},
		{"negative tick passthrough", 1.2345, -0.01, 1.2345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToTick(tt.x, tt.tick)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
			}
		})
	}
}

func TestRoundCents(t *testing.T) {
	if got := RoundCents(100.456); math.Abs(got-100.46) > 1e-9 {
		t.Errorf("RoundCents(100.456) = %v, want 100.46", got)
	}
}
