// Command integration is an offline smoke harness: it seeds a MockBroker
// with a trending series, runs full engine passes, and checks the expected
// decisions without touching any real API. Exit code 0 means every check
// passed.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/config"
	"github.com/hwatkins-dev/trendgate/internal/engine"
	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/tracker"
)

// tradingTime is a Monday 11:00 ET inside the regular session.
var tradingTime = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "integration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("integration: all checks passed")
}

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

func tightQuote(mid float64) *models.Quote {
	half := mid * 0.0005 / 2
	return models.NewQuote(mid-half, mid+half)
}

func newEngine(dir string) (*engine.Engine, *broker.MockBroker, *tracker.Tracker, error) {
	cfg := config.Default()
	cfg.Broker.APIKey = "smoke"
	cfg.Broker.APISecret = "smoke"
	cfg.Strategy.Exits.StopLossPct = 2.5
	cfg.Logging.Verbose = true
	cfg.Engine.TrackerPath = filepath.Join(dir, "positions.json")
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	mock := broker.NewMockBroker()
	trk := tracker.New(cfg.TrackerPath())
	if err := trk.Load(); err != nil {
		return nil, nil, nil, err
	}
	eng, err := engine.New(cfg, mock, trk, log.New(os.Stdout, "", log.LstdFlags))
	return eng, mock, trk, err
}

func run() error {
	dir, err := os.MkdirTemp("", "trendgate-smoke")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	ctx := context.Background()

	// Happy path: uptrend with a pullback to the fast MA enters long.
	eng, mock, trk, err := newEngine(dir)
	if err != nil {
		return err
	}
	bars := trendBars(220, 100, 0.05)
	mid := bars[len(bars)-1].Close
	mock.Bars["SPY"] = bars
	mock.Quotes["SPY"] = tightQuote(mid)

	if err := eng.RunPass(ctx, tradingTime); err != nil {
		return fmt.Errorf("happy-path pass: %w", err)
	}
	if len(mock.Orders) != 1 {
		return fmt.Errorf("happy path: %d orders, want 1", len(mock.Orders))
	}
	if mock.Orders[0].Type != string(models.OrderTypeLimit) {
		return fmt.Errorf("happy path: order type %s, want limit", mock.Orders[0].Type)
	}
	if _, held := trk.Get("SPY"); !held {
		return fmt.Errorf("happy path: position not tracked after fill")
	}
	fmt.Printf("check 1 ok: entered SPY qty %.0f at %.2f\n", mock.Orders[0].Qty, mock.Orders[0].FilledAvgPrice)

	// Spread veto: the same tape with a wide book produces no order.
	eng2, mock2, _, err := newEngine(filepath.Join(dir, "s2"))
	if err != nil {
		return err
	}
	mock2.Bars["SPY"] = bars
	mock2.Quotes["SPY"] = models.NewQuote(mid-0.15, mid+0.15)

	if err := eng2.RunPass(ctx, tradingTime); err != nil {
		return fmt.Errorf("spread-veto pass: %w", err)
	}
	if len(mock2.Orders) != 0 {
		return fmt.Errorf("spread veto: %d orders, want 0", len(mock2.Orders))
	}
	fmt.Println("check 2 ok: wide spread vetoed the entry")

	// Stop loss: a tracked position 6% underwater exits on the next pass.
	// The tape goes flat so the signal gate vetoes an immediate re-entry.
	mock.Bars["SPY"] = trendBars(220, 100, 0)
	mock.Quotes["SPY"] = tightQuote(mid * 0.94)
	if err := eng.RunPass(ctx, tradingTime.AddDate(0, 0, 1)); err != nil {
		return fmt.Errorf("stop-loss pass: %w", err)
	}
	if _, held := trk.Get("SPY"); held {
		return fmt.Errorf("stop loss: position still tracked")
	}
	last := mock.Orders[len(mock.Orders)-1]
	if last.Side != "sell" {
		return fmt.Errorf("stop loss: last order side %s, want sell", last.Side)
	}
	fmt.Println("check 3 ok: stop loss closed the position")

	return nil
}
