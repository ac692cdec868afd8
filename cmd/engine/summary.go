package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/execution"
	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/tracker"
)

func newSummaryCmd() *cobra.Command {
	var configPath string
	var dateStr string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the daily account and order recap",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			date := time.Now()
			if dateStr != "" {
				date, err = time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", dateStr, err)
				}
			}

			trk := tracker.New(cfg.TrackerPath())
			if err := trk.Load(); err != nil {
				return fmt.Errorf("load tracker: %w", err)
			}

			return printSummary(cmd.Context(), cmd.OutOrStdout(), buildBroker(cfg), trk, date)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	cmd.Flags().StringVar(&dateStr, "date", "", "summary date (YYYY-MM-DD, default today)")
	return cmd
}

func printSummary(ctx context.Context, out io.Writer, brk broker.Interface, trk *tracker.Tracker, date time.Time) error {
	equity, err := brk.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("get equity: %w", err)
	}
	buyingPower, err := brk.GetBuyingPower(ctx)
	if err != nil {
		return fmt.Errorf("get buying power: %w", err)
	}

	fmt.Fprintf(out, "=== Daily Summary %s ===\n", date.Format("2006-01-02"))
	fmt.Fprintf(out, "equity:        $%.2f\n", equity)
	fmt.Fprintf(out, "buying power:  $%.2f\n", buyingPower)

	orders, err := brk.GetOrdersForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("get orders: %w", err)
	}
	fmt.Fprintf(out, "orders:        %d\n", len(orders))
	for _, o := range orders {
		line := fmt.Sprintf("  %-6s %-4s qty %-6.0f %-7s %s", o.Symbol, o.Side, o.Qty, o.Status, o.SubmittedAt.Format("15:04:05"))
		if o.FilledAvgPrice > 0 {
			line += fmt.Sprintf(" filled %.2f", o.FilledAvgPrice)
			if o.LimitPrice > 0 {
				bps := execution.SlippageBps(models.Side(o.Side), o.FilledAvgPrice, o.LimitPrice)
				line += fmt.Sprintf(" (%+.1f bps vs limit)", bps)
			}
		}
		fmt.Fprintln(out, line)
	}

	positions, err := brk.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	fmt.Fprintf(out, "open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Fprintf(out, "  %-6s qty %-6.0f entry %.2f value %.2f unrealized %+.2f\n",
			p.Symbol, p.Qty, p.AvgEntry, p.MarketValue, p.UnrealizedPL)
	}

	tracked := trk.All()
	fmt.Fprintf(out, "tracked:        %d\n", len(tracked))
	for sym, pos := range tracked {
		fmt.Fprintf(out, "  %-6s qty %-6d entry %.2f since %s\n", sym, pos.Qty, pos.EntryPrice, pos.EntryTime)
	}
	return nil
}
