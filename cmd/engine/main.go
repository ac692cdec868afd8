// Command engine runs the trading decision engine and its ops surfaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hwatkins-dev/trendgate/internal/broker"
	"github.com/hwatkins-dev/trendgate/internal/config"
	"github.com/hwatkins-dev/trendgate/internal/engine"
	"github.com/hwatkins-dev/trendgate/internal/status"
	"github.com/hwatkins-dev/trendgate/internal/tracker"
)

// version is set by the build via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "engine",
		Short:         "Automated equity-trading decision engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newSummaryCmd(), newStatusCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildBroker assembles the Alpaca client with the circuit breaker in front.
func buildBroker(cfg *config.Config) broker.Interface {
	return broker.NewBreakerBroker(broker.NewAlpacaClient(cfg.Broker))
}

func newRunCmd() *cobra.Command {
	var configPath string
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := log.New(os.Stdout, "", log.LstdFlags)
			logger.Printf("starting engine %s in %s mode (paper=%v)",
				version, cfg.Environment.Mode, cfg.Broker.Paper)

			trk := tracker.New(cfg.TrackerPath())
			if err := trk.Load(); err != nil {
				return fmt.Errorf("load tracker: %w", err)
			}

			eng, err := engine.New(cfg, buildBroker(cfg), trk, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eng.Reconcile(ctx); err != nil {
				logger.Printf("[RECONCILE] warning: %v", err)
			}

			if once {
				return eng.RunPass(ctx, time.Now())
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return eng.Run(gctx) })

			if cfg.Status.Enabled {
				srv := status.NewServer(cfg.Status, eng.Snapshot, eng.Positions, newLogrus(cfg))
				g.Go(func() error {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Printf("engine stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	cmd.Flags().BoolVar(&once, "once", false, "run a single decision pass and exit")
	return cmd
}

func newLogrus(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session state, next open, and tracked positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			trk := tracker.New(cfg.TrackerPath())
			if err := trk.Load(); err != nil {
				return fmt.Errorf("load tracker: %w", err)
			}
			eng, err := engine.New(cfg, broker.NewMockBroker(), trk, log.New(os.Stderr, "", 0))
			if err != nil {
				return err
			}

			now := time.Now()
			cal := eng.Calendar()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "time:          %s\n", now.In(cal.Location()).Format(time.RFC3339))
			fmt.Fprintf(out, "session:       %s\n", cal.SessionAt(now))
			fmt.Fprintf(out, "tradeable:     %v\n", cal.TradingAllowed(now))
			fmt.Fprintf(out, "next open:     %s\n", cal.NextOpen(now).Format(time.RFC3339))
			fmt.Fprintf(out, "universe:      %v\n", cfg.Universe.Symbols)
			fmt.Fprintf(out, "risk/trade:    %g%%\n", cfg.PositionSizing.RiskPerTradePct)
			fmt.Fprintf(out, "stop loss:     %g%%\n", cfg.Strategy.Exits.StopLossPct)
			fmt.Fprintf(out, "check every:   %s\n", cfg.CheckInterval())

			positions := trk.All()
			fmt.Fprintf(out, "tracked positions: %d\n", len(positions))
			for sym, pos := range positions {
				fmt.Fprintf(out, "  %-6s qty %-6d entry %.2f since %s stop %g%%\n",
					sym, pos.Qty, pos.EntryPrice, pos.EntryTime, pos.StopPct)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
