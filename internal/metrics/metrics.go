// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors are registered on the default registry at init and served by
// the status server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// GateVetoes counts entry-gate vetoes by gate name.
	GateVetoes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_gate_veto_total",
		Help: "Entry pipeline vetoes by gate.",
	}, []string{"gate"})

	// OrdersSubmitted counts orders handed to the broker.
	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_orders_submitted_total",
		Help: "Orders submitted to the broker by side and type.",
	}, []string{"side", "type"})

	// Equity is the last observed account equity.
	Equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_equity_dollars",
		Help: "Current account equity in dollars.",
	})

	// Drawdown is the current decline from peak equity, zero or negative.
	Drawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_drawdown_pct",
		Help: "Current drawdown from peak equity in percent.",
	})

	// PassDuration observes wall-clock time per decision pass.
	PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_pass_duration_seconds",
		Help:    "Duration of one decision pass over the universe.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// SafeMode is 1 while the max-drawdown safe mode is latched.
	SafeMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_safe_mode",
		Help: "1 while safe mode is latched, else 0.",
	})

	// DayTradesInWindow is the rolling day-trade count the PDT rule sees.
	DayTradesInWindow = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_day_trades_window",
		Help: "Day trades counted in the rolling PDT window.",
	})
)

func init() {
	prometheus.MustRegister(
		GateVetoes,
		OrdersSubmitted,
		Equity,
		Drawdown,
		PassDuration,
		SafeMode,
		DayTradesInWindow,
	)
}

// SetBool maps a latch to the 0/1 gauge convention.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
