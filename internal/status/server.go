// Package status serves the engine's HTTP surface: health, a JSON status
// snapshot, tracked positions, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// Config is the status section of the configuration. The server is off by
// default; enabling it without a listen address is a config error.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// DefaultConfig serves on localhost only, disabled, with no auth token.
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		ListenAddr: "127.0.0.1:9090",
	}
}

// Snapshot is the engine state reported by /api/status.
type Snapshot struct {
	Equity               float64   `json:"equity"`
	PeakEquity           float64   `json:"peak_equity"`
	DrawdownPct          float64   `json:"drawdown_pct"`
	DailyPnLPct          float64   `json:"daily_pnl_pct"`
	DailyTradeCount      int       `json:"daily_trade_count"`
	SafeMode             bool      `json:"safe_mode"`
	TradingStoppedForDay bool      `json:"trading_stopped_for_day"`
	StrategyBlocked      bool      `json:"strategy_blocked"`
	OpenPositions        int       `json:"open_positions"`
	LastPass             time.Time `json:"last_pass"`
}

// SnapshotFunc supplies the current engine snapshot.
type SnapshotFunc func() Snapshot

// PositionsFunc supplies the tracked positions keyed by symbol.
type PositionsFunc func() map[string]models.TrackedPosition

// Server is the HTTP status server.
type Server struct {
	router    chi.Router
	server    *http.Server
	logger    *logrus.Logger
	addr      string
	authToken string
	snapshot  SnapshotFunc
	positions PositionsFunc
}

// NewServer wires the routes. snapshot and positions must be safe to call
// from the serving goroutine.
func NewServer(cfg Config, snapshot SnapshotFunc, positions PositionsFunc, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		addr:      cfg.ListenAddr,
		authToken: cfg.AuthToken,
		snapshot:  snapshot,
		positions: positions,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/positions", s.handlePositions)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.WithError(err).Error("Failed to encode status snapshot")
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.positions()); err != nil {
		s.logger.WithError(err).Error("Failed to encode positions")
	}
}
