// Package broker provides brokerage API clients for account data, market
// data, and order submission. It includes the Alpaca implementation plus a
// circuit-breaker decorator and a mock for tests.
package broker

import (
	"context"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// Position is an open holding as reported by the brokerage.
type Position struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty,string"`
	AvgEntry     float64 `json:"avg_entry_price,string"`
	MarketValue  float64 `json:"market_value,string"`
	CostBasis    float64 `json:"cost_basis,string"`
	UnrealizedPL float64 `json:"unrealized_pl,string"`
	Side         string  `json:"side"`
}

// Order is an order record as reported by the brokerage.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Qty            float64    `json:"qty,string"`
	FilledQty      float64    `json:"filled_qty,string"`
	FilledAvgPrice float64    `json:"filled_avg_price,string"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	LimitPrice     float64    `json:"limit_price,string"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

// Interface is the brokerage surface the engine depends on. Implementations
// must be safe for concurrent use.
type Interface interface {
	// Account operations
	GetEquity(ctx context.Context) (float64, error)
	GetBuyingPower(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)

	// Market data
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error)
	GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// Orders
	SubmitOrder(ctx context.Context, req *models.OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrdersForDate(ctx context.Context, date time.Time) ([]Order, error)
}

// Config is the broker section of the configuration. Credentials normally
// come from the environment and override the file.
type Config struct {
	Firm                 string `yaml:"firm"`
	Paper                bool   `yaml:"paper"`
	DataFeed             string `yaml:"data_feed"`
	CheckIntervalMinutes int    `yaml:"check_interval_minutes"`
	APIRetryTimes        int    `yaml:"api_retry_times"`
	APIRetryDelaySec     int    `yaml:"api_retry_delay_sec"`
	APIKey               string `yaml:"api_key"`
	APISecret            string `yaml:"api_secret"`
	BaseURL              string `yaml:"base_url"`
	DataBaseURL          string `yaml:"data_base_url"`
}

// DefaultConfig points at the Alpaca paper endpoint with the free IEX feed.
func DefaultConfig() Config {
	return Config{
		Firm:                 "alpaca",
		Paper:                true,
		DataFeed:             "iex",
		CheckIntervalMinutes: 5,
		APIRetryTimes:        3,
		APIRetryDelaySec:     2,
	}
}
