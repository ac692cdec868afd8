package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// BreakerBroker wraps another broker with a circuit breaker so a flapping
// API fails fast instead of stalling every pass.
type BreakerBroker struct {
	broker  Interface
	breaker *gobreaker.CircuitBreaker
}

var _ Interface = (*BreakerBroker)(nil)

// BreakerSettings configures circuit-breaker behavior.
type BreakerSettings struct {
	MaxRequests  uint32        // max requests when half-open
	Interval     time.Duration // counts reset interval
	Timeout      time.Duration // open-circuit duration
	MinRequests  uint32        // min requests before tripping
	FailureRatio float64       // failure ratio threshold
}

// NewBreakerBroker wraps broker with default settings: trip at a 60% failure
// rate over at least 5 requests, stay open for 30 seconds.
func NewBreakerBroker(broker Interface) *BreakerBroker {
	return NewBreakerBrokerWithSettings(broker, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewBreakerBrokerWithSettings wraps broker with custom settings.
func NewBreakerBrokerWithSettings(broker Interface, settings BreakerSettings) *BreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[broker] circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &BreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit-breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Interface,
	fn func(Interface) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func (c *BreakerBroker) GetEquity(ctx context.Context) (float64, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) (float64, error) { return b.GetEquity(ctx) })
}

func (c *BreakerBroker) GetBuyingPower(ctx context.Context) (float64, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) (float64, error) { return b.GetBuyingPower(ctx) })
}

func (c *BreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) ([]Position, error) { return b.GetPositions(ctx) })
}

func (c *BreakerBroker) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) ([]models.Bar, error) {
		return b.GetBars(ctx, symbol, timeframe, limit)
	})
}

func (c *BreakerBroker) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) (*models.Quote, error) {
		return b.GetLatestQuote(ctx, symbol)
	})
}

func (c *BreakerBroker) SubmitOrder(ctx context.Context, req *models.OrderRequest) (*Order, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) (*Order, error) { return b.SubmitOrder(ctx, req) })
}

func (c *BreakerBroker) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) (*Order, error) { return b.GetOrder(ctx, orderID) })
}

func (c *BreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execBreaker(c.breaker, c.broker, func(b Interface) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, orderID)
	})
	return err
}

func (c *BreakerBroker) GetOrdersForDate(ctx context.Context, date time.Time) ([]Order, error) {
	return execBreaker(c.breaker, c.broker, func(b Interface) ([]Order, error) { return b.GetOrdersForDate(ctx, date) })
}
