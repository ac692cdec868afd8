package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// MockBroker is an in-memory broker for tests and the integration harness.
// Orders fill immediately at their limit price (or the quote mid for market
// orders); FillRatio below 1 leaves them partially filled.
type MockBroker struct {
	mu sync.Mutex

	Equity      float64
	BuyingPower float64
	Bars        map[string][]models.Bar
	Quotes      map[string]*models.Quote
	Positions   []Position
	Orders      []Order
	Canceled    []string

	// FillRatio is the fraction of each order that fills on submit.
	// Zero means fill in full.
	FillRatio float64

	// Err, when set, is returned by every call.
	Err error
}

var _ Interface = (*MockBroker)(nil)

// NewMockBroker returns a mock with a funded flat account.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		Equity:      100_000,
		BuyingPower: 200_000,
		Bars:        make(map[string][]models.Bar),
		Quotes:      make(map[string]*models.Quote),
	}
}

func (m *MockBroker) GetEquity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Equity, nil
}

func (m *MockBroker) GetBuyingPower(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.BuyingPower, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]Position, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

func (m *MockBroker) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	bars := m.Bars[strings.ToUpper(symbol)]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]models.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (m *MockBroker) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	q, ok := m.Quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	cp := *q
	return &cp, nil
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req *models.OrderRequest) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fillPrice := req.LimitPrice
	if req.Type == models.OrderTypeMarket {
		if q, ok := m.Quotes[strings.ToUpper(req.Symbol)]; ok {
			fillPrice = q.Mid
		} else {
			fillPrice = req.ExpectedPrice
		}
	}
	ratio := m.FillRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	filledQty := float64(int(float64(req.Quantity) * ratio))

	now := time.Now()
	order := Order{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Symbol:        strings.ToUpper(req.Symbol),
		Qty:           float64(req.Quantity),
		FilledQty:     filledQty,
		Side:          string(req.Side.OrderSide()),
		Type:          string(req.Type),
		Status:        "partially_filled",
		LimitPrice:    req.LimitPrice,
		SubmittedAt:   now,
	}
	if filledQty > 0 {
		order.FilledAvgPrice = fillPrice
	}
	if filledQty >= order.Qty {
		order.Status = "filled"
		order.FilledAt = &now
	}
	m.Orders = append(m.Orders, order)

	if filledQty > 0 {
		if req.Side.OrderSide() == models.SideBuy {
			m.Positions = append(m.Positions, Position{
				Symbol:    order.Symbol,
				Qty:       filledQty,
				AvgEntry:  fillPrice,
				CostBasis: fillPrice * filledQty,
				Side:      "long",
			})
		} else {
			kept := m.Positions[:0]
			for _, p := range m.Positions {
				if p.Symbol == order.Symbol {
					p.Qty -= filledQty
					p.CostBasis = p.AvgEntry * p.Qty
				}
				if p.Symbol != order.Symbol || p.Qty > 0 {
					kept = append(kept, p)
				}
			}
			m.Positions = kept
		}
	}
	return &order, nil
}

// GetOrder returns the order by ID.
func (m *MockBroker) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.Orders {
		if m.Orders[i].ID == orderID {
			cp := m.Orders[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no order %s", orderID)
}

// CancelOrder marks a working order canceled and records the ID.
func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for i := range m.Orders {
		if m.Orders[i].ID == orderID {
			if m.Orders[i].Status != "filled" {
				m.Orders[i].Status = "canceled"
			}
			m.Canceled = append(m.Canceled, orderID)
			return nil
		}
	}
	return fmt.Errorf("no order %s", orderID)
}

func (m *MockBroker) GetOrdersForDate(ctx context.Context, date time.Time) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []Order
	for _, o := range m.Orders {
		y1, m1, d1 := o.SubmittedAt.Date()
		y2, m2, d2 := date.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			out = append(out, o)
		}
	}
	return out, nil
}
