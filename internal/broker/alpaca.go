package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hwatkins-dev/trendgate/internal/models"
	"github.com/hwatkins-dev/trendgate/internal/retry"
)

const (
	alpacaLiveURL  = "https://api.alpaca.markets"
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaDataURL  = "https://data.alpaca.markets"

	// Alpaca allows 200 requests per minute per key.
	alpacaRateLimit = 200.0 / 60.0
)

// APIError is a non-2xx response from the Alpaca API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca API error %d: %s", e.Status, e.Body)
}

// AlpacaClient talks to the Alpaca trading and market-data REST APIs.
type AlpacaClient struct {
	client      *http.Client
	apiKey      string
	apiSecret   string
	baseURL     string
	dataBaseURL string
	dataFeed    string
	limiter     *rate.Limiter
	retryCfg    retry.Config
}

var _ Interface = (*AlpacaClient)(nil)

// NewAlpacaClient builds a client from the broker configuration. Paper mode
// selects the paper endpoint unless base_url overrides it.
func NewAlpacaClient(cfg Config) *AlpacaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Paper {
			baseURL = alpacaPaperURL
		} else {
			baseURL = alpacaLiveURL
		}
	}
	dataURL := cfg.DataBaseURL
	if dataURL == "" {
		dataURL = alpacaDataURL
	}
	feed := cfg.DataFeed
	if feed == "" {
		feed = "iex"
	}

	retryCfg := retry.DefaultConfig
	if cfg.APIRetryTimes > 0 {
		retryCfg.MaxRetries = cfg.APIRetryTimes
	}
	if cfg.APIRetryDelaySec > 0 {
		retryCfg.InitialBackoff = time.Duration(cfg.APIRetryDelaySec) * time.Second
	}

	return &AlpacaClient{
		client:      &http.Client{Timeout: 10 * time.Second},
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		baseURL:     baseURL,
		dataBaseURL: dataURL,
		dataFeed:    feed,
		limiter:     rate.NewLimiter(rate.Limit(alpacaRateLimit), 10),
		retryCfg:    retryCfg,
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (a *AlpacaClient) WithHTTPClient(c *http.Client) *AlpacaClient {
	if c != nil {
		a.client = c
	}
	return a
}

func (a *AlpacaClient) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type accountResponse struct {
	Equity      float64 `json:"equity,string"`
	BuyingPower float64 `json:"buying_power,string"`
}

func (a *AlpacaClient) getAccount(ctx context.Context) (*accountResponse, error) {
	return retry.Do(ctx, a.retryCfg, "get account", func() (*accountResponse, error) {
		var acct accountResponse
		if err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/account", nil, &acct); err != nil {
			return nil, err
		}
		return &acct, nil
	})
}

// GetEquity returns the account's current equity.
func (a *AlpacaClient) GetEquity(ctx context.Context) (float64, error) {
	acct, err := a.getAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.Equity, nil
}

// GetBuyingPower returns the account's available buying power.
func (a *AlpacaClient) GetBuyingPower(ctx context.Context) (float64, error) {
	acct, err := a.getAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.BuyingPower, nil
}

// GetPositions lists all open positions.
func (a *AlpacaClient) GetPositions(ctx context.Context) ([]Position, error) {
	return retry.Do(ctx, a.retryCfg, "get positions", func() ([]Position, error) {
		var positions []Position
		if err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/positions", nil, &positions); err != nil {
			return nil, err
		}
		return positions, nil
	})
}

type barsResponse struct {
	Bars []models.Bar `json:"bars"`
}

// barsLookback bounds the history window per timeframe. Daily series need
// enough calendar days to cover 200 trading bars.
func barsLookback(timeframe string) time.Duration {
	if timeframe == "1Min" {
		return 2 * 24 * time.Hour
	}
	return 400 * 24 * time.Hour
}

// GetBars fetches up to limit historical bars for the symbol, oldest first.
func (a *AlpacaClient) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("start", time.Now().Add(-barsLookback(timeframe)).UTC().Format(time.RFC3339))
	q.Set("feed", a.dataFeed)
	q.Set("adjustment", "split")
	rawURL := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", a.dataBaseURL, url.PathEscape(symbol), q.Encode())

	return retry.Do(ctx, a.retryCfg, "get bars", func() ([]models.Bar, error) {
		var resp barsResponse
		if err := a.do(ctx, http.MethodGet, rawURL, nil, &resp); err != nil {
			return nil, err
		}
		return resp.Bars, nil
	})
}

type latestQuoteResponse struct {
	Quote struct {
		BidPrice float64   `json:"bp"`
		AskPrice float64   `json:"ap"`
		BidSize  float64   `json:"bs"`
		AskSize  float64   `json:"as"`
		Time     time.Time `json:"t"`
	} `json:"quote"`
}

// GetLatestQuote fetches the most recent NBBO quote. Returns an error when
// the feed has no usable bid/ask.
func (a *AlpacaClient) GetLatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	q := url.Values{}
	q.Set("feed", a.dataFeed)
	rawURL := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest?%s", a.dataBaseURL, url.PathEscape(symbol), q.Encode())

	return retry.Do(ctx, a.retryCfg, "get latest quote", func() (*models.Quote, error) {
		var resp latestQuoteResponse
		if err := a.do(ctx, http.MethodGet, rawURL, nil, &resp); err != nil {
			return nil, err
		}
		quote := models.NewQuote(resp.Quote.BidPrice, resp.Quote.AskPrice)
		if quote == nil {
			return nil, fmt.Errorf("no usable quote for %s (bid %.2f, ask %.2f)",
				symbol, resp.Quote.BidPrice, resp.Quote.AskPrice)
		}
		return quote, nil
	})
}

type submitOrderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// SubmitOrder validates and submits the order with a fresh idempotency key.
// All orders are day orders.
func (a *AlpacaClient) SubmitOrder(ctx context.Context, req *models.OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order: %w", err)
	}

	body := submitOrderBody{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Quantity),
		Side:          string(req.Side.OrderSide()),
		Type:          string(req.Type),
		TimeInForce:   "day",
		ClientOrderID: uuid.NewString(),
	}
	if req.Type == models.OrderTypeLimit {
		body.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	// No retry wrapper here: resubmitting after an ambiguous failure could
	// double-fill. The engine treats a submit error as a vetoed pass.
	var order Order
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/v2/orders", payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches the current state of a single order.
func (a *AlpacaClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	rawURL := a.baseURL + "/v2/orders/" + url.PathEscape(orderID)
	return retry.Do(ctx, a.retryCfg, "get order", func() (*Order, error) {
		var order Order
		if err := a.do(ctx, http.MethodGet, rawURL, nil, &order); err != nil {
			return nil, err
		}
		return &order, nil
	})
}

// CancelOrder cancels a working order. Canceling an already-closed order
// returns the API's error unchanged.
func (a *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	rawURL := a.baseURL + "/v2/orders/" + url.PathEscape(orderID)
	_, err := retry.Do(ctx, a.retryCfg, "cancel order", func() (struct{}, error) {
		return struct{}{}, a.do(ctx, http.MethodDelete, rawURL, nil, nil)
	})
	return err
}

// GetOrdersForDate lists all orders submitted on the given calendar date.
func (a *AlpacaClient) GetOrdersForDate(ctx context.Context, date time.Time) ([]Order, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	q := url.Values{}
	q.Set("status", "all")
	q.Set("after", dayStart.Format(time.RFC3339))
	q.Set("until", dayStart.AddDate(0, 0, 1).Format(time.RFC3339))
	q.Set("limit", "500")
	rawURL := a.baseURL + "/v2/orders?" + q.Encode()

	return retry.Do(ctx, a.retryCfg, "get orders", func() ([]Order, error) {
		var orders []Order
		if err := a.do(ctx, http.MethodGet, rawURL, nil, &orders); err != nil {
			return nil, err
		}
		return orders, nil
	})
}
