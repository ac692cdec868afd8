package broker

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*AlpacaClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.APISecret = "test-secret"
	cfg.BaseURL = srv.URL
	cfg.DataBaseURL = srv.URL
	cfg.APIRetryTimes = 1
	cfg.APIRetryDelaySec = 0
	return NewAlpacaClient(cfg), srv
}

func TestGetEquityParsesAccount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("APCA-API-KEY-ID") != "test-key" {
			t.Error("missing key header")
		}
		if r.Header.Get("APCA-API-SECRET-KEY") != "test-secret" {
			t.Error("missing secret header")
		}
		w.Write([]byte(`{"equity":"100123.45","buying_power":"200000.00"}`))
	}))

	equity, err := client.GetEquity(context.Background())
	if err != nil {
		t.Fatalf("GetEquity: %v", err)
	}
	if math.Abs(equity-100123.45) > 1e-9 {
		t.Errorf("equity = %v", equity)
	}
}

func TestGetBarsQueryAndDecode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/SPY/bars" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("timeframe") != "1Day" || q.Get("limit") != "220" || q.Get("feed") != "iex" || q.Get("start") == "" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"bars":[{"t":"2025-03-10T05:00:00Z","o":100,"h":101,"l":99,"c":100.5,"v":1000000}]}`))
	}))

	bars, err := client.GetBars(context.Background(), "SPY", "1Day", 220)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 100.5 || bars[0].Volume != 1_000_000 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestGetLatestQuote(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote":{"bp":449.95,"ap":450.05,"bs":2,"as":3,"t":"2025-03-10T15:00:00Z"}}`))
	}))

	q, err := client.GetLatestQuote(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("GetLatestQuote: %v", err)
	}
	if math.Abs(q.Mid-450.00) > 1e-9 {
		t.Errorf("mid = %v", q.Mid)
	}
	if q.SpreadPct <= 0 {
		t.Errorf("spread = %v", q.SpreadPct)
	}
}

func TestGetLatestQuoteRejectsEmptyBook(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote":{"bp":0,"ap":0}}`))
	}))

	if _, err := client.GetLatestQuote(context.Background(), "SPY"); err == nil {
		t.Fatal("empty book should error")
	}
}

func TestSubmitOrderBody(t *testing.T) {
	var got submitOrderBody
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		w.Write([]byte(`{"id":"abc","symbol":"SPY","qty":"100","side":"buy","type":"limit","status":"accepted","limit_price":"449.99","submitted_at":"` + now + `"}`))
	}))

	order, err := client.SubmitOrder(context.Background(), &models.OrderRequest{
		Symbol:        "SPY",
		Side:          models.SideLong,
		Quantity:      100,
		Type:          models.OrderTypeLimit,
		LimitPrice:    449.99,
		ExpectedPrice: 450.00,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if got.Side != "buy" {
		t.Errorf("side = %q, long signals open with buy orders", got.Side)
	}
	if got.TimeInForce != "day" {
		t.Errorf("tif = %q, want day", got.TimeInForce)
	}
	if got.LimitPrice != "449.99" {
		t.Errorf("limit = %q", got.LimitPrice)
	}
	if got.ClientOrderID == "" {
		t.Error("client order id must be set")
	}
	if order.Status != "accepted" {
		t.Errorf("status = %q", order.Status)
	}
}

func TestSubmitOrderRejectsInvalid(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid order must not reach the API")
	}))
	_, err := client.SubmitOrder(context.Background(), &models.OrderRequest{Symbol: "SPY", Side: models.SideBuy, Quantity: 0})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAPIErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"forbidden"}`))
	}))

	_, err := client.GetEquity(context.Background())
	if err == nil {
		t.Fatal("expected API error")
	}
}

func TestGetOrderAndCancelOrder(t *testing.T) {
	canceled := false
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/abc-123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":"abc-123","symbol":"SPY","qty":"100","filled_qty":"40","status":"partially_filled"}`))
		case http.MethodDelete:
			canceled = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("method = %s", r.Method)
		}
	}))

	order, err := client.GetOrder(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.FilledQty != 40 || order.Status != "partially_filled" {
		t.Errorf("order = %+v", order)
	}

	if err := client.CancelOrder(context.Background(), "abc-123"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if !canceled {
		t.Error("cancel must issue a DELETE")
	}
}
