package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/crypto"
	"github.com/driftware/depthbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/depth" {
			t.Errorf("path = %s, want /api/v3/depth", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s, want BTCUSDT", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"lastUpdateId": 160,
			"bids":         [][]string{{"100.00", "5"}, {"99.50", "3"}},
			"asks":         [][]string{{"100.50", "2"}},
		})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, nil)
	snap, err := c.FetchSnapshot(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.Seq != 160 {
		t.Errorf("Seq = %d, want 160", snap.Seq)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Errorf("levels = %d/%d, want 2/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price.String() != "100" {
		t.Errorf("best bid = %s, want 100", snap.Bids[0].Price)
	}
}

func TestFetchCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]any{
			{1700000000000, "100", "102", "98", "101", "42.5", 1700000059999, "0", 0, "0", "0", "0"},
			{1700000060000, "101", "103", "100", "102", "10.0", 1700000119999, "0", 0, "0", "0", "0"},
		})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, nil)
	candles, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if candles[0].Close != 101 || candles[0].High != 102 {
		t.Errorf("candle[0] = %+v, want close 101 high 102", candles[0])
	}
	if candles[0].OpenTime.UnixMilli() != 1700000000000 {
		t.Errorf("OpenTime = %v, want 1700000000000 ms", candles[0].OpenTime)
	}
}

func TestPlaceOrderSignedAndFilled(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "k" {
			t.Errorf("api key header = %q, want %q", got, "k")
		}
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Error("request missing signature or timestamp")
		}
		if got := q.Get("newClientOrderId"); got != "cid-1" {
			t.Errorf("newClientOrderId = %q, want cid-1", got)
		}
		json.NewEncoder(w).Encode(orderResponse{
			OrderID:       7,
			ClientOrderID: "cid-1",
			Status:        "FILLED",
			ExecutedQty:   "2",
			CumQuoteQty:   "201",
		})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, auth)
	intent := domain.TradeIntent{
		ClientID: "cid-1",
		Symbol:   "BTCUSDT",
		Side:     domain.OrderSideBuy,
		Price:    dec("100.5"),
		Quantity: dec("2"),
	}
	ack, err := c.PlaceOrder(context.Background(), intent)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Status != domain.OrderStatusFilled {
		t.Errorf("Status = %s, want filled", ack.Status)
	}
	if ack.FilledPrice.String() != "100.5" {
		t.Errorf("FilledPrice = %s, want 100.5 (quote/qty)", ack.FilledPrice)
	}
}

func TestPlaceOrderDuplicateClientIDIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiError{Code: codeDuplicateClientOrderID, Message: "Duplicate order sent."})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	ack, err := c.PlaceOrder(context.Background(), domain.TradeIntent{
		ClientID: "cid-1",
		Symbol:   "BTCUSDT",
		Side:     domain.OrderSideBuy,
		Price:    dec("1"),
		Quantity: dec("1"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Status != domain.OrderStatusOpen {
		t.Errorf("Status = %s, want open (original order stands)", ack.Status)
	}
}

func TestPlaceOrderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiError{Code: -2010, Message: "Account has insufficient balance."})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	ack, err := c.PlaceOrder(context.Background(), domain.TradeIntent{
		ClientID: "cid-2",
		Symbol:   "BTCUSDT",
		Side:     domain.OrderSideSell,
		Price:    dec("1"),
		Quantity: dec("1"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Status != domain.OrderStatusFailed {
		t.Errorf("Status = %s, want failed", ack.Status)
	}
	if ack.ShouldRetry {
		t.Error("ShouldRetry = true for a balance rejection, want false")
	}
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if got := r.URL.Query().Get("origClientOrderId"); got != "cid-3" {
			t.Errorf("origClientOrderId = %q, want cid-3", got)
		}
		json.NewEncoder(w).Encode(orderResponse{ClientOrderID: "cid-3", Status: "CANCELED"})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	ack, err := c.CancelOrder(context.Background(), "BTCUSDT", "cid-3")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if ack.Status != domain.OrderStatusCancelled {
		t.Errorf("Status = %s, want cancelled", ack.Status)
	}
}

func TestWsDepthEventToDelta(t *testing.T) {
	payload := []byte(`{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":157,"u":160,` +
		`"b":[["100.00","5"],["99.00","0"]],"a":[["101.00","1"]]}`)
	var event wsDepthEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	delta, err := event.toDelta()
	if err != nil {
		t.Fatalf("toDelta: %v", err)
	}
	if delta.FirstSeq != 157 || delta.FinalSeq != 160 {
		t.Errorf("seq range = [%d,%d], want [157,160]", delta.FirstSeq, delta.FinalSeq)
	}
	if len(delta.BidChanges) != 2 || len(delta.AskChanges) != 1 {
		t.Errorf("changes = %d/%d, want 2/1", len(delta.BidChanges), len(delta.AskChanges))
	}
	if !delta.BidChanges[1].Quantity.IsZero() {
		t.Errorf("removal quantity = %s, want 0", delta.BidChanges[1].Quantity)
	}
}
