// Package binance implements the exchange adapter: the REST client for
// snapshots, candles, and order placement, and the WebSocket client for the
// diff-depth stream.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftware/depthbot/internal/crypto"
	"github.com/driftware/depthbot/internal/domain"
)

// codeDuplicateClientOrderID is returned when a client order id is reused;
// the original order stands, so the resubmission is treated as acknowledged.
const codeDuplicateClientOrderID = -2026

// RestClient talks to the exchange REST API. Market-data endpoints are
// unauthenticated; trading endpoints are signed with the HMAC credentials.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewRestClient creates a REST client. baseURL is the API root, e.g.
// "https://api.binance.com". auth may be nil for market-data-only use.
func NewRestClient(baseURL string, auth *crypto.HMACAuth) *RestClient {
	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		auth: auth,
	}
}

// FetchSnapshot retrieves a full depth snapshot for the symbol.
func (c *RestClient) FetchSnapshot(ctx context.Context, symbol string, depth int) (domain.SnapshotEvent, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	values.Set("limit", fmt.Sprint(depth))

	body, err := c.get(ctx, "/api/v3/depth", values)
	if err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("binance: fetch depth snapshot: %w", err)
	}

	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SnapshotEvent{}, fmt.Errorf("binance: decode depth snapshot: %w", err)
	}
	return resp.toSnapshot(symbol)
}

// FetchCandles retrieves up to limit completed candles for the symbol and
// interval (e.g. "1m"). The last entry is the in-progress bar.
func (c *RestClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	values.Set("interval", interval)
	values.Set("limit", fmt.Sprint(limit))

	body, err := c.get(ctx, "/api/v3/klines", values)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch klines: %w", err)
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	return parseKlines(rows)
}

// PlaceOrder submits a limit order. The intent's ClientID is sent as the
// newClientOrderId, making resubmission idempotent: a duplicate id is
// acknowledged without creating a second order.
func (c *RestClient) PlaceOrder(ctx context.Context, intent domain.TradeIntent) (domain.OrderAck, error) {
	values := url.Values{}
	values.Set("symbol", intent.Symbol)
	values.Set("side", strings.ToUpper(string(intent.Side)))
	values.Set("type", "LIMIT")
	values.Set("timeInForce", "GTC")
	values.Set("price", intent.Price.String())
	values.Set("quantity", intent.Quantity.String())
	values.Set("newClientOrderId", intent.ClientID)
	values.Set("newOrderRespType", "RESULT")

	body, err := c.signed(ctx, http.MethodPost, "/api/v3/order", values)
	if err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) {
			if apiErr.Code == codeDuplicateClientOrderID {
				return domain.OrderAck{
					ClientID: intent.ClientID,
					Status:   domain.OrderStatusOpen,
					Message:  "duplicate client order id, original order stands",
				}, nil
			}
			return domain.OrderAck{
				ClientID:    intent.ClientID,
				Status:      domain.OrderStatusFailed,
				Message:     apiErr.Message,
				ShouldRetry: retryable(apiErr.Code),
			}, nil
		}
		return domain.OrderAck{}, fmt.Errorf("binance: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	return resp.toAck(), nil
}

// CancelOrder cancels an order by its client order id.
func (c *RestClient) CancelOrder(ctx context.Context, symbol, clientID string) (domain.OrderAck, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	values.Set("origClientOrderId", clientID)

	body, err := c.signed(ctx, http.MethodDelete, "/api/v3/order", values)
	if err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) {
			return domain.OrderAck{
				ClientID: clientID,
				Status:   domain.OrderStatusFailed,
				Message:  apiErr.Message,
			}, nil
		}
		return domain.OrderAck{}, fmt.Errorf("binance: cancel order %s: %w", clientID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: decode cancel response: %w", err)
	}
	return resp.toAck(), nil
}

// get performs an unauthenticated GET request.
func (c *RestClient) get(ctx context.Context, path string, values url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path+"?"+values.Encode(), false)
}

// signed performs an authenticated request with the signed query string.
func (c *RestClient) signed(ctx context.Context, method, path string, values url.Values) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("binance: no credentials configured")
	}
	return c.do(ctx, method, path+"?"+c.auth.SignedQuery(values), true)
}

func (c *RestClient) do(ctx context.Context, method, pathAndQuery string, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	if authed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %s", domain.ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, apiErr
		}
		return nil, fmt.Errorf("binance: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// retryable reports whether an order error is worth a single resubmission.
// Rate limits and internal errors are transient; validation errors are not.
func retryable(code int) bool {
	switch code {
	case -1003, -1001, -1000: // rate limit, disconnected, unknown
		return true
	default:
		return false
	}
}
