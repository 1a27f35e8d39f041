package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

// depthResponse is the REST depth snapshot payload. Levels arrive as
// [price, quantity] string pairs.
type depthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// wsDepthEvent is one diff-depth message from the stream. U/u bound the
// aggregated update-id range the event covers.
type wsDepthEvent struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   uint64     `json:"U"`
	FinalID   uint64     `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// orderResponse is the REST payload returned on order placement and cancel.
type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
}

// apiError is the REST error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("binance: api error %d: %s", e.Code, e.Message)
}

// parseLevels converts [price, quantity] string pairs into domain levels.
func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("binance: %w: level %v", domain.ErrProtocol, pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("binance: %w: level price %q: %v", domain.ErrProtocol, pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("binance: %w: level quantity %q: %v", domain.ErrProtocol, pair[1], err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// toSnapshot converts the REST payload into the domain snapshot event.
func (r depthResponse) toSnapshot(symbol string) (domain.SnapshotEvent, error) {
	bids, err := parseLevels(r.Bids)
	if err != nil {
		return domain.SnapshotEvent{}, err
	}
	asks, err := parseLevels(r.Asks)
	if err != nil {
		return domain.SnapshotEvent{}, err
	}
	return domain.SnapshotEvent{
		Symbol: symbol,
		Seq:    r.LastUpdateID,
		Bids:   bids,
		Asks:   asks,
	}, nil
}

// toDelta converts a stream event into the domain delta event.
func (e wsDepthEvent) toDelta() (domain.DeltaEvent, error) {
	bids, err := parseLevels(e.Bids)
	if err != nil {
		return domain.DeltaEvent{}, err
	}
	asks, err := parseLevels(e.Asks)
	if err != nil {
		return domain.DeltaEvent{}, err
	}
	return domain.DeltaEvent{
		Symbol:     e.Symbol,
		FirstSeq:   e.FirstID,
		FinalSeq:   e.FinalID,
		BidChanges: bids,
		AskChanges: asks,
	}, nil
}

// toAck maps the exchange order status onto the domain ack.
func (r orderResponse) toAck() domain.OrderAck {
	ack := domain.OrderAck{
		OrderID:  strconv.FormatInt(r.OrderID, 10),
		ClientID: r.ClientOrderID,
	}
	switch r.Status {
	case "FILLED":
		ack.Status = domain.OrderStatusFilled
	case "NEW", "PARTIALLY_FILLED":
		ack.Status = domain.OrderStatusOpen
	case "CANCELED", "PENDING_CANCEL":
		ack.Status = domain.OrderStatusCancelled
	case "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		ack.Status = domain.OrderStatusFailed
	default:
		ack.Status = domain.OrderStatusPending
	}
	if ack.Status == domain.OrderStatusFilled {
		if qty, err := decimal.NewFromString(r.ExecutedQty); err == nil && qty.IsPositive() {
			if quote, err := decimal.NewFromString(r.CumQuoteQty); err == nil {
				ack.FilledPrice = quote.Div(qty)
			}
		}
	}
	return ack
}

// parseKlines converts the kline rows (mixed-type JSON arrays) into candles.
func parseKlines(rows [][]any) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance: %w: kline row with %d fields", domain.ErrProtocol, len(row))
		}
		openMs, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("binance: %w: kline open time %v is not numeric", domain.ErrProtocol, row[0])
		}
		c := domain.Candle{OpenTime: time.UnixMilli(int64(openMs)).UTC()}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for i, dst := range fields {
			s, ok := row[i+1].(string)
			if !ok {
				return nil, fmt.Errorf("binance: kline field %d is not a string", i+1)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance: parse kline field %q: %w", s, err)
			}
			*dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}
