package domain

import "context"

// MarketDataSource supplies depth snapshots and the streaming delta feed for
// one exchange. OpenStream returns a delta channel and an error channel; the
// delta channel is closed when the stream ends, after which exactly one error
// (or nil for a clean close) is delivered on the error channel.
type MarketDataSource interface {
	FetchSnapshot(ctx context.Context, symbol string, depth int) (SnapshotEvent, error)
	OpenStream(ctx context.Context, symbol string) (<-chan DeltaEvent, <-chan error, error)
}

// CandleSource supplies completed historical candles for indicator warm-up
// and the periodic candle-close decision loop.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// ExecutionGateway submits orders to the exchange. Implementations must be
// idempotent on TradeIntent.ClientID: resubmitting the same ClientID must not
// create a second order.
type ExecutionGateway interface {
	PlaceOrder(ctx context.Context, intent TradeIntent) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientID string) (OrderAck, error)
}
