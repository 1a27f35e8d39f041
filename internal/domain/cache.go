package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest traded prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// EventBus carries the observability surface: depth changes, emitted signals,
// and position lifecycle events. Delivery is best-effort; the bus must never
// be on the replica-update critical path.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Well-known event bus channels.
const (
	ChannelSignals   = "signals"
	ChannelPositions = "positions"
	ChannelFeed      = "feed"
)
