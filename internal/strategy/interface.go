package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

// DepthView is a value-copied slice of the depth replica handed to
// strategies: top levels per side plus the mid price.
type DepthView struct {
	Symbol    string
	Bids      []domain.PriceLevel
	Asks      []domain.PriceLevel
	Mid       decimal.Decimal
	Timestamp time.Time
}

// Strategy defines the contract for trading strategies. Handlers return zero
// or more trade intents; they must not perform network I/O.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnDepthUpdate(ctx context.Context, view DepthView) ([]domain.TradeIntent, error)
	OnCandleClose(ctx context.Context, candle domain.Candle) ([]domain.TradeIntent, error)
	Close() error
}

// ExposureSource reports the current signed open size for a symbol. The
// ledger implements it; strategies use the sign to decide which directions
// are actionable.
type ExposureSource interface {
	NetExposure(symbol string) decimal.Decimal
}
