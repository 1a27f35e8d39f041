package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+quantity entry in a depth ladder. A level with
// quantity zero is absent from the book, never stored.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Notional returns price * quantity.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// SnapshotEvent is a full depth snapshot. Applying it replaces all replica
// state and resets the sequence cursor to Seq.
type SnapshotEvent struct {
	Symbol string
	Seq    uint64
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// DeltaEvent is an incremental depth update covering the sequence range
// [FirstSeq, FinalSeq]. A change with quantity zero removes the level.
type DeltaEvent struct {
	Symbol     string
	FirstSeq   uint64
	FinalSeq   uint64
	BidChanges []PriceLevel
	AskChanges []PriceLevel
}

// DepthUpdate is the fan-out payload published after a delta or snapshot has
// been applied to the replica. Best levels are value copies.
type DepthUpdate struct {
	Symbol    string
	Seq       uint64
	BestBid   PriceLevel
	BestAsk   PriceLevel
	HasBid    bool
	HasAsk    bool
	Timestamp time.Time
}

// Candle is one completed OHLCV bar. Fields are float64 because candles feed
// the indicator arithmetic, not money accounting.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
