package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PositionSide is the direction of an open exposure.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// SideForOrder maps an order side to the position side it opens.
func SideForOrder(side OrderSide) PositionSide {
	if side == OrderSideBuy {
		return PositionSideLong
	}
	return PositionSideShort
}

// Position represents an open or historical trading position. Closed positions
// are archived, never deleted.
type Position struct {
	ID          string
	Symbol      string
	Side        PositionSide
	EntryPrice  decimal.Decimal
	Size        decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	Status      PositionStatus
	Strategy    string
	Manual      bool
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   *decimal.Decimal
	RealizedPnl *decimal.Decimal
}

// PnlAt returns the realized PnL this position would have at exitPrice:
// (exit - entry) * size for longs, (entry - exit) * size for shorts.
func (p Position) PnlAt(exitPrice decimal.Decimal) decimal.Decimal {
	if p.Side == PositionSideShort {
		return p.EntryPrice.Sub(exitPrice).Mul(p.Size)
	}
	return exitPrice.Sub(p.EntryPrice).Mul(p.Size)
}

// AccountState is a point-in-time copy of the account. The risk gate owns the
// mutable original; everyone else gets value copies of this struct.
type AccountState struct {
	Balance       decimal.Decimal
	OpenExposure  decimal.Decimal
	PeakBalance   decimal.Decimal
	UnrealizedPnl decimal.Decimal
}
