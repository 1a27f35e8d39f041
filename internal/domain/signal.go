package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerdictStatus is the outcome of a risk gate evaluation.
type VerdictStatus string

const (
	VerdictPass   VerdictStatus = "pass"
	VerdictWarn   VerdictStatus = "warn"
	VerdictReject VerdictStatus = "reject"
)

// RiskVerdict is the result of the ordered pre-trade checks. A Warn verdict
// still allows execution but must be surfaced to observability.
type RiskVerdict struct {
	Status VerdictStatus
	Reason string
}

// Allowed reports whether an intent with this verdict may proceed.
func (v RiskVerdict) Allowed() bool {
	return v.Status != VerdictReject
}

// SignalRecord is a persisted strategy decision, kept for analysis.
type SignalRecord struct {
	ID        string
	Strategy  string
	Symbol    string
	Side      OrderSide
	Price     decimal.Decimal
	Imbalance float64
	Reason    string
	CreatedAt time.Time
}

// GridOrderStatus tracks a grid ladder slot's lifecycle.
type GridOrderStatus string

const (
	GridOrderPending   GridOrderStatus = "pending"
	GridOrderPlaced    GridOrderStatus = "placed"
	GridOrderFilled    GridOrderStatus = "filled"
	GridOrderCancelled GridOrderStatus = "cancelled"
)

// GridOrder is one resting-order target in the grid ladder.
type GridOrder struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Level     int
	Status    GridOrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
