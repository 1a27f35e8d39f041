package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// IntentKind distinguishes order placements from cancels flowing through the
// executor pipeline.
type IntentKind string

const (
	IntentPlace  IntentKind = "place"
	IntentCancel IntentKind = "cancel"
)

// TradeIntent is a request to trade, produced by a strategy or submitted
// manually. ClientID is the idempotency key used by the execution gateway and
// the executor's dedup layer. An empty Kind means IntentPlace.
type TradeIntent struct {
	ClientID   string // UUID, idempotency key
	Kind       IntentKind
	Source     string // strategy name or "manual"
	Symbol     string
	Side       OrderSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Manual     bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Notional returns price * quantity for the intent.
func (t TradeIntent) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// OrderAck is the gateway response after submitting or cancelling an order.
type OrderAck struct {
	OrderID     string
	ClientID    string
	Status      OrderStatus
	FilledPrice decimal.Decimal
	Message     string
	ShouldRetry bool
}
