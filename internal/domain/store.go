package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Used only at transaction boundaries,
// never inside the hot decision path.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice, realizedPnl decimal.Decimal) error
	GetOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListHistory(ctx context.Context, symbol string, opts ListOpts) ([]Position, error)
}

// SignalStore persists strategy decisions.
type SignalStore interface {
	Insert(ctx context.Context, sig SignalRecord) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]SignalRecord, error)
}

// GridOrderStore persists the grid ladder so a restart can reconcile open
// grid orders against the exchange.
type GridOrderStore interface {
	Upsert(ctx context.Context, order GridOrder) error
	UpdateStatus(ctx context.Context, id string, status GridOrderStatus) error
	ListActive(ctx context.Context, symbol string) ([]GridOrder, error)
	CancelAll(ctx context.Context, symbol string) error
}
