package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftware/depthbot/internal/domain"
)

// GridOrderStore implements domain.GridOrderStore using PostgreSQL. The table
// mirrors the in-memory ladder so a restart can reconcile open grid orders
// against the exchange.
type GridOrderStore struct {
	pool *pgxpool.Pool
}

// NewGridOrderStore creates a GridOrderStore backed by the given connection
// pool.
func NewGridOrderStore(pool *pgxpool.Pool) *GridOrderStore {
	return &GridOrderStore{pool: pool}
}

var _ domain.GridOrderStore = (*GridOrderStore)(nil)

// Upsert inserts the grid order or refreshes its mutable fields.
func (s *GridOrderStore) Upsert(ctx context.Context, order domain.GridOrder) error {
	const query = `
		INSERT INTO grid_orders (id, symbol, side, price, quantity, level, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		order.ID, order.Symbol, string(order.Side),
		order.Price, order.Quantity, order.Level,
		string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert grid order %s: %w", order.ID, err)
	}
	return nil
}

// UpdateStatus changes the lifecycle status of one grid order.
func (s *GridOrderStore) UpdateStatus(ctx context.Context, id string, status domain.GridOrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE grid_orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update grid order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActive returns pending and placed grid orders for the symbol, lowest
// ladder level first.
func (s *GridOrderStore) ListActive(ctx context.Context, symbol string) ([]domain.GridOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, side, price, quantity, level, status, created_at, updated_at
		 FROM grid_orders
		 WHERE symbol = $1 AND status IN ('pending', 'placed')
		 ORDER BY level ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active grid orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.GridOrder
	for rows.Next() {
		var o domain.GridOrder
		var side, status string
		if err := rows.Scan(
			&o.ID, &o.Symbol, &side, &o.Price, &o.Quantity,
			&o.Level, &status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan grid order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Status = domain.GridOrderStatus(status)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate grid orders: %w", err)
	}
	return orders, nil
}

// CancelAll marks every active grid order for the symbol as cancelled.
func (s *GridOrderStore) CancelAll(ctx context.Context, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE grid_orders SET status = 'cancelled', updated_at = NOW()
		 WHERE symbol = $1 AND status IN ('pending', 'placed')`, symbol)
	if err != nil {
		return fmt.Errorf("postgres: cancel grid orders for %s: %w", symbol, err)
	}
	return nil
}
