package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftware/depthbot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

var _ domain.SignalStore = (*SignalStore)(nil)

// Insert records one strategy decision.
func (s *SignalStore) Insert(ctx context.Context, sig domain.SignalRecord) error {
	const query = `
		INSERT INTO signals (id, strategy, symbol, side, price, imbalance, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Strategy, sig.Symbol, string(sig.Side),
		sig.Price, sig.Imbalance, sig.Reason, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// ListRecent returns the newest signals for the symbol, newest first.
func (s *SignalStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, strategy, symbol, side, price, imbalance, reason, created_at
		 FROM signals
		 WHERE symbol = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.SignalRecord
	for rows.Next() {
		var sig domain.SignalRecord
		var side string
		if err := rows.Scan(
			&sig.ID, &sig.Strategy, &sig.Symbol, &side,
			&sig.Price, &sig.Imbalance, &sig.Reason, &sig.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		sig.Side = domain.OrderSide(side)
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate signals: %w", err)
	}
	return signals, nil
}
