// Package ledger is the authoritative record of open exposures. Positions are
// created and mutated only here; the in-memory set is the economic truth, the
// store is the durable archive, and a persistence failure never rolls back a
// position that is already economically real.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

// AccountKeeper receives balance and exposure changes from position opens and
// closes. Implemented by the risk gate.
type AccountKeeper interface {
	ApplyOpen(notional decimal.Decimal)
	ApplyClose(notional, realizedPnl decimal.Decimal)
	SetUnrealized(pnl decimal.Decimal)
}

// Ledger owns the open-position set. All mutation goes through Open, Close,
// and CheckTriggers; readers get value copies.
type Ledger struct {
	store   domain.PositionStore
	bus     domain.EventBus
	account AccountKeeper
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]domain.Position
}

// New creates a Ledger with all required dependencies. bus may be nil in
// tests; events are then dropped.
func New(store domain.PositionStore, bus domain.EventBus, account AccountKeeper, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		bus:     bus,
		account: account,
		logger:  logger.With(slog.String("component", "ledger")),
		open:    make(map[string]domain.Position),
	}
}

// LoadOpen restores the open-position set from the store at startup.
func (l *Ledger) LoadOpen(ctx context.Context) error {
	positions, err := l.store.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load open positions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		l.open[p.ID] = p
		l.account.ApplyOpen(p.EntryPrice.Mul(p.Size))
	}
	l.logger.Info("open positions restored", slog.Int("count", len(positions)))
	return nil
}

// Open records a new position. It no-ops (logged) when the entry price or
// size is zero. The position is persisted before being reported durable; a
// store failure is logged and flagged for reconciliation but the in-memory
// position stands.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) error {
	if pos.EntryPrice.IsZero() || pos.Size.IsZero() {
		l.logger.Warn("open skipped: zero entry price or size",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
		)
		return nil
	}
	if pos.Status == "" {
		pos.Status = domain.PositionStatusOpen
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.open[pos.ID] = pos
	l.mu.Unlock()
	l.account.ApplyOpen(pos.EntryPrice.Mul(pos.Size))

	if err := l.store.Create(ctx, pos); err != nil {
		l.logger.Error("position persist failed, flagged for reconciliation",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		l.publish(ctx, "position_persist_failed", pos, nil)
		return fmt.Errorf("ledger: persist position %s: %w", pos.ID, domain.ErrPersistence)
	}

	l.publish(ctx, "position_opened", pos, nil)
	l.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("size", pos.Size.String()),
	)
	return nil
}

// Close settles a position at exitPrice, computes realized PnL, archives it,
// and removes it from the open set. Exactly one close per id: closing an
// unknown id returns ErrNotFound.
func (l *Ledger) Close(ctx context.Context, id string, exitPrice decimal.Decimal) (domain.Position, error) {
	l.mu.Lock()
	pos, ok := l.open[id]
	if !ok {
		l.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: close position %s: %w", id, domain.ErrNotFound)
	}
	delete(l.open, id)
	l.mu.Unlock()

	pnl := pos.PnlAt(exitPrice)
	now := time.Now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	pos.RealizedPnl = &pnl

	l.account.ApplyClose(pos.EntryPrice.Mul(pos.Size), pnl)

	if err := l.store.Close(ctx, id, exitPrice, pnl); err != nil {
		l.logger.Error("position close persist failed, flagged for reconciliation",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		l.publish(ctx, "position_persist_failed", pos, &pnl)
		return pos, fmt.Errorf("ledger: persist close %s: %w", id, domain.ErrPersistence)
	}

	l.publish(ctx, "position_closed", pos, &pnl)
	l.logger.Info("position closed",
		slog.String("position_id", id),
		slog.String("exit_price", exitPrice.String()),
		slog.String("realized_pnl", pnl.String()),
	)
	return pos, nil
}

// CheckTriggers evaluates stop-loss and take-profit levels for every open
// position on the symbol at the current price, closing any that trigger.
// Longs close at price <= stopLoss or price >= takeProfit; shorts close at
// price >= stopLoss or price <= takeProfit. Closed positions are returned.
func (l *Ledger) CheckTriggers(ctx context.Context, symbol string, price decimal.Decimal) []domain.Position {
	l.mu.Lock()
	var due []string
	for id, pos := range l.open {
		if pos.Symbol != symbol {
			continue
		}
		if triggered(pos, price) {
			due = append(due, id)
		}
	}
	l.mu.Unlock()

	var closed []domain.Position
	for _, id := range due {
		pos, err := l.Close(ctx, id, price)
		if err != nil && pos.ID == "" {
			// Already closed by a concurrent trigger pass.
			continue
		}
		closed = append(closed, pos)
	}
	return closed
}

func triggered(pos domain.Position, price decimal.Decimal) bool {
	switch pos.Side {
	case domain.PositionSideLong:
		if !pos.StopLoss.IsZero() && price.LessThanOrEqual(pos.StopLoss) {
			return true
		}
		if !pos.TakeProfit.IsZero() && price.GreaterThanOrEqual(pos.TakeProfit) {
			return true
		}
	case domain.PositionSideShort:
		if !pos.StopLoss.IsZero() && price.GreaterThanOrEqual(pos.StopLoss) {
			return true
		}
		if !pos.TakeProfit.IsZero() && price.LessThanOrEqual(pos.TakeProfit) {
			return true
		}
	}
	return false
}

// MarkToMarket recomputes unrealized PnL for the symbol's open positions at
// the given price and reports the total to the account keeper.
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal) {
	l.mu.Lock()
	total := decimal.Zero
	for _, pos := range l.open {
		if pos.Symbol != symbol {
			continue
		}
		total = total.Add(pos.PnlAt(price))
	}
	l.mu.Unlock()
	l.account.SetUnrealized(total)
}

// OpenPositions returns value copies of all open positions.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	return out
}

// NetExposure returns the signed open size for a symbol: long sizes add,
// short sizes subtract. Strategies use the sign to pick actionable
// directions.
func (l *Ledger) NetExposure(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	net := decimal.Zero
	for _, p := range l.open {
		if p.Symbol != symbol {
			continue
		}
		if p.Side == domain.PositionSideShort {
			net = net.Sub(p.Size)
		} else {
			net = net.Add(p.Size)
		}
	}
	return net
}

// publish sends a position event on the bus. Failures are logged, never
// propagated: the bus is observability, not bookkeeping.
func (l *Ledger) publish(ctx context.Context, event string, pos domain.Position, pnl *decimal.Decimal) {
	if l.bus == nil {
		return
	}
	body := map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice.String(),
		"size":        pos.Size.String(),
	}
	if pnl != nil {
		body["realized_pnl"] = pnl.String()
	}
	if pos.ExitPrice != nil {
		body["exit_price"] = pos.ExitPrice.String()
	}
	payload, _ := json.Marshal(body)
	if err := l.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		l.logger.Warn("position event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
