package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
	"github.com/driftware/depthbot/internal/metrics"
	"github.com/driftware/depthbot/internal/notify"
)

// RiskChecker validates whether a trade intent passes pre-trade risk controls
// and computes risk-based position sizes.
type RiskChecker interface {
	Check(intent domain.TradeIntent) domain.RiskVerdict
	PositionSize(entry, stop decimal.Decimal) decimal.Decimal
}

// PositionBooker records filled orders as open positions. Implemented by the
// ledger.
type PositionBooker interface {
	Open(ctx context.Context, pos domain.Position) error
}

// Alerter delivers operator notifications for executed and rejected trades.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Executor reads trade intents from a channel, applies deduplication, expiry,
// and risk checks, then places orders through the execution gateway. Cancel
// intents bypass the risk pipeline and go straight to the gateway; the
// ClientID is the idempotency key end to end.
type Executor struct {
	intentCh <-chan domain.TradeIntent
	gateway  domain.ExecutionGateway
	risk     RiskChecker
	book     PositionBooker
	dedup    *Dedup
	alerts   Alerter
	stats    *metrics.Metrics
	logger   *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that reads intents from intentCh, validates
// them through risk, and places orders via gateway. alerts and stats may be
// nil.
func NewExecutor(
	intentCh <-chan domain.TradeIntent,
	gateway domain.ExecutionGateway,
	risk RiskChecker,
	book PositionBooker,
	alerts Alerter,
	stats *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		intentCh:        intentCh,
		gateway:         gateway,
		risk:            risk,
		book:            book,
		dedup:           NewDedup(2 * time.Minute),
		alerts:          alerts,
		stats:           stats,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run starts the executor's main loop. It processes intents until the context
// is cancelled, at which point it drains any remaining intents in the channel
// and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case intent, ok := <-e.intentCh:
			if !ok {
				// Channel closed; shut down.
				return nil
			}
			e.process(ctx, intent)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// SubmitManualIntent pushes an operator-initiated intent through the same
// pipeline as strategy intents: dedup, expiry, sizing, risk, gateway. The
// returned error carries domain.ErrRiskRejected when the gate refuses it.
func (e *Executor) SubmitManualIntent(ctx context.Context, intent domain.TradeIntent) error {
	if intent.Symbol == "" || intent.Quantity.IsZero() {
		return fmt.Errorf("executor: manual intent needs symbol and quantity")
	}
	if intent.ClientID == "" {
		intent.ClientID = uuid.NewString()
	}
	if intent.Source == "" {
		intent.Source = "manual"
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	intent.Manual = true
	return e.process(ctx, intent)
}

// process handles a single trade intent through the full validation and
// execution pipeline. Failures are logged here; the returned error exists for
// callers that need the outcome, like manual submission.
func (e *Executor) process(ctx context.Context, intent domain.TradeIntent) error {
	log := e.logger.With(
		slog.String("client_id", intent.ClientID),
		slog.String("source", intent.Source),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
	)
	if e.stats != nil {
		kind := intent.Kind
		if kind == "" {
			kind = domain.IntentPlace
		}
		e.stats.IntentsEmitted.WithLabelValues(intent.Source, string(kind)).Inc()
	}

	// Cancels are idempotent at the gateway and carry no new exposure: they
	// skip dedup, expiry, and risk.
	if intent.Kind == domain.IntentCancel {
		if _, err := e.gateway.CancelOrder(ctx, intent.Symbol, intent.ClientID); err != nil {
			log.Warn("order cancel failed", slog.String("error", err.Error()))
			return fmt.Errorf("executor: cancel %s: %w", intent.ClientID, err)
		}
		log.Info("order cancelled")
		return nil
	}

	// 1. Deduplication.
	if e.dedup.IsDuplicate(intent.ClientID) {
		log.Debug("intent deduplicated, skipping")
		return nil
	}

	// 2. Expiry check.
	if !intent.ExpiresAt.IsZero() && time.Now().UTC().After(intent.ExpiresAt) {
		log.Warn("intent expired, skipping",
			slog.Time("expires_at", intent.ExpiresAt),
		)
		return nil
	}

	// 3. Risk-based sizing: with a stop attached, the quantity is capped at
	// the size that keeps the stop-out loss at the configured risk per trade.
	if intent.StopLoss != nil {
		if sized := e.risk.PositionSize(intent.Price, *intent.StopLoss); sized.IsPositive() && sized.LessThan(intent.Quantity) {
			log.Debug("quantity capped by risk sizing",
				slog.String("requested", intent.Quantity.String()),
				slog.String("sized", sized.String()),
			)
			intent.Quantity = sized
		}
	}

	// 4. Pre-trade risk check.
	verdict := e.risk.Check(intent)
	if e.stats != nil {
		e.stats.RiskVerdicts.WithLabelValues(string(verdict.Status)).Inc()
	}
	if !verdict.Allowed() {
		log.Warn("risk check rejected intent",
			slog.String("reason", verdict.Reason),
		)
		e.notify(ctx, notify.EventRiskRejected, "Trade rejected",
			fmt.Sprintf("%s %s %s @ %s: %s", intent.Source, intent.Side, intent.Symbol, intent.Price, verdict.Reason))
		return fmt.Errorf("executor: %w: %s", domain.ErrRiskRejected, verdict.Reason)
	}
	if verdict.Status == domain.VerdictWarn {
		e.notify(ctx, notify.EventRiskWarned, "Trade flagged",
			fmt.Sprintf("%s %s %s @ %s: %s", intent.Source, intent.Side, intent.Symbol, intent.Price, verdict.Reason))
	}

	// 5. Place the order.
	ack, err := e.gateway.PlaceOrder(ctx, intent)
	if err != nil {
		log.Error("order placement failed",
			slog.String("error", err.Error()),
		)
		e.recordOrder(intent.Side, "error")
		return fmt.Errorf("executor: place %s: %w", intent.ClientID, err)
	}

	if ack.Status == domain.OrderStatusFailed || ack.Status == domain.OrderStatusCancelled {
		log.Warn("order rejected by exchange",
			slog.String("order_id", ack.OrderID),
			slog.String("status", string(ack.Status)),
			slog.String("message", ack.Message),
			slog.Bool("should_retry", ack.ShouldRetry),
		)
		e.recordOrder(intent.Side, string(ack.Status))
		if ack.ShouldRetry {
			e.retryOrder(ctx, intent, log)
		}
		return fmt.Errorf("executor: order %s %s: %s", intent.ClientID, ack.Status, ack.Message)
	}

	e.recordOrder(intent.Side, string(ack.Status))
	log.Info("order placed",
		slog.String("order_id", ack.OrderID),
		slog.String("status", string(ack.Status)),
	)

	if ack.Status == domain.OrderStatusFilled {
		e.bookFill(ctx, intent, ack, log)
	}
	return nil
}

// bookFill opens a ledger position for a filled order.
func (e *Executor) bookFill(ctx context.Context, intent domain.TradeIntent, ack domain.OrderAck, log *slog.Logger) {
	entry := ack.FilledPrice
	if entry.IsZero() {
		entry = intent.Price
	}
	pos := domain.Position{
		ID:         intent.ClientID,
		Symbol:     intent.Symbol,
		Side:       domain.SideForOrder(intent.Side),
		EntryPrice: entry,
		Size:       intent.Quantity,
		Status:     domain.PositionStatusOpen,
		Strategy:   intent.Source,
		Manual:     intent.Manual,
		OpenedAt:   time.Now().UTC(),
	}
	if intent.StopLoss != nil {
		pos.StopLoss = *intent.StopLoss
	}
	if intent.TakeProfit != nil {
		pos.TakeProfit = *intent.TakeProfit
	}

	if err := e.book.Open(ctx, pos); err != nil {
		// Persistence failures are flagged inside the ledger; the position is
		// still live.
		log.Warn("position booking reported error", slog.String("error", err.Error()))
	}
	e.notify(ctx, notify.EventTradeExecuted, "Trade executed",
		fmt.Sprintf("%s %s %s @ %s size %s", intent.Source, intent.Side, intent.Symbol, entry, intent.Quantity))
}

// retryOrder makes a single retry attempt for a failed order. A production
// system would use exponential back-off and a bounded retry count; this
// implementation performs one retry after a short pause.
func (e *Executor) retryOrder(ctx context.Context, intent domain.TradeIntent, log *slog.Logger) {
	// Respect expiry even for retries.
	if !intent.ExpiresAt.IsZero() && time.Now().UTC().After(intent.ExpiresAt) {
		log.Warn("intent expired during retry, giving up")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	ack, err := e.gateway.PlaceOrder(ctx, intent)
	if err != nil {
		log.Error("retry order placement failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if ack.Status == domain.OrderStatusFailed {
		log.Warn("retry order also rejected",
			slog.String("message", ack.Message),
		)
		return
	}
	e.recordOrder(intent.Side, string(ack.Status))
	log.Info("retry order placed",
		slog.String("order_id", ack.OrderID),
	)
	if ack.Status == domain.OrderStatusFilled {
		e.bookFill(ctx, intent, ack, log)
	}
}

// drain processes any intents already buffered in the channel after context
// cancellation. This ensures in-flight intents are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case intent, ok := <-e.intentCh:
			if !ok {
				return
			}
			e.logger.Warn("draining intent after shutdown",
				slog.String("client_id", intent.ClientID),
			)
			// We use a short-lived context for draining so we don't hang
			// indefinitely on external calls during shutdown.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, intent)
			cancel()
		default:
			return
		}
	}
}

func (e *Executor) notify(ctx context.Context, event, title, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(ctx, event, title, message); err != nil {
		e.logger.Debug("notification failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) recordOrder(side domain.OrderSide, status string) {
	if e.stats == nil {
		return
	}
	e.stats.OrdersPlaced.WithLabelValues(string(side), status).Inc()
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
// This is useful for testing or runtime reconfiguration.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}
