package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
	"github.com/driftware/depthbot/internal/indicator"
)

// GridConfig holds parameters for the regime/grid strategy.
type GridConfig struct {
	Symbol     string
	Levels     int             // ladder size, N >= 2
	Spacing    decimal.Decimal // replacement offset as a fraction, e.g. 0.01
	OrderSize  decimal.Decimal
	FastPeriod int
	SlowPeriod int
	ATRPeriod  int
	KATR       float64 // regime threshold multiplier
	BandATRs   float64 // ladder half-width in ATRs
	IntentTTL  time.Duration
}

// Grid runs a resting-order ladder in range-bound regimes. On entering
// RangeBound with no active grid it lays a geometric ladder of Levels prices
// over [slowEMA - BandATRs*ATR, slowEMA + BandATRs*ATR]; levels below the
// center are buy targets, above are sell targets. Leaving RangeBound cancels
// every open grid order. A filled level produces exactly one opposite-side
// replacement at level*(1 +/- Spacing), preserving grid round-trips.
type Grid struct {
	cfg      GridConfig
	detector *indicator.TrendDetector
	store    domain.GridOrderStore
	logger   *slog.Logger

	active bool
	regime indicator.Regime
	slots  []domain.GridOrder
}

// NewGrid creates the strategy. store may be nil; the ladder then lives only
// in memory.
func NewGrid(cfg GridConfig, store domain.GridOrderStore, logger *slog.Logger) *Grid {
	if cfg.BandATRs == 0 {
		cfg.BandATRs = 4.0
	}
	if cfg.IntentTTL == 0 {
		cfg.IntentTTL = time.Minute
	}
	return &Grid{
		cfg:      cfg,
		detector: indicator.NewTrendDetector(cfg.FastPeriod, cfg.SlowPeriod, cfg.ATRPeriod, cfg.KATR),
		store:    store,
		logger:   logger.With(slog.String("component", "grid_strategy")),
		regime:   indicator.RegimeRangeBound,
	}
}

// Name implements Strategy.
func (s *Grid) Name() string { return "grid" }

// Init implements Strategy.
func (s *Grid) Init(ctx context.Context) error { return nil }

// Close implements Strategy.
func (s *Grid) Close() error { return nil }

// Warmup feeds historical candles into the trend detector before the live
// loop starts.
func (s *Grid) Warmup(candles []domain.Candle) {
	s.detector.Warmup(candles)
}

// Active reports whether a grid ladder is currently deployed.
func (s *Grid) Active() bool { return s.active }

// OnCandleClose updates the trend detector and manages grid lifecycle on
// regime transitions.
func (s *Grid) OnCandleClose(ctx context.Context, candle domain.Candle) ([]domain.TradeIntent, error) {
	s.detector.Update(candle)
	regime, ok := s.detector.Classify()
	if !ok {
		return nil, nil
	}
	prev := s.regime
	s.regime = regime

	switch {
	case regime == indicator.RegimeRangeBound && !s.active:
		return s.deploy(ctx, candle.OpenTime)
	case regime != indicator.RegimeRangeBound && s.active:
		s.logger.Info("regime left range, cancelling grid",
			slog.String("from", prev.String()),
			slog.String("to", regime.String()),
		)
		return s.teardown(ctx, candle.OpenTime), nil
	}
	return nil, nil
}

// OnDepthUpdate detects grid fills: a buy level fills when the mid price
// trades down to it, a sell level when the mid trades up to it. Each fill
// emits exactly one opposite-side replacement.
func (s *Grid) OnDepthUpdate(ctx context.Context, view DepthView) ([]domain.TradeIntent, error) {
	if !s.active || view.Mid.IsZero() {
		return nil, nil
	}

	var intents []domain.TradeIntent
	for i := range s.slots {
		slot := &s.slots[i]
		if slot.Status != domain.GridOrderPlaced {
			continue
		}
		filled := (slot.Side == domain.OrderSideBuy && view.Mid.LessThanOrEqual(slot.Price)) ||
			(slot.Side == domain.OrderSideSell && view.Mid.GreaterThanOrEqual(slot.Price))
		if !filled {
			continue
		}

		slot.Status = domain.GridOrderFilled
		slot.UpdatedAt = view.Timestamp
		s.persist(ctx, *slot)

		replacement := s.replace(*slot, view.Timestamp)
		intents = append(intents, placeIntent(replacement, s.Name(), s.cfg.IntentTTL))
		s.slots = append(s.slots, replacement)
		s.persist(ctx, replacement)

		s.logger.Info("grid level filled",
			slog.String("side", string(slot.Side)),
			slog.String("price", slot.Price.String()),
			slog.String("replacement_price", replacement.Price.String()),
		)
	}
	return intents, nil
}

// deploy builds the ladder around the slow EMA and emits one placement per
// level.
func (s *Grid) deploy(ctx context.Context, ts time.Time) ([]domain.TradeIntent, error) {
	state := s.detector.State()
	center := state.SlowAvg
	half := s.cfg.BandATRs * state.ATR
	levels := indicator.GeometricLevels(center-half, center+half, s.cfg.Levels)
	if levels == nil {
		s.logger.Warn("grid skipped: degenerate ladder bounds",
			slog.Float64("center", center),
			slog.Float64("half_width", half),
		)
		return nil, nil
	}

	centerDec := decimal.NewFromFloat(center)
	intents := make([]domain.TradeIntent, 0, len(levels))
	s.slots = s.slots[:0]
	for i, level := range levels {
		price := decimal.NewFromFloat(level)
		side := domain.OrderSideBuy
		if price.GreaterThan(centerDec) {
			side = domain.OrderSideSell
		}
		order := domain.GridOrder{
			ID:        uuid.New().String(),
			Symbol:    s.cfg.Symbol,
			Side:      side,
			Price:     price,
			Quantity:  s.cfg.OrderSize,
			Level:     i,
			Status:    domain.GridOrderPlaced,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		s.slots = append(s.slots, order)
		s.persist(ctx, order)
		intents = append(intents, placeIntent(order, s.Name(), s.cfg.IntentTTL))
	}
	s.active = true
	s.logger.Info("grid deployed",
		slog.Int("levels", len(levels)),
		slog.Float64("center", center),
		slog.Float64("atr", state.ATR),
	)
	return intents, nil
}

// teardown cancels every open slot and clears the ladder.
func (s *Grid) teardown(ctx context.Context, ts time.Time) []domain.TradeIntent {
	var intents []domain.TradeIntent
	for i := range s.slots {
		slot := &s.slots[i]
		if slot.Status != domain.GridOrderPlaced {
			continue
		}
		slot.Status = domain.GridOrderCancelled
		slot.UpdatedAt = ts
		s.persist(ctx, *slot)
		intents = append(intents, domain.TradeIntent{
			ClientID:  slot.ID,
			Kind:      domain.IntentCancel,
			Source:    s.Name(),
			Symbol:    slot.Symbol,
			Side:      slot.Side,
			Price:     slot.Price,
			CreatedAt: ts,
		})
	}
	s.slots = s.slots[:0]
	s.active = false
	return intents
}

// replace builds the opposite-side replacement for a filled slot: a buy fill
// at L is replaced by a sell at L*(1+spacing), a sell fill by a buy at
// L*(1-spacing).
func (s *Grid) replace(filled domain.GridOrder, ts time.Time) domain.GridOrder {
	one := decimal.NewFromInt(1)
	var price decimal.Decimal
	if filled.Side == domain.OrderSideBuy {
		price = filled.Price.Mul(one.Add(s.cfg.Spacing))
	} else {
		price = filled.Price.Mul(one.Sub(s.cfg.Spacing))
	}
	return domain.GridOrder{
		ID:        uuid.New().String(),
		Symbol:    filled.Symbol,
		Side:      filled.Side.Opposite(),
		Price:     price,
		Quantity:  filled.Quantity,
		Level:     filled.Level,
		Status:    domain.GridOrderPlaced,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func (s *Grid) persist(ctx context.Context, order domain.GridOrder) {
	if s.store == nil {
		return
	}
	if err := s.store.Upsert(ctx, order); err != nil {
		s.logger.Warn("grid order persist failed",
			slog.String("grid_order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

func placeIntent(order domain.GridOrder, source string, ttl time.Duration) domain.TradeIntent {
	return domain.TradeIntent{
		ClientID:  order.ID,
		Kind:      domain.IntentPlace,
		Source:    source,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     order.Price,
		Quantity:  order.Quantity,
		CreatedAt: order.CreatedAt,
		ExpiresAt: order.CreatedAt.Add(ttl),
	}
}
