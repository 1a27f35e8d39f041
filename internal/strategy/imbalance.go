package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
	"github.com/driftware/depthbot/internal/indicator"
)

// ImbalanceConfig holds parameters for the order-flow imbalance strategy.
type ImbalanceConfig struct {
	Symbol      string
	Depth       int     // levels per side to sum
	Threshold   float64 // imbalance magnitude required to act
	EMAPeriod   int     // running EMA of the mid price
	OrderSize   decimal.Decimal
	StopLossPct decimal.Decimal // stop distance as % of entry, e.g. 1 for 1%
	IntentTTL   time.Duration
}

// Imbalance trades order-flow pressure: over the top-depth levels,
// imbalance = (bid notional - ask notional) / (total notional). It buys when
// imbalance exceeds +threshold with price above its EMA, sells on the mirror
// condition, and holds otherwise. Existing exposure gates direction: when
// long only sells are actionable, when short only buys.
type Imbalance struct {
	cfg      ImbalanceConfig
	ema      *indicator.StreamingEMA
	exposure ExposureSource
}

// NewImbalance creates the strategy. exposure may be nil, in which case both
// directions are always treated as entries.
func NewImbalance(cfg ImbalanceConfig, exposure ExposureSource) *Imbalance {
	if cfg.IntentTTL == 0 {
		cfg.IntentTTL = 30 * time.Second
	}
	return &Imbalance{
		cfg:      cfg,
		ema:      indicator.NewStreamingEMA(cfg.EMAPeriod),
		exposure: exposure,
	}
}

// Name implements Strategy.
func (s *Imbalance) Name() string { return "imbalance" }

// Init implements Strategy.
func (s *Imbalance) Init(ctx context.Context) error { return nil }

// Close implements Strategy.
func (s *Imbalance) Close() error { return nil }

// OnCandleClose is a no-op: this strategy reacts to depth only.
func (s *Imbalance) OnCandleClose(ctx context.Context, candle domain.Candle) ([]domain.TradeIntent, error) {
	return nil, nil
}

// OnDepthUpdate recomputes the imbalance and EMA and emits at most one
// intent.
func (s *Imbalance) OnDepthUpdate(ctx context.Context, view DepthView) ([]domain.TradeIntent, error) {
	if len(view.Bids) == 0 || len(view.Asks) == 0 {
		return nil, nil
	}

	price, _ := view.Mid.Float64()
	ema := s.ema.Update(price)
	if !s.ema.Ready() {
		return nil, nil
	}

	imb, ok := Imbalancef(view.Bids, view.Asks, s.cfg.Depth)
	if !ok {
		return nil, nil
	}

	var side domain.OrderSide
	switch {
	case imb > s.cfg.Threshold && price > ema:
		side = domain.OrderSideBuy
	case imb < -s.cfg.Threshold && price < ema:
		side = domain.OrderSideSell
	default:
		return nil, nil
	}

	if s.exposure != nil {
		net := s.exposure.NetExposure(view.Symbol)
		// When long, only the exit direction is actionable; same for short.
		if side == domain.OrderSideBuy && net.IsPositive() {
			return nil, nil
		}
		if side == domain.OrderSideSell && net.IsNegative() {
			return nil, nil
		}
	}

	intent := domain.TradeIntent{
		ClientID:  uuid.New().String(),
		Kind:      domain.IntentPlace,
		Source:    s.Name(),
		Symbol:    view.Symbol,
		Side:      side,
		Price:     view.Mid,
		Quantity:  s.cfg.OrderSize,
		CreatedAt: view.Timestamp,
		ExpiresAt: view.Timestamp.Add(s.cfg.IntentTTL),
	}
	if s.cfg.StopLossPct.IsPositive() {
		sl := stopFor(side, view.Mid, s.cfg.StopLossPct)
		intent.StopLoss = &sl
	}
	return []domain.TradeIntent{intent}, nil
}

// Imbalancef computes (bid notional - ask notional) / total over the top
// depth levels. ok is false when the book is empty on either side or the
// total is zero.
func Imbalancef(bids, asks []domain.PriceLevel, depth int) (float64, bool) {
	bidSum := sumNotional(bids, depth)
	askSum := sumNotional(asks, depth)
	total := bidSum.Add(askSum)
	if total.IsZero() {
		return 0, false
	}
	imb, _ := bidSum.Sub(askSum).Div(total).Float64()
	return imb, true
}

func sumNotional(levels []domain.PriceLevel, depth int) decimal.Decimal {
	if depth > len(levels) {
		depth = len(levels)
	}
	sum := decimal.Zero
	for _, l := range levels[:depth] {
		sum = sum.Add(l.Notional())
	}
	return sum
}

// stopFor places the stop below the entry for buys and above it for sells.
func stopFor(side domain.OrderSide, price, pct decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	offset := price.Mul(pct).Div(hundred)
	if side == domain.OrderSideBuy {
		return price.Sub(offset)
	}
	return price.Add(offset)
}
