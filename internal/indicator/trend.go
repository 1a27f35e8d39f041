package indicator

import (
	"math"

	"github.com/driftware/depthbot/internal/domain"
)

// Regime classifies the market from the fast/slow EMA gap against an
// ATR-scaled threshold.
type Regime int

const (
	RegimeRangeBound Regime = iota
	RegimeUp
	RegimeDown
)

// String returns the regime name for logging.
func (r Regime) String() string {
	switch r {
	case RegimeUp:
		return "up"
	case RegimeDown:
		return "down"
	default:
		return "range_bound"
	}
}

// TrendState is a snapshot of the detector's internals after the last candle.
type TrendState struct {
	FastAvg     float64
	SlowAvg     float64
	ATR         float64
	Initialized bool
}

// TrendDetector maintains a fast EMA, a slow EMA, and an ATR (true-range
// EMA), updated once per completed candle. The market is Up when
// fastEMA-slowEMA exceeds kATR*ATR, Down when below -kATR*ATR, and
// RangeBound otherwise.
type TrendDetector struct {
	fast *StreamingEMA
	slow *StreamingEMA
	atr  *StreamingEMA
	kATR float64

	prev    domain.Candle
	candles int
}

// NewTrendDetector creates a detector with the given EMA and ATR periods and
// threshold multiplier.
func NewTrendDetector(fastPeriod, slowPeriod, atrPeriod int, kATR float64) *TrendDetector {
	return &TrendDetector{
		fast: NewStreamingEMA(fastPeriod),
		slow: NewStreamingEMA(slowPeriod),
		atr:  NewStreamingEMA(atrPeriod),
		kATR: kATR,
	}
}

// Update feeds one completed candle.
func (d *TrendDetector) Update(c domain.Candle) {
	d.fast.Update(c.Close)
	d.slow.Update(c.Close)
	if d.candles > 0 {
		d.atr.Update(TrueRange(c, d.prev))
	}
	d.prev = c
	d.candles++
}

// Warmup feeds a batch of historical candles in order.
func (d *TrendDetector) Warmup(candles []domain.Candle) {
	for _, c := range candles {
		d.Update(c)
	}
}

// Initialized reports whether all three averages have filled their warm-up
// windows.
func (d *TrendDetector) Initialized() bool {
	return d.fast.Ready() && d.slow.Ready() && d.atr.Ready()
}

// State returns a copy of the detector internals.
func (d *TrendDetector) State() TrendState {
	return TrendState{
		FastAvg:     d.fast.Value(),
		SlowAvg:     d.slow.Value(),
		ATR:         d.atr.Value(),
		Initialized: d.Initialized(),
	}
}

// Classify returns the current regime. Before initialization it always
// returns RangeBound with initialized=false so callers can skip acting on it.
func (d *TrendDetector) Classify() (Regime, bool) {
	if !d.Initialized() {
		return RegimeRangeBound, false
	}
	gap := d.fast.Value() - d.slow.Value()
	threshold := d.kATR * d.atr.Value()
	switch {
	case gap > threshold:
		return RegimeUp, true
	case gap < -threshold:
		return RegimeDown, true
	default:
		return RegimeRangeBound, true
	}
}

// GeometricLevels builds an n-level geometric ladder over [lower, upper]:
// level[i] = lower * (upper/lower)^(i/(n-1)). Returns nil when the bounds are
// not positive or n < 2.
func GeometricLevels(lower, upper float64, n int) []float64 {
	if n < 2 || lower <= 0 || upper <= lower {
		return nil
	}
	ratio := upper / lower
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = lower * math.Pow(ratio, float64(i)/float64(n-1))
	}
	return out
}
