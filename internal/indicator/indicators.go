// Package indicator provides pure numeric technical-analysis utilities. All
// arithmetic is float64; money accounting elsewhere uses exact decimals and
// converts at the boundary.
package indicator

import (
	"math"

	"github.com/driftware/depthbot/internal/domain"
)

// SMA returns the simple moving average series. The result has
// len(prices)-period+1 entries; it is empty when there is not enough data.
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	out := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average series, seeded with the SMA of
// the first period values and smoothed with alpha = 2/(period+1).
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)

	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	seed /= float64(period)

	out := make([]float64, 0, len(prices)-period+1)
	out = append(out, seed)
	for _, p := range prices[period:] {
		out = append(out, alpha*p+(1.0-alpha)*out[len(out)-1])
	}
	return out
}

// RSI returns the relative strength index series using Wilder's smoothing.
// When the average loss is zero the RSI is 100.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(gains)-period+1)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*(float64(period)-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*(float64(period)-1) + losses[i]) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Bollinger returns the upper band, middle (SMA), and lower band series for
// the given period and standard-deviation multiplier.
func Bollinger(prices []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	middle = SMA(prices, period)
	if middle == nil {
		return nil, nil, nil
	}
	upper = make([]float64, len(middle))
	lower = make([]float64, len(middle))
	for i := range middle {
		window := prices[i : i+period]
		var variance float64
		for _, p := range window {
			d := p - middle[i]
			variance += d * d
		}
		sigma := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + stdDev*sigma
		lower[i] = middle[i] - stdDev*sigma
	}
	return upper, middle, lower
}

// MACD returns the MACD line (fast EMA - slow EMA), the signal line (EMA of
// the MACD line), and the histogram (MACD - signal).
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (macd, signal, histogram []float64) {
	fast := EMA(prices, fastPeriod)
	slow := EMA(prices, slowPeriod)
	if fast == nil || slow == nil {
		return nil, nil, nil
	}
	// Align tails: both series end at the last price.
	n := len(fast)
	if len(slow) < n {
		n = len(slow)
	}
	fast = fast[len(fast)-n:]
	slow = slow[len(slow)-n:]

	macd = make([]float64, n)
	for i := 0; i < n; i++ {
		macd[i] = fast[i] - slow[i]
	}
	signal = EMA(macd, signalPeriod)
	if signal == nil {
		return macd, nil, nil
	}
	m := len(signal)
	histogram = make([]float64, m)
	tail := macd[len(macd)-m:]
	for i := 0; i < m; i++ {
		histogram[i] = tail[i] - signal[i]
	}
	return macd, signal, histogram
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c, prev domain.Candle) float64 {
	hl := c.High - c.Low
	hc := math.Abs(c.High - prev.Close)
	lc := math.Abs(c.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the average true range series, an EMA over the true ranges.
func ATR(candles []domain.Candle, period int) []float64 {
	if len(candles) < 2 {
		return nil
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, TrueRange(candles[i], candles[i-1]))
	}
	return EMA(trs, period)
}
