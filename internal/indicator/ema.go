package indicator

// StreamingEMA maintains a running exponential moving average updated one
// observation at a time. Until period observations have arrived the value is
// the simple average of everything seen so far (SMA warm-up); after that the
// standard recursion with alpha = 2/(period+1) applies.
type StreamingEMA struct {
	period int
	alpha  float64
	count  int
	buffer []float64
	value  float64
}

// NewStreamingEMA creates a streaming EMA with the given period.
func NewStreamingEMA(period int) *StreamingEMA {
	return &StreamingEMA{
		period: period,
		alpha:  2.0 / (float64(period) + 1.0),
		buffer: make([]float64, 0, period),
	}
}

// Update feeds one price and returns the current EMA value.
func (e *StreamingEMA) Update(price float64) float64 {
	if e.count < e.period {
		e.buffer = append(e.buffer, price)
		if len(e.buffer) > e.period {
			e.buffer = e.buffer[1:]
		}
		e.count++

		var sum float64
		for _, p := range e.buffer {
			sum += p
		}
		e.value = sum / float64(len(e.buffer))
		return e.value
	}

	e.value = price*e.alpha + (1.0-e.alpha)*e.value
	return e.value
}

// Value returns the current EMA without updating it.
func (e *StreamingEMA) Value() float64 {
	return e.value
}

// Ready reports whether the warm-up window has been filled.
func (e *StreamingEMA) Ready() bool {
	return e.count >= e.period
}
