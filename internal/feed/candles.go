package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftware/depthbot/internal/domain"
)

// CandleSink consumes completed candles; implemented by the strategy engine.
type CandleSink interface {
	HandleCandle(ctx context.Context, candle domain.Candle) error
}

// CandleFeeder polls the exchange for completed candles on a fixed interval
// and forwards each new bar to the sink. The exchange's kline endpoint always
// returns the in-progress bar last, so the feeder forwards the second-to-last
// entry and tracks its open time to avoid duplicates.
type CandleFeeder struct {
	source   domain.CandleSource
	sink     CandleSink
	symbol   string
	interval string
	poll     time.Duration
	logger   *slog.Logger

	lastOpen time.Time
}

// NewCandleFeeder creates a feeder polling at the given cadence. poll should
// be a fraction of the candle interval so closes are picked up promptly.
func NewCandleFeeder(source domain.CandleSource, sink CandleSink, symbol, interval string, poll time.Duration, logger *slog.Logger) *CandleFeeder {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &CandleFeeder{
		source:   source,
		sink:     sink,
		symbol:   symbol,
		interval: interval,
		poll:     poll,
		logger:   logger.With(slog.String("component", "candle_feeder"), slog.String("symbol", symbol)),
	}
}

// Run polls until the context is cancelled. Fetch errors are logged and
// retried on the next tick.
func (f *CandleFeeder) Run(ctx context.Context) error {
	f.logger.Info("candle feeder started", slog.String("interval", f.interval))
	defer f.logger.Info("candle feeder stopped")

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.tick(ctx); err != nil {
				f.logger.Warn("candle poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (f *CandleFeeder) tick(ctx context.Context) error {
	candles, err := f.source.FetchCandles(ctx, f.symbol, f.interval, 2)
	if err != nil {
		return err
	}
	if len(candles) < 2 {
		return nil
	}
	closed := candles[len(candles)-2]
	if !closed.OpenTime.After(f.lastOpen) {
		return nil
	}
	f.lastOpen = closed.OpenTime

	if err := f.sink.HandleCandle(ctx, closed); err != nil {
		f.logger.Warn("candle handoff failed", slog.String("error", err.Error()))
	}
	return nil
}
