package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/driftware/depthbot/internal/book"
	"github.com/driftware/depthbot/internal/crypto"
	"github.com/driftware/depthbot/internal/domain"
	"github.com/driftware/depthbot/internal/executor"
	"github.com/driftware/depthbot/internal/feed"
	"github.com/driftware/depthbot/internal/ledger"
	"github.com/driftware/depthbot/internal/notify"
	"github.com/driftware/depthbot/internal/platform/binance"
	"github.com/driftware/depthbot/internal/risk"
	"github.com/driftware/depthbot/internal/strategy"
)

// TradeMode runs the full pipeline: depth feed, strategies, risk gate, and
// live order placement through the exchange gateway.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.runBot(ctx, deps, true)
}

// MonitorMode runs the feed and strategies but never places orders: intents
// are logged and discarded. Useful for validating signal quality against a
// live book before committing capital.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.runBot(ctx, deps, false)
}

// runBot wires the trading pipeline and blocks until the context is cancelled
// or a component fails. When placeOrders is false the executor is replaced by
// a logging drain.
func (a *App) runBot(ctx context.Context, deps *Dependencies, placeOrders bool) error {
	cfg := a.cfg
	logger := a.logger
	symbol := cfg.Strategy.Symbol

	// --- Exchange client ---
	auth := &crypto.HMACAuth{
		Key:    cfg.Exchange.ApiKey,
		Secret: cfg.Exchange.ApiSecret,
	}
	exchange := binance.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.WsURL, auth, logger)

	// --- Book replica and feed supervisor ---
	replica := book.NewReplica(symbol)
	supervisor := feed.NewSupervisor(feed.Config{
		Symbol:         symbol,
		Depth:          cfg.Feed.Depth,
		BackoffFloor:   cfg.Feed.BackoffFloor.Duration,
		BackoffCeiling: cfg.Feed.BackoffCeiling.Duration,
		SteadyDwell:    cfg.Feed.SteadyDwell.Duration,
		MaxFailures:    cfg.Feed.MaxFailures,
	}, exchange, replica, feed.SystemClock(), deps.Metrics, logger)

	// --- Risk gate and position ledger ---
	gate := risk.NewGate(risk.GateConfig{
		MaxPosition:     decimal.NewFromFloat(cfg.Risk.MaxPosition),
		MaxPositionPct:  decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		WarnPositionPct: decimal.NewFromFloat(cfg.Risk.WarnPositionPct),
		MaxDrawdownPct:  decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
		DefaultLossPct:  decimal.NewFromFloat(cfg.Risk.DefaultLossPct),
		RiskPerTrade:    decimal.NewFromFloat(cfg.Risk.RiskPerTrade),
	}, decimal.NewFromFloat(cfg.Risk.StartingBalance), logger)

	positions := ledger.New(deps.PositionStore, deps.EventBus, gate, logger)
	if err := positions.LoadOpen(ctx); err != nil {
		return err
	}

	// --- Strategies ---
	orderSize := decimal.NewFromFloat(cfg.Strategy.OrderSize)

	imb := strategy.NewImbalance(strategy.ImbalanceConfig{
		Symbol:      symbol,
		Depth:       cfg.Strategy.Imbalance.Depth,
		Threshold:   cfg.Strategy.Imbalance.Threshold,
		EMAPeriod:   cfg.Strategy.Imbalance.EMAPeriod,
		OrderSize:   orderSize,
		StopLossPct: decimal.NewFromFloat(cfg.Strategy.Imbalance.StopLossPct),
		IntentTTL:   cfg.Strategy.Imbalance.IntentTTL.Duration,
	}, positions)

	grid := strategy.NewGrid(strategy.GridConfig{
		Symbol:     symbol,
		Levels:     cfg.Strategy.Grid.Levels,
		Spacing:    decimal.NewFromFloat(cfg.Strategy.Grid.Spacing),
		OrderSize:  orderSize,
		FastPeriod: cfg.Strategy.Grid.FastPeriod,
		SlowPeriod: cfg.Strategy.Grid.SlowPeriod,
		ATRPeriod:  cfg.Strategy.Grid.ATRPeriod,
		KATR:       cfg.Strategy.Grid.KATR,
		BandATRs:   cfg.Strategy.Grid.BandATRs,
		IntentTTL:  cfg.Strategy.Grid.IntentTTL.Duration,
	}, deps.GridOrderStore, logger)

	registry := strategy.NewRegistry()
	registry.Register(imb.Name(), imb)
	registry.Register(grid.Name(), grid)

	if err := a.warmup(ctx, exchange, registry, cfg.Strategy.Active); err != nil {
		logger.Warn("indicator warmup incomplete", slog.String("error", err.Error()))
	}

	intentCh := make(chan domain.TradeIntent, 256)
	engine := strategy.NewEngine(registry, intentCh, deps.SignalStore, deps.EventBus, logger)
	if err := engine.SetActiveNames(cfg.Strategy.Active); err != nil {
		return err
	}

	// --- Depth fan-in: triggers, mark-to-market, cache, strategies ---
	// The trigger and cache work touches Postgres and Redis, so it runs on
	// its own goroutine; the feed handler only enqueues.
	pump := newDepthPump(256, func(ctx context.Context, du domain.DepthUpdate) {
		if !du.HasBid || !du.HasAsk {
			return
		}
		mid := du.BestBid.Price.Add(du.BestAsk.Price).Div(decimal.NewFromInt(2))

		positions.CheckTriggers(ctx, symbol, mid)
		positions.MarkToMarket(symbol, mid)

		deps.Metrics.OpenPositions.Set(float64(len(positions.OpenPositions())))
		deps.Metrics.AccountBalance.Set(gate.Account().Balance.InexactFloat64())

		if err := deps.PriceCache.SetPrice(ctx, symbol, mid.InexactFloat64(), du.Timestamp); err != nil {
			logger.Debug("price cache update failed", slog.String("error", err.Error()))
		}

		bids, asks := replica.TopLevels(cfg.Strategy.Imbalance.Depth)
		view := strategy.DepthView{
			Symbol:    symbol,
			Bids:      bids,
			Asks:      asks,
			Mid:       mid,
			Timestamp: du.Timestamp,
		}
		if err := engine.HandleDepth(ctx, view); err != nil {
			logger.Error("depth dispatch failed", slog.String("error", err.Error()))
		}
	}, logger)
	supervisor.OnDepth(pump.offer)
	supervisor.UseBus(deps.EventBus)

	feeder := feed.NewCandleFeeder(exchange, engine, symbol,
		cfg.Feed.CandleInterval, cfg.Feed.CandlePoll.Duration, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := supervisor.Run(gctx)
		if errors.Is(err, domain.ErrFeedHalted) && deps.Notifier != nil {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if nerr := deps.Notifier.Notify(nctx, notify.EventFeedHalted, "Feed halted",
				fmt.Sprintf("%s depth feed halted: %v", symbol, err)); nerr != nil {
				logger.Warn("halt notification failed", slog.String("error", nerr.Error()))
			}
		}
		return err
	})
	g.Go(func() error { return pump.run(gctx) })
	g.Go(func() error { return feeder.Run(gctx) })
	g.Go(func() error { return engine.RunAll(gctx) })

	if placeOrders {
		exec := executor.NewExecutor(intentCh, exchange, gate, positions, deps.Notifier, deps.Metrics, logger)
		g.Go(func() error { return exec.Run(gctx) })
	} else {
		g.Go(func() error { return drainIntents(gctx, intentCh, logger) })
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(gctx, deps) })
	}

	return g.Wait()
}

// warmup replays recent historical candles through the enabled strategies so
// their indicators are primed before the first live event arrives.
func (a *App) warmup(ctx context.Context, source domain.CandleSource, registry *strategy.Registry, active []string) error {
	limit := a.cfg.Feed.WarmupCandles
	if limit <= 0 {
		return nil
	}

	candles, err := source.FetchCandles(ctx, a.cfg.Strategy.Symbol, a.cfg.Feed.CandleInterval, limit)
	if err != nil {
		return err
	}
	// The most recent bar may still be forming; skip it.
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}

	for _, name := range active {
		s, err := registry.Get(name)
		if err != nil {
			return err
		}
		if err := s.Init(ctx); err != nil {
			return err
		}
		for _, c := range candles {
			// Intents raised during replay reference stale prices; drop them.
			if _, err := s.OnCandleClose(ctx, c); err != nil {
				return err
			}
		}
	}

	a.logger.Info("indicator warmup complete",
		slog.Int("candles", len(candles)),
		slog.Any("strategies", active),
	)
	return nil
}

// depthPump hands depth updates from the feed goroutine to a dedicated
// worker. offer never blocks: when the worker falls behind, updates are
// dropped, and the next one carries the fresher book anyway.
type depthPump struct {
	ch     chan domain.DepthUpdate
	apply  func(ctx context.Context, du domain.DepthUpdate)
	logger *slog.Logger
}

func newDepthPump(buffer int, apply func(ctx context.Context, du domain.DepthUpdate), logger *slog.Logger) *depthPump {
	return &depthPump{
		ch:     make(chan domain.DepthUpdate, buffer),
		apply:  apply,
		logger: logger.With(slog.String("component", "depth_pump")),
	}
}

// offer enqueues an update without blocking the caller.
func (p *depthPump) offer(ctx context.Context, du domain.DepthUpdate) {
	select {
	case p.ch <- du:
	default:
		p.logger.Debug("depth update dropped, worker busy", slog.Uint64("seq", du.Seq))
	}
}

// run applies queued updates until the context is cancelled.
func (p *depthPump) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case du := <-p.ch:
			p.apply(ctx, du)
		}
	}
}

// drainIntents consumes and logs intents without acting on them.
func drainIntents(ctx context.Context, intentCh <-chan domain.TradeIntent, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case intent := <-intentCh:
			logger.Info("intent observed (monitor mode)",
				slog.String("source", intent.Source),
				slog.String("symbol", intent.Symbol),
				slog.String("side", string(intent.Side)),
				slog.String("price", intent.Price.String()),
				slog.String("quantity", intent.Quantity.String()),
			)
		}
	}
}

// serveMetrics exposes the Prometheus endpoint until the context is
// cancelled.
func (a *App) serveMetrics(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", deps.Metrics.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.logger.Info("metrics server listening", slog.String("addr", a.cfg.Metrics.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
