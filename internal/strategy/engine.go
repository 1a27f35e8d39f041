package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftware/depthbot/internal/domain"
)

// Engine orchestrates the execution of one or more strategies. It receives
// depth and candle events, delegates them to the active strategy (or fans out
// to all when using RunAll), and forwards any resulting trade intents to the
// intent channel consumed by the executor layer.
type Engine struct {
	registry    *Registry
	active      Strategy
	activeNames []string
	intentCh    chan<- domain.TradeIntent
	signals     domain.SignalStore
	bus         domain.EventBus
	logger      *slog.Logger

	// Multi-strategy: per-name channels for fan-out. Used when activeNames is set.
	mu       sync.Mutex
	depthChs map[string]chan DepthView
	candChs  map[string]chan domain.Candle
	closed   bool

	recentIntents []domain.TradeIntent
	recentLimit   int
}

// NewEngine creates an Engine. The intentCh is the output channel where
// emitted TradeIntents are sent to the executor. signals and bus may be nil;
// recording is then skipped.
func NewEngine(registry *Registry, intentCh chan<- domain.TradeIntent, signals domain.SignalStore, bus domain.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		intentCh:    intentCh,
		signals:     signals,
		bus:         bus,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// ActiveName returns the current active strategy name (single-strategy mode)
// or a comma-separated list (multi-strategy mode). Empty if none set.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active.Name()
	}
	if len(e.activeNames) > 0 {
		return strings.Join(e.activeNames, ",")
	}
	return ""
}

// ListNames returns the names of all registered strategies in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// RecentIntents returns up to limit most recent emitted intents in reverse
// chronological order (newest first).
func (e *Engine) RecentIntents(limit int) []domain.TradeIntent {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentIntents)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeIntent, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentIntents[i])
	}
	return out
}

// SetActive switches the active strategy to the one registered under name
// (single-strategy mode). It returns an error if the name is not found in the
// registry.
func (e *Engine) SetActive(name string) error {
	e.mu.Lock()
	e.activeNames = nil
	e.mu.Unlock()
	s, err := e.registry.Get(name)
	if err != nil {
		return fmt.Errorf("set active strategy: %w", err)
	}
	e.active = s
	e.logger.Info("active strategy changed", slog.String("strategy", name))
	return nil
}

// SetActiveNames enables multi-strategy mode: all listed strategies will
// receive events when RunAll is used. Names must be registered in the
// registry.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// Close existing channels if any
	e.closeStrategyChannelsLocked()
	e.active = nil
	e.activeNames = names
	buf := 32
	e.depthChs = make(map[string]chan DepthView, len(names))
	e.candChs = make(map[string]chan domain.Candle, len(names))
	for _, name := range names {
		e.depthChs[name] = make(chan DepthView, buf)
		e.candChs[name] = make(chan domain.Candle, buf)
	}
	e.closed = false
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

func (e *Engine) closeStrategyChannelsLocked() {
	for _, ch := range e.depthChs {
		close(ch)
	}
	for _, ch := range e.candChs {
		close(ch)
	}
	e.depthChs = nil
	e.candChs = nil
}

// HandleDepth feeds a depth view to the active strategy (or all active when
// using RunAll) and emits any resulting intents. Fan-out is non-blocking: a
// strategy that falls behind loses updates rather than stalling the feed.
func (e *Engine) HandleDepth(ctx context.Context, view DepthView) error {
	e.mu.Lock()
	names := e.activeNames
	depthChs := e.depthChs
	active := e.active
	e.mu.Unlock()

	if len(names) > 0 && depthChs != nil {
		for _, name := range names {
			if ch, ok := depthChs[name]; ok {
				select {
				case ch <- view:
				case <-ctx.Done():
					return ctx.Err()
				default:
					// Buffer full, skip this update for this strategy
				}
			}
		}
		return nil
	}
	if active == nil {
		return fmt.Errorf("no active strategy set")
	}
	intents, err := active.OnDepthUpdate(ctx, view)
	if err != nil {
		return fmt.Errorf("strategy %s OnDepthUpdate: %w", active.Name(), err)
	}
	e.emit(ctx, intents)
	return nil
}

// HandleCandle feeds a completed candle to the active strategy or all.
func (e *Engine) HandleCandle(ctx context.Context, candle domain.Candle) error {
	e.mu.Lock()
	names := e.activeNames
	candChs := e.candChs
	active := e.active
	e.mu.Unlock()

	if len(names) > 0 && candChs != nil {
		for _, name := range names {
			if ch, ok := candChs[name]; ok {
				select {
				case ch <- candle:
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		}
		return nil
	}
	if active == nil {
		return fmt.Errorf("no active strategy set")
	}
	intents, err := active.OnCandleClose(ctx, candle)
	if err != nil {
		return fmt.Errorf("strategy %s OnCandleClose: %w", active.Name(), err)
	}
	e.emit(ctx, intents)
	return nil
}

// runStrategy runs a single strategy in a loop, reading from its channels and
// emitting intents.
func (e *Engine) runStrategy(ctx context.Context, name string) error {
	strat, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	if err := strat.Init(ctx); err != nil {
		e.logger.Error("strategy init failed", slog.String("strategy", name), slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = strat.Close() }()

	e.mu.Lock()
	depthCh := e.depthChs[name]
	candCh := e.candChs[name]
	e.mu.Unlock()
	if depthCh == nil || candCh == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view, ok := <-depthCh:
			if !ok {
				return nil
			}
			intents, err := strat.OnDepthUpdate(ctx, view)
			if err != nil {
				e.logger.Warn("strategy OnDepthUpdate error", slog.String("strategy", name), slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, intents)
		case candle, ok := <-candCh:
			if !ok {
				return nil
			}
			intents, err := strat.OnCandleClose(ctx, candle)
			if err != nil {
				e.logger.Warn("strategy OnCandleClose error", slog.String("strategy", name), slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, intents)
		}
	}
}

// Run starts the engine's main loop (single-strategy mode). It blocks until
// the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started")
	defer e.logger.Info("strategy engine stopped")
	<-ctx.Done()
	return ctx.Err()
}

// RunAll starts one goroutine per enabled strategy. Each strategy receives
// events via its channels and emits to the shared intentCh. Blocks until
// context is cancelled.
func (e *Engine) RunAll(ctx context.Context) error {
	e.mu.Lock()
	names := make([]string, len(e.activeNames))
	copy(names, e.activeNames)
	e.mu.Unlock()
	if len(names) == 0 {
		e.logger.Info("RunAll: no active strategies, blocking until context done")
		<-ctx.Done()
		return ctx.Err()
	}

	e.logger.Info("strategy engine RunAll started", slog.Any("strategies", names))
	defer func() {
		e.mu.Lock()
		e.closeStrategyChannelsLocked()
		e.closed = true
		e.mu.Unlock()
		e.logger.Info("strategy engine RunAll stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return e.runStrategy(gctx, name)
		})
	}
	return g.Wait()
}

// emit sends each intent to the intent channel and records it for
// observability. It respects context cancellation.
func (e *Engine) emit(ctx context.Context, intents []domain.TradeIntent) {
	for i := range intents {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting intents",
				slog.Int("remaining", len(intents)-i),
			)
			return
		case e.intentCh <- intents[i]:
			e.remember(intents[i])
			e.record(ctx, intents[i])
			e.logger.Debug("intent emitted",
				slog.String("client_id", intents[i].ClientID),
				slog.String("source", intents[i].Source),
				slog.String("kind", string(intents[i].Kind)),
				slog.String("side", string(intents[i].Side)),
			)
		}
	}
}

// record writes the decision to the signal store and publishes it on the
// event bus. Both are best-effort and never block emission.
func (e *Engine) record(ctx context.Context, intent domain.TradeIntent) {
	if intent.Kind == domain.IntentCancel {
		return
	}
	sig := domain.SignalRecord{
		ID:        intent.ClientID,
		Strategy:  intent.Source,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Price:     intent.Price,
		CreatedAt: intent.CreatedAt,
	}
	if e.signals != nil {
		insertCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := e.signals.Insert(insertCtx, sig); err != nil {
			e.logger.Warn("signal insert failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	if e.bus != nil {
		if payload, err := json.Marshal(sig); err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelSignals, payload); err != nil {
				e.logger.Debug("signal publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) remember(intent domain.TradeIntent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentIntents = append(e.recentIntents, intent)
	if overflow := len(e.recentIntents) - e.recentLimit; overflow > 0 {
		e.recentIntents = append([]domain.TradeIntent(nil), e.recentIntents[overflow:]...)
	}
}
