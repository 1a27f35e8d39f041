// Package feed keeps the local depth replica synchronized with the exchange.
// The supervisor owns the connect/snapshot/stream lifecycle: the replica path
// is lossless (every applied delta mutates the book before anything else sees
// it), while downstream fan-out is best-effort.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftware/depthbot/internal/book"
	"github.com/driftware/depthbot/internal/domain"
	"github.com/driftware/depthbot/internal/metrics"
)

// State is the supervisor's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSnapshotting
	StateStreaming
	StateHalted
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSnapshotting:
		return "snapshotting"
	case StateStreaming:
		return "streaming"
	case StateHalted:
		return "halted"
	default:
		return "disconnected"
	}
}

// Config holds supervisor tuning. Zero values fall back to the defaults noted
// per field.
type Config struct {
	Symbol         string
	Depth          int           // snapshot depth, default 10
	BackoffFloor   time.Duration // first reconnect delay, default 500ms
	BackoffCeiling time.Duration // max reconnect delay, default 30s
	SteadyDwell    time.Duration // streaming time that resets backoff, default 30s
	MaxFailures    int           // consecutive failed sessions before halt, 0 = never
}

func (c Config) withDefaults() Config {
	if c.Depth <= 0 {
		c.Depth = 10
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = 500 * time.Millisecond
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
	if c.SteadyDwell <= 0 {
		c.SteadyDwell = 30 * time.Second
	}
	return c
}

// DepthHandler receives a depth update after the replica has applied it.
// Handlers must be fast; slow consumers belong behind their own channel.
type DepthHandler func(ctx context.Context, update domain.DepthUpdate)

// Supervisor drives one symbol's depth feed through the
// disconnected/connecting/snapshotting/streaming lifecycle, applying
// snapshots and deltas to the replica and re-snapshotting on sequence gaps.
// Reconnects use exponential backoff between BackoffFloor and BackoffCeiling;
// a session that streams for at least SteadyDwell resets the backoff.
type Supervisor struct {
	cfg     Config
	source  domain.MarketDataSource
	replica *book.Replica
	clock   Clock
	stats   *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	handlers []DepthHandler
	failures int
	bus      domain.EventBus
}

// NewSupervisor creates a Supervisor. clock may be nil (system clock); stats
// may be nil.
func NewSupervisor(cfg Config, source domain.MarketDataSource, replica *book.Replica, clock Clock, stats *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if clock == nil {
		clock = SystemClock()
	}
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		source:  source,
		replica: replica,
		clock:   clock,
		stats:   stats,
		logger:  logger.With(slog.String("component", "feed_supervisor"), slog.String("symbol", cfg.Symbol)),
		state:   StateDisconnected,
	}
}

// OnDepth registers a handler invoked after each applied update. Must be
// called before Run.
func (s *Supervisor) OnDepth(h DepthHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// UseBus attaches an event bus for lifecycle announcements such as a feed
// halt. Must be called before Run; nil disables publication.
func (s *Supervisor) UseBus(bus domain.EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Replica returns the depth replica this supervisor maintains.
func (s *Supervisor) Replica() *book.Replica { return s.replica }

// Run drives the reconnect loop until the context is cancelled or the
// consecutive-failure limit halts the feed.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("feed supervisor started")
	defer s.logger.Info("feed supervisor stopped")

	backoff := s.cfg.BackoffFloor
	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateDisconnected)
			return err
		}

		start := s.clock.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}

		// A session that streamed long enough counts as healthy: the next
		// reconnect starts from the floor again.
		if s.clock.Now().Sub(start) >= s.cfg.SteadyDwell {
			backoff = s.cfg.BackoffFloor
			s.resetFailures()
		}

		failures := s.addFailure()
		if s.cfg.MaxFailures > 0 && failures >= s.cfg.MaxFailures {
			s.setState(StateHalted)
			s.logger.Error("feed halted after repeated failures",
				slog.Int("failures", failures),
				slog.String("error", errString(err)),
			)
			s.publishHalt(ctx, failures, err)
			return fmt.Errorf("feed: %d consecutive session failures: %w", failures, domain.ErrFeedHalted)
		}

		s.setState(StateDisconnected)
		s.logger.Warn("feed session ended, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
			slog.Int("failures", failures),
		)
		if s.stats != nil {
			s.stats.FeedReconnects.Inc()
		}

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return ctx.Err()
		case <-s.clock.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.BackoffCeiling {
			backoff = s.cfg.BackoffCeiling
		}
	}
}

// session runs one connect/snapshot/stream pass. It returns when the stream
// ends or an unrecoverable error occurs.
func (s *Supervisor) session(ctx context.Context) error {
	s.setState(StateConnecting)
	deltas, errs, err := s.source.OpenStream(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("feed: open stream: %w", err)
	}

	if err := s.resync(ctx); err != nil {
		return err
	}
	s.setState(StateStreaming)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case delta, ok := <-deltas:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						return fmt.Errorf("feed: stream closed: %w", err)
					}
				default:
				}
				return fmt.Errorf("feed: stream closed: %w", domain.ErrTransport)
			}
			if err := s.apply(ctx, delta); err != nil {
				return err
			}

		case err := <-errs:
			if err != nil {
				return fmt.Errorf("feed: stream error: %w", err)
			}
			return fmt.Errorf("feed: stream ended: %w", domain.ErrTransport)
		}
	}
}

// resync fetches a fresh snapshot and replaces the replica state.
func (s *Supervisor) resync(ctx context.Context) error {
	s.setState(StateSnapshotting)
	snap, err := s.source.FetchSnapshot(ctx, s.cfg.Symbol, s.cfg.Depth)
	if err != nil {
		return fmt.Errorf("feed: fetch snapshot: %w", err)
	}
	s.replica.ApplySnapshot(snap)
	s.logger.Info("snapshot applied",
		slog.Uint64("seq", snap.Seq),
		slog.Int("bids", len(snap.Bids)),
		slog.Int("asks", len(snap.Asks)),
	)
	s.fanOut(ctx, snap.Seq)
	return nil
}

// apply feeds one delta to the replica. Stale deltas are dropped, gaps
// trigger an in-session resnapshot, applied deltas fan out.
func (s *Supervisor) apply(ctx context.Context, delta domain.DeltaEvent) error {
	result := s.replica.ApplyDelta(delta)
	if s.stats != nil {
		s.stats.DepthApplies.WithLabelValues(s.cfg.Symbol, result.String()).Inc()
	}

	switch result {
	case book.Applied:
		s.fanOut(ctx, delta.FinalSeq)
		return nil

	case book.Stale:
		// Overlap with the snapshot range; expected right after a resync.
		return nil

	case book.GapDetected:
		s.logger.Warn("sequence gap detected, resnapshotting",
			slog.Uint64("cursor", s.replica.Cursor()),
			slog.Uint64("first_seq", delta.FirstSeq),
		)
		if err := s.resync(ctx); err != nil {
			return fmt.Errorf("feed: recover from %w: %v", domain.ErrSequenceGap, err)
		}
		s.setState(StateStreaming)
		return nil
	}
	return nil
}

// fanOut delivers the post-apply best levels to every handler.
func (s *Supervisor) fanOut(ctx context.Context, seq uint64) {
	s.mu.Lock()
	handlers := s.handlers
	s.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	update := domain.DepthUpdate{
		Symbol:    s.cfg.Symbol,
		Seq:       seq,
		Timestamp: s.clock.Now(),
	}
	update.BestBid, update.HasBid = s.replica.BestBid()
	update.BestAsk, update.HasAsk = s.replica.BestAsk()

	for _, h := range handlers {
		h(ctx, update)
	}
}

// publishHalt announces the halt on the event bus so operators hear about a
// dead feed from more than the logs.
func (s *Supervisor) publishHalt(ctx context.Context, failures int, cause error) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event":    "feed_halted",
		"symbol":   s.cfg.Symbol,
		"failures": failures,
		"error":    errString(cause),
		"ts":       s.clock.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, domain.ChannelFeed, payload); err != nil {
		s.logger.Warn("halt publication failed", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		if s.stats != nil {
			s.stats.FeedState.Set(float64(state))
		}
		s.logger.Debug("feed state changed", slog.String("state", state.String()))
	}
}

func (s *Supervisor) addFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

func (s *Supervisor) resetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
