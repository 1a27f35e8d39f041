package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/book"
	"github.com/driftware/depthbot/internal/domain"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After records the requested delay and fires immediately so reconnect loops
// run without real sleeping.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

type fakeSource struct {
	mu        sync.Mutex
	snaps     []domain.SnapshotEvent
	snapCalls int
	deltaCh   chan domain.DeltaEvent
	errCh     chan error
	openErr   error
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, symbol string, depth int) (domain.SnapshotEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.snapCalls
	f.snapCalls++
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	return f.snaps[i], nil
}

func (f *fakeSource) OpenStream(ctx context.Context, symbol string) (<-chan domain.DeltaEvent, <-chan error, error) {
	if f.openErr != nil {
		return nil, nil, f.openErr
	}
	return f.deltaCh, f.errCh, nil
}

func (f *fakeSource) snapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapCalls
}

type fakeBus struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, append([]byte(nil), payload...))
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func lvl(price, qty string) domain.PriceLevel {
	p, _ := decimal.NewFromString(price)
	q, _ := decimal.NewFromString(qty)
	return domain.PriceLevel{Price: p, Quantity: q}
}

func snapshot(seq uint64) domain.SnapshotEvent {
	return domain.SnapshotEvent{
		Symbol: "BTCUSDT",
		Seq:    seq,
		Bids:   []domain.PriceLevel{lvl("100", "1")},
		Asks:   []domain.PriceLevel{lvl("101", "1")},
	}
}

func delta(first, final uint64) domain.DeltaEvent {
	return domain.DeltaEvent{
		Symbol:     "BTCUSDT",
		FirstSeq:   first,
		FinalSeq:   final,
		BidChanges: []domain.PriceLevel{lvl("100", "2")},
	}
}

func collectUpdates(sup *Supervisor) <-chan domain.DepthUpdate {
	ch := make(chan domain.DepthUpdate, 32)
	sup.OnDepth(func(ctx context.Context, u domain.DepthUpdate) {
		ch <- u
	})
	return ch
}

func waitForSeq(t *testing.T, ch <-chan domain.DepthUpdate, seq uint64) []domain.DepthUpdate {
	t.Helper()
	var got []domain.DepthUpdate
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			got = append(got, u)
			if u.Seq == seq {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for seq %d, got %+v", seq, got)
		}
	}
}

func TestSupervisorStreamsDeltas(t *testing.T) {
	src := &fakeSource{
		snaps:   []domain.SnapshotEvent{snapshot(10)},
		deltaCh: make(chan domain.DeltaEvent, 8),
		errCh:   make(chan error, 1),
	}
	src.deltaCh <- delta(5, 9) // stale, dropped silently
	src.deltaCh <- delta(11, 11)
	src.deltaCh <- delta(12, 12)

	replica := book.NewReplica("BTCUSDT")
	sup := NewSupervisor(Config{Symbol: "BTCUSDT"}, src, replica, newFakeClock(), nil, quiet())
	updates := collectUpdates(sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	got := waitForSeq(t, updates, 12)
	// Snapshot fan-out plus the two applied deltas; the stale delta is absent.
	if len(got) != 3 {
		t.Errorf("updates = %d, want 3 (snapshot + 2 deltas)", len(got))
	}
	if got[0].Seq != 10 {
		t.Errorf("first update Seq = %d, want 10 (snapshot)", got[0].Seq)
	}
	if replica.Cursor() != 12 {
		t.Errorf("Cursor = %d, want 12", replica.Cursor())
	}
	if sup.State() != StateStreaming {
		t.Errorf("State = %s, want streaming", sup.State())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSupervisorResnapshotsOnGap(t *testing.T) {
	src := &fakeSource{
		snaps:   []domain.SnapshotEvent{snapshot(10), snapshot(20)},
		deltaCh: make(chan domain.DeltaEvent, 8),
		errCh:   make(chan error, 1),
	}
	src.deltaCh <- delta(15, 16) // gap: cursor is 10
	src.deltaCh <- delta(21, 21)

	replica := book.NewReplica("BTCUSDT")
	sup := NewSupervisor(Config{Symbol: "BTCUSDT"}, src, replica, newFakeClock(), nil, quiet())
	updates := collectUpdates(sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitForSeq(t, updates, 21)
	if calls := src.snapshotCalls(); calls != 2 {
		t.Errorf("snapshot calls = %d, want 2 (initial + gap resync)", calls)
	}
	if replica.Cursor() != 21 {
		t.Errorf("Cursor = %d, want 21", replica.Cursor())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSupervisorBackoffAndHalt(t *testing.T) {
	src := &fakeSource{openErr: errors.New("connection refused")}
	clock := newFakeClock()
	cfg := Config{
		Symbol:       "BTCUSDT",
		BackoffFloor: time.Second,
		SteadyDwell:  time.Hour, // failing sessions never reset the backoff
		MaxFailures:  4,
	}
	sup := NewSupervisor(cfg, src, book.NewReplica("BTCUSDT"), clock, nil, quiet())

	err := sup.Run(context.Background())
	if !errors.Is(err, domain.ErrFeedHalted) {
		t.Fatalf("Run returned %v, want ErrFeedHalted", err)
	}
	if sup.State() != StateHalted {
		t.Errorf("State = %s, want halted", sup.State())
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("backoff waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSupervisorBackoffCeiling(t *testing.T) {
	src := &fakeSource{openErr: errors.New("connection refused")}
	clock := newFakeClock()
	cfg := Config{
		Symbol:         "BTCUSDT",
		BackoffFloor:   time.Second,
		BackoffCeiling: 2 * time.Second,
		SteadyDwell:    time.Hour,
		MaxFailures:    5,
	}
	sup := NewSupervisor(cfg, src, book.NewReplica("BTCUSDT"), clock, nil, quiet())

	if err := sup.Run(context.Background()); !errors.Is(err, domain.ErrFeedHalted) {
		t.Fatalf("Run returned %v, want ErrFeedHalted", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	got := clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("backoff waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSupervisorPublishesHaltOnBus(t *testing.T) {
	src := &fakeSource{openErr: errors.New("connection refused")}
	bus := &fakeBus{}
	cfg := Config{Symbol: "BTCUSDT", BackoffFloor: time.Second, SteadyDwell: time.Hour, MaxFailures: 2}
	sup := NewSupervisor(cfg, src, book.NewReplica("BTCUSDT"), newFakeClock(), nil, quiet())
	sup.UseBus(bus)

	if err := sup.Run(context.Background()); !errors.Is(err, domain.ErrFeedHalted) {
		t.Fatalf("Run returned %v, want ErrFeedHalted", err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.channels) != 1 || bus.channels[0] != domain.ChannelFeed {
		t.Fatalf("publications on %v, want exactly one on %q", bus.channels, domain.ChannelFeed)
	}
	var event struct {
		Event    string `json:"event"`
		Symbol   string `json:"symbol"`
		Failures int    `json:"failures"`
	}
	if err := json.Unmarshal(bus.payloads[0], &event); err != nil {
		t.Fatalf("unmarshal halt payload: %v", err)
	}
	if event.Event != "feed_halted" || event.Symbol != "BTCUSDT" || event.Failures != 2 {
		t.Errorf("halt payload = %+v, want feed_halted for BTCUSDT after 2 failures", event)
	}
}

func TestSupervisorStreamErrorReconnects(t *testing.T) {
	src := &fakeSource{
		snaps:   []domain.SnapshotEvent{snapshot(10)},
		deltaCh: make(chan domain.DeltaEvent, 1),
		errCh:   make(chan error, 2),
	}
	// One stream error per session until the failure limit halts the feed.
	src.errCh <- errors.New("read: connection reset")
	src.errCh <- errors.New("read: connection reset")

	clock := newFakeClock()
	cfg := Config{Symbol: "BTCUSDT", BackoffFloor: time.Second, SteadyDwell: time.Hour, MaxFailures: 2}
	sup := NewSupervisor(cfg, src, book.NewReplica("BTCUSDT"), clock, nil, quiet())

	err := sup.Run(context.Background())
	if !errors.Is(err, domain.ErrFeedHalted) {
		t.Fatalf("Run returned %v, want ErrFeedHalted after repeated stream errors", err)
	}
	if len(clock.recorded()) != 1 {
		t.Errorf("backoff waits = %v, want exactly one before halt", clock.recorded())
	}
}
