package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/driftware/depthbot/internal/domain"
)

type stubStrategy struct {
	name    string
	intents []domain.TradeIntent
	depth   int
	candles int
}

func (s *stubStrategy) Name() string                    { return s.name }
func (s *stubStrategy) Init(ctx context.Context) error  { return nil }
func (s *stubStrategy) Close() error                    { return nil }
func (s *stubStrategy) OnDepthUpdate(ctx context.Context, view DepthView) ([]domain.TradeIntent, error) {
	s.depth++
	return s.intents, nil
}
func (s *stubStrategy) OnCandleClose(ctx context.Context, candle domain.Candle) ([]domain.TradeIntent, error) {
	s.candles++
	return nil, nil
}

func TestEngineHandleDepthSingleStrategy(t *testing.T) {
	reg := NewRegistry()
	stub := &stubStrategy{
		name:    "stub",
		intents: []domain.TradeIntent{{ClientID: "a", Source: "stub", Side: domain.OrderSideBuy}},
	}
	reg.Register("stub", stub)

	intentCh := make(chan domain.TradeIntent, 4)
	eng := NewEngine(reg, intentCh, nil, nil, testLogger())
	if err := eng.SetActive("stub"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	view := viewAt("100", []domain.PriceLevel{level("100", "1")}, []domain.PriceLevel{level("100", "1")})
	if err := eng.HandleDepth(context.Background(), view); err != nil {
		t.Fatalf("HandleDepth: %v", err)
	}

	select {
	case got := <-intentCh:
		if got.ClientID != "a" {
			t.Errorf("ClientID = %q, want %q", got.ClientID, "a")
		}
	default:
		t.Fatal("no intent forwarded to channel")
	}
	if stub.depth != 1 {
		t.Errorf("OnDepthUpdate calls = %d, want 1", stub.depth)
	}
}

func TestEngineNoActiveStrategy(t *testing.T) {
	eng := NewEngine(NewRegistry(), make(chan domain.TradeIntent, 1), nil, nil, testLogger())
	view := viewAt("100", nil, nil)
	if err := eng.HandleDepth(context.Background(), view); err == nil {
		t.Error("HandleDepth with no active strategy: err = nil, want error")
	}
}

func TestEngineSetActiveUnknown(t *testing.T) {
	eng := NewEngine(NewRegistry(), make(chan domain.TradeIntent, 1), nil, nil, testLogger())
	if err := eng.SetActive("missing"); err == nil {
		t.Error("SetActive(missing): err = nil, want error")
	}
}

func TestEngineRunAllFanOut(t *testing.T) {
	reg := NewRegistry()
	a := &stubStrategy{name: "a", intents: []domain.TradeIntent{{ClientID: "ia", Source: "a"}}}
	b := &stubStrategy{name: "b", intents: []domain.TradeIntent{{ClientID: "ib", Source: "b"}}}
	reg.Register("a", a)
	reg.Register("b", b)

	intentCh := make(chan domain.TradeIntent, 16)
	eng := NewEngine(reg, intentCh, nil, nil, testLogger())
	if err := eng.SetActiveNames([]string{"a", "b"}); err != nil {
		t.Fatalf("SetActiveNames: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.RunAll(ctx) }()

	view := viewAt("100", []domain.PriceLevel{level("100", "1")}, []domain.PriceLevel{level("100", "1")})
	if err := eng.HandleDepth(ctx, view); err != nil {
		t.Fatalf("HandleDepth: %v", err)
	}

	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case in := <-intentCh:
			got[in.Source] = true
		case <-deadline:
			t.Fatalf("timed out waiting for fan-out intents, got %v", got)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not stop after cancel")
	}
}

func TestEngineRecentIntents(t *testing.T) {
	reg := NewRegistry()
	stub := &stubStrategy{
		name:    "stub",
		intents: []domain.TradeIntent{{ClientID: "x", Source: "stub"}},
	}
	reg.Register("stub", stub)

	intentCh := make(chan domain.TradeIntent, 4)
	eng := NewEngine(reg, intentCh, nil, nil, testLogger())
	if err := eng.SetActive("stub"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	view := viewAt("100", []domain.PriceLevel{level("100", "1")}, []domain.PriceLevel{level("100", "1")})
	if err := eng.HandleDepth(context.Background(), view); err != nil {
		t.Fatalf("HandleDepth: %v", err)
	}

	recent := eng.RecentIntents(10)
	if len(recent) != 1 || recent[0].ClientID != "x" {
		t.Errorf("RecentIntents = %+v, want single intent x", recent)
	}
}
