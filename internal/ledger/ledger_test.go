package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeStore struct {
	created []domain.Position
	closed  []string
	failAll bool
}

func (f *fakeStore) Create(_ context.Context, pos domain.Position) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.created = append(f.created, pos)
	return nil
}

func (f *fakeStore) Close(_ context.Context, id string, _, _ decimal.Decimal) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeStore) GetOpen(context.Context) ([]domain.Position, error) { return nil, nil }
func (f *fakeStore) GetByID(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (f *fakeStore) ListHistory(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeAccount struct {
	opened     decimal.Decimal
	closedPnl  decimal.Decimal
	unrealized decimal.Decimal
}

func (f *fakeAccount) ApplyOpen(n decimal.Decimal) { f.opened = f.opened.Add(n) }
func (f *fakeAccount) ApplyClose(n, pnl decimal.Decimal) {
	f.opened = f.opened.Sub(n)
	f.closedPnl = f.closedPnl.Add(pnl)
}
func (f *fakeAccount) SetUnrealized(pnl decimal.Decimal) { f.unrealized = pnl }

func testLedger() (*Ledger, *fakeStore, *fakeAccount) {
	store := &fakeStore{}
	account := &fakeAccount{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, nil, account, logger), store, account
}

func longPos(id string) domain.Position {
	return domain.Position{
		ID:         id,
		Symbol:     "BTCUSDT",
		Side:       domain.PositionSideLong,
		EntryPrice: dec("100"),
		Size:       dec("2"),
		StopLoss:   dec("98"),
		TakeProfit: dec("104"),
	}
}

func TestLedger_Open_SkipsZeroValues(t *testing.T) {
	l, store, _ := testLedger()
	ctx := context.Background()

	p := longPos("p1")
	p.EntryPrice = decimal.Zero
	if err := l.Open(ctx, p); err != nil {
		t.Fatalf("Open error = %v", err)
	}
	p = longPos("p2")
	p.Size = decimal.Zero
	if err := l.Open(ctx, p); err != nil {
		t.Fatalf("Open error = %v", err)
	}

	if len(store.created) != 0 {
		t.Errorf("created = %d, want 0 (zero-value opens are no-ops)", len(store.created))
	}
	if len(l.OpenPositions()) != 0 {
		t.Errorf("open positions = %d, want 0", len(l.OpenPositions()))
	}
}

func TestLedger_CheckTriggers_Long(t *testing.T) {
	cases := []struct {
		price     string
		wantClose bool
	}{
		{"97", true},  // below stop-loss
		{"105", true}, // above take-profit
		{"101", false},
		{"98", true},  // at stop-loss
		{"104", true}, // at take-profit
	}

	for _, tc := range cases {
		l, _, _ := testLedger()
		ctx := context.Background()
		if err := l.Open(ctx, longPos("p1")); err != nil {
			t.Fatalf("Open error = %v", err)
		}

		closed := l.CheckTriggers(ctx, "BTCUSDT", dec(tc.price))
		if got := len(closed) == 1; got != tc.wantClose {
			t.Errorf("price %s: closed = %v, want %v", tc.price, got, tc.wantClose)
		}
	}
}

func TestLedger_CheckTriggers_Short(t *testing.T) {
	l, _, _ := testLedger()
	ctx := context.Background()

	pos := domain.Position{
		ID:         "s1",
		Symbol:     "BTCUSDT",
		Side:       domain.PositionSideShort,
		EntryPrice: dec("100"),
		Size:       dec("1"),
		StopLoss:   dec("102"),
		TakeProfit: dec("96"),
	}
	if err := l.Open(ctx, pos); err != nil {
		t.Fatalf("Open error = %v", err)
	}

	if closed := l.CheckTriggers(ctx, "BTCUSDT", dec("101")); len(closed) != 0 {
		t.Errorf("price 101 closed short, want no trigger")
	}
	closed := l.CheckTriggers(ctx, "BTCUSDT", dec("103"))
	if len(closed) != 1 {
		t.Fatalf("price 103: closed = %d, want 1 (stop-loss)", len(closed))
	}
	// Short PnL: (100 - 103) * 1 = -3.
	if !closed[0].RealizedPnl.Equal(dec("-3")) {
		t.Errorf("realized pnl = %v, want -3", closed[0].RealizedPnl)
	}
}

func TestLedger_Close_PnL(t *testing.T) {
	l, store, account := testLedger()
	ctx := context.Background()
	if err := l.Open(ctx, longPos("p1")); err != nil {
		t.Fatalf("Open error = %v", err)
	}

	pos, err := l.Close(ctx, "p1", dec("105"))
	if err != nil {
		t.Fatalf("Close error = %v", err)
	}
	// Long PnL: (105 - 100) * 2 = 10.
	if !pos.RealizedPnl.Equal(dec("10")) {
		t.Errorf("realized pnl = %v, want 10", pos.RealizedPnl)
	}
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("status = %v, want closed", pos.Status)
	}
	if len(store.closed) != 1 {
		t.Errorf("store closes = %d, want 1", len(store.closed))
	}
	if !account.closedPnl.Equal(dec("10")) {
		t.Errorf("account pnl = %v, want 10", account.closedPnl)
	}
}

func TestLedger_Close_UnknownID(t *testing.T) {
	l, _, _ := testLedger()
	_, err := l.Close(context.Background(), "nope", dec("100"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Close error = %v, want ErrNotFound", err)
	}
}

func TestLedger_Close_ExactlyOnce(t *testing.T) {
	l, store, _ := testLedger()
	ctx := context.Background()
	if err := l.Open(ctx, longPos("p1")); err != nil {
		t.Fatalf("Open error = %v", err)
	}

	if _, err := l.Close(ctx, "p1", dec("101")); err != nil {
		t.Fatalf("first Close error = %v", err)
	}
	if _, err := l.Close(ctx, "p1", dec("101")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Close error = %v, want ErrNotFound", err)
	}
	if len(store.closed) != 1 {
		t.Errorf("store closes = %d, want 1", len(store.closed))
	}
}

func TestLedger_PersistFailureKeepsPosition(t *testing.T) {
	l, store, _ := testLedger()
	store.failAll = true
	ctx := context.Background()

	err := l.Open(ctx, longPos("p1"))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("Open error = %v, want ErrPersistence", err)
	}
	// The in-memory position is economically real and must survive.
	if len(l.OpenPositions()) != 1 {
		t.Errorf("open positions = %d, want 1 after persist failure", len(l.OpenPositions()))
	}
}

func TestLedger_NetExposure(t *testing.T) {
	l, _, _ := testLedger()
	ctx := context.Background()

	if err := l.Open(ctx, longPos("p1")); err != nil {
		t.Fatalf("Open error = %v", err)
	}
	short := longPos("p2")
	short.Side = domain.PositionSideShort
	short.Size = dec("0.5")
	short.StopLoss = dec("102")
	short.TakeProfit = dec("96")
	if err := l.Open(ctx, short); err != nil {
		t.Fatalf("Open error = %v", err)
	}

	net := l.NetExposure("BTCUSDT")
	if !net.Equal(dec("1.5")) {
		t.Errorf("net exposure = %v, want 1.5", net)
	}
}
