package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testGate(balance string) *Gate {
	cfg := GateConfig{
		MaxPosition:     dec("1000"),
		MaxPositionPct:  dec("50"),
		WarnPositionPct: dec("30"),
		MaxDrawdownPct:  dec("10"),
		DefaultLossPct:  dec("20"),
		RiskPerTrade:    dec("0.02"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGate(cfg, dec(balance), logger)
}

func intent(price, qty string) domain.TradeIntent {
	return domain.TradeIntent{
		ClientID:  "test",
		Symbol:    "BTCUSDT",
		Side:      domain.OrderSideBuy,
		Price:     dec(price),
		Quantity:  dec(qty),
		CreatedAt: time.Now(),
	}
}

func TestGate_RejectsZeroQuantity(t *testing.T) {
	// Quantity check runs first, regardless of balance or limits.
	g := testGate("0")
	v := g.Check(intent("100", "0"))
	if v.Status != domain.VerdictReject {
		t.Errorf("status = %v, want reject", v.Status)
	}
	if v.Reason != "quantity must be positive" {
		t.Errorf("reason = %q, want quantity rejection", v.Reason)
	}
}

func TestGate_RejectsZeroBalance(t *testing.T) {
	g := testGate("0")
	v := g.Check(intent("100", "1"))
	if v.Status != domain.VerdictReject {
		t.Errorf("status = %v, want reject", v.Status)
	}
	if v.Reason != "account balance is not positive" {
		t.Errorf("reason = %q, want balance rejection", v.Reason)
	}
}

func TestGate_RejectsMaxPosition(t *testing.T) {
	g := testGate("1000000")
	g.ApplyOpen(dec("900"))
	// 5 units at 100 is 500 quote notional: 900 + 500 = 1400 breaches the
	// 1000 cap even though the base quantity alone would not.
	v := g.Check(intent("100", "5"))
	if v.Status != domain.VerdictReject {
		t.Errorf("status = %v, want reject (exposure limit)", v.Status)
	}
}

func TestGate_MaxPositionCountsNotional(t *testing.T) {
	g := testGate("1000000")
	g.ApplyOpen(dec("900"))
	// 0.5 units at 100 adds 50 notional for a total of 950, under the cap.
	v := g.Check(intent("100", "0.5"))
	if v.Status != domain.VerdictPass {
		t.Errorf("status = %v (%s), want pass", v.Status, v.Reason)
	}
}

func TestGate_RejectsPositionPct(t *testing.T) {
	g := testGate("1000")
	// 100 * 6 = 600 notional = 60% of balance, above the 50% max.
	v := g.Check(intent("100", "6"))
	if v.Status != domain.VerdictReject {
		t.Errorf("status = %v, want reject (position pct)", v.Status)
	}
}

func TestGate_WarnsBetweenWarnAndMaxPct(t *testing.T) {
	g := testGate("1000")
	// 100 * 4 = 400 notional = 40%: above warn (30), below max (50).
	// Stop-loss keeps the drawdown check quiet.
	sl := dec("99.8")
	in := intent("100", "4")
	in.StopLoss = &sl
	v := g.Check(in)
	if v.Status != domain.VerdictWarn {
		t.Errorf("status = %v (%s), want warn", v.Status, v.Reason)
	}
	if !v.Allowed() {
		t.Error("Allowed() = false for warn verdict")
	}
}

func TestGate_RejectsDrawdownWithStop(t *testing.T) {
	g := testGate("1000")
	// |100-50| * 3 = 150 = 15% of balance, above the 10% max drawdown.
	sl := dec("50")
	in := intent("100", "3")
	in.StopLoss = &sl
	v := g.Check(in)
	if v.Status != domain.VerdictReject {
		t.Errorf("status = %v, want reject (drawdown)", v.Status)
	}
}

func TestGate_DefaultLossWithoutStop(t *testing.T) {
	g := testGate("1000")
	// Notional 200, default loss 20% -> 40 = 4% of balance: passes.
	v := g.Check(intent("100", "2"))
	if v.Status != domain.VerdictPass {
		t.Errorf("status = %v (%s), want pass", v.Status, v.Reason)
	}

	// Notional 290 at 29% of balance stays under warn; default loss 20%
	// -> 58 = 5.8%: still passes.
	v = g.Check(intent("100", "2.9"))
	if v.Status != domain.VerdictPass {
		t.Errorf("status = %v (%s), want pass", v.Status, v.Reason)
	}
}

func TestGate_PositionSize(t *testing.T) {
	g := testGate("10000")
	// (10000 * 0.02) / |100-98| = 100.
	size := g.PositionSize(dec("100"), dec("98"))
	if !size.Equal(dec("100")) {
		t.Errorf("PositionSize = %v, want 100", size)
	}
}

func TestGate_PositionSize_ZeroDenominator(t *testing.T) {
	g := testGate("10000")
	size := g.PositionSize(dec("100"), dec("100"))
	if !size.IsZero() {
		t.Errorf("PositionSize = %v, want 0", size)
	}
}

func TestGate_ApplyCloseSettlesBalance(t *testing.T) {
	g := testGate("1000")
	g.ApplyOpen(dec("100"))
	g.ApplyClose(dec("100"), dec("50"))

	acct := g.Account()
	if !acct.Balance.Equal(dec("1050")) {
		t.Errorf("balance = %v, want 1050", acct.Balance)
	}
	if !acct.OpenExposure.IsZero() {
		t.Errorf("exposure = %v, want 0", acct.OpenExposure)
	}
	if !acct.PeakBalance.Equal(dec("1050")) {
		t.Errorf("peak = %v, want 1050", acct.PeakBalance)
	}

	// A losing close reduces balance but not the peak.
	g.ApplyOpen(dec("100"))
	g.ApplyClose(dec("100"), dec("-200"))
	acct = g.Account()
	if !acct.Balance.Equal(dec("850")) {
		t.Errorf("balance = %v, want 850", acct.Balance)
	}
	if !acct.PeakBalance.Equal(dec("1050")) {
		t.Errorf("peak = %v, want 1050 (unchanged)", acct.PeakBalance)
	}
}
