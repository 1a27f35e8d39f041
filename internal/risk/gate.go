// Package risk implements the ordered, short-circuiting pre-trade checks and
// owns the mutable account state. The first failed check rejects the whole
// intent; a Warn verdict passes but is surfaced to observability.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/driftware/depthbot/internal/domain"
)

// GateConfig holds the tunable parameters for pre-trade risk checks.
// Percentages are fractions of 100 (e.g. 20 means 20%).
type GateConfig struct {
	MaxPosition     decimal.Decimal // hard cap on total exposure, quote units
	MaxPositionPct  decimal.Decimal // position value as % of balance -> Reject above
	WarnPositionPct decimal.Decimal // position value as % of balance -> Warn above
	MaxDrawdownPct  decimal.Decimal // potential loss as % of balance -> Reject above
	DefaultLossPct  decimal.Decimal // assumed loss % when no stop-loss is supplied
	RiskPerTrade    decimal.Decimal // balance fraction risked per trade for sizing
}

// Gate validates trade intents against account limits. It is the single owner
// of the account state: the ledger reports balance and exposure changes
// through Apply* methods, and everyone else reads value snapshots.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger

	mu      sync.Mutex
	account domain.AccountState
}

// NewGate creates a Gate seeded with the starting balance.
func NewGate(cfg GateConfig, startingBalance decimal.Decimal, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_gate")),
		account: domain.AccountState{
			Balance:     startingBalance,
			PeakBalance: startingBalance,
		},
	}
}

// Account returns a point-in-time copy of the account state.
func (g *Gate) Account() domain.AccountState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account
}

// ApplyOpen records a newly opened exposure.
func (g *Gate) ApplyOpen(notional decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account.OpenExposure = g.account.OpenExposure.Add(notional)
}

// ApplyClose records a closed exposure and settles its realized PnL into the
// balance, tracking the balance high-water mark.
func (g *Gate) ApplyClose(notional, realizedPnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account.OpenExposure = g.account.OpenExposure.Sub(notional)
	if g.account.OpenExposure.IsNegative() {
		g.account.OpenExposure = decimal.Zero
	}
	g.account.Balance = g.account.Balance.Add(realizedPnl)
	if g.account.Balance.GreaterThan(g.account.PeakBalance) {
		g.account.PeakBalance = g.account.Balance
	}
}

// SetUnrealized updates the mark-to-market PnL across open positions.
func (g *Gate) SetUnrealized(pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account.UnrealizedPnl = pnl
}

// Check runs the ordered pre-trade checks against the intent:
//
//  1. quantity must be positive
//  2. balance must be positive
//  3. exposure and position-value limits
//  4. drawdown / potential-loss bound
//
// The first Reject wins and the remaining checks are skipped.
func (g *Gate) Check(intent domain.TradeIntent) domain.RiskVerdict {
	g.mu.Lock()
	account := g.account
	g.mu.Unlock()

	verdict := g.evaluate(intent, account)

	switch verdict.Status {
	case domain.VerdictReject:
		g.logger.Warn("intent rejected",
			slog.String("client_id", intent.ClientID),
			slog.String("symbol", intent.Symbol),
			slog.String("reason", verdict.Reason),
		)
	case domain.VerdictWarn:
		g.logger.Warn("intent flagged",
			slog.String("client_id", intent.ClientID),
			slog.String("symbol", intent.Symbol),
			slog.String("reason", verdict.Reason),
		)
	}
	return verdict
}

func (g *Gate) evaluate(intent domain.TradeIntent, account domain.AccountState) domain.RiskVerdict {
	hundred := decimal.NewFromInt(100)

	// Check 1: quantity.
	if !intent.Quantity.IsPositive() {
		return domain.RiskVerdict{
			Status: domain.VerdictReject,
			Reason: "quantity must be positive",
		}
	}

	// Check 2: balance.
	if !account.Balance.IsPositive() {
		return domain.RiskVerdict{
			Status: domain.VerdictReject,
			Reason: "account balance is not positive",
		}
	}

	// Check 3: position limits. Exposure is tracked in quote terms, so the
	// intent contributes its notional, not its base quantity.
	positionValue := intent.Notional()
	newExposure := account.OpenExposure.Add(positionValue)
	if g.cfg.MaxPosition.IsPositive() && newExposure.GreaterThan(g.cfg.MaxPosition) {
		return domain.RiskVerdict{
			Status: domain.VerdictReject,
			Reason: fmt.Sprintf("exposure %s would exceed max position %s", newExposure, g.cfg.MaxPosition),
		}
	}
	positionPct := positionValue.Div(account.Balance).Mul(hundred)
	if g.cfg.MaxPositionPct.IsPositive() && positionPct.GreaterThan(g.cfg.MaxPositionPct) {
		return domain.RiskVerdict{
			Status: domain.VerdictReject,
			Reason: fmt.Sprintf("position is %s%% of balance, max %s%%", positionPct.StringFixed(2), g.cfg.MaxPositionPct),
		}
	}
	warned := g.cfg.WarnPositionPct.IsPositive() && positionPct.GreaterThan(g.cfg.WarnPositionPct)

	// Check 4: drawdown bound.
	var potentialLoss decimal.Decimal
	if intent.StopLoss != nil {
		potentialLoss = intent.Price.Sub(*intent.StopLoss).Abs().Mul(intent.Quantity)
	} else {
		potentialLoss = positionValue.Mul(g.cfg.DefaultLossPct).Div(hundred)
	}
	lossPct := potentialLoss.Div(account.Balance).Mul(hundred)
	if g.cfg.MaxDrawdownPct.IsPositive() && lossPct.GreaterThan(g.cfg.MaxDrawdownPct) {
		return domain.RiskVerdict{
			Status: domain.VerdictReject,
			Reason: fmt.Sprintf("potential loss is %s%% of balance, max %s%%", lossPct.StringFixed(2), g.cfg.MaxDrawdownPct),
		}
	}

	if warned {
		return domain.RiskVerdict{
			Status: domain.VerdictWarn,
			Reason: fmt.Sprintf("position is %s%% of balance, above warning level %s%%", positionPct.StringFixed(2), g.cfg.WarnPositionPct),
		}
	}
	return domain.RiskVerdict{Status: domain.VerdictPass}
}

// PositionSize returns balance * riskPerTrade / |entry - stop|, or zero when
// the denominator is zero.
func (g *Gate) PositionSize(entry, stop decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	balance := g.account.Balance
	g.mu.Unlock()

	denom := entry.Sub(stop).Abs()
	if denom.IsZero() {
		return decimal.Zero
	}
	return balance.Mul(g.cfg.RiskPerTrade).Div(denom)
}
