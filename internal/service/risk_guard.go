package service

import (
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
)

// Exposure is what the guard needs to know about the market and the book
// beyond the risk counters.
type Exposure struct {
	ReferencePrice *decimal.Decimal  // nil when no fresh price exists
	OpenPosition   *domain.Position // open position on the signal's symbol
	PendingOrders  []*domain.Order  // orders on the symbol still at a venue
}

// resting returns the first pending order with the given intent, or nil.
func (e Exposure) resting(kind domain.SignalKind) *domain.Order {
	for _, o := range e.PendingOrders {
		if o.Intent == kind {
			return o
		}
	}
	return nil
}

// RiskGuard decides whether a signal may become an order. It is pure: the
// same state, signal and exposure always yield the same verdict.
type RiskGuard struct {
	allowed       map[string]bool
	worstCaseMove decimal.Decimal
}

// NewRiskGuard builds a guard for the allow-listed symbols.
func NewRiskGuard(symbols []string, worstCaseMove decimal.Decimal) *RiskGuard {
	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[s] = true
	}
	return &RiskGuard{allowed: allowed, worstCaseMove: worstCaseMove}
}

// ImpliedLoss is the worst-case loss assumed for sig. CLOSE signals reduce
// exposure and imply no loss. An OPEN is priced at the higher of its limit
// and the reference price.
func (g *RiskGuard) ImpliedLoss(sig domain.Signal, ref *decimal.Decimal) (decimal.Decimal, bool) {
	if sig.Kind != domain.KindOpen {
		return decimal.Zero, true
	}
	price := sig.Price
	switch {
	case price == nil:
		price = ref
	case ref != nil && ref.GreaterThan(*price):
		price = ref
	}
	if price == nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return sig.Size.Mul(*price).Mul(g.worstCaseMove), true
}

// Evaluate applies the limits in priority order: drawdown, daily loss, then
// input validity. Safety limits are checked before the signal is trusted.
func (g *RiskGuard) Evaluate(rs *domain.RiskState, sig domain.Signal, exp Exposure) domain.Verdict {
	implied, priced := g.ImpliedLoss(sig, exp.ReferencePrice)

	// ── 1. Drawdown ──────────────────────────────────────────────────────────
	// A CLOSE adds no loss and stays possible after a breach.
	if sig.Kind != domain.KindClose && rs.CurrentDrawdown.Add(implied).GreaterThan(rs.MaxDrawdown) {
		return domain.Trip(implied,
			"drawdown %s + implied loss %s exceeds max drawdown %s",
			rs.CurrentDrawdown.StringFixed(2), implied.StringFixed(2), rs.MaxDrawdown.StringFixed(2))
	}

	// ── 2. Daily loss ────────────────────────────────────────────────────────
	if rs.DailyLoss.GreaterThanOrEqual(rs.MaxDailyLoss) {
		return domain.Reject(implied,
			"daily loss %s has reached the limit %s",
			rs.DailyLoss.StringFixed(2), rs.MaxDailyLoss.StringFixed(2))
	}
	if sig.Kind == domain.KindOpen && rs.DailyLoss.Add(implied).GreaterThan(rs.MaxDailyLoss) {
		return domain.Reject(implied,
			"daily loss %s + implied loss %s exceeds the limit %s",
			rs.DailyLoss.StringFixed(2), implied.StringFixed(2), rs.MaxDailyLoss.StringFixed(2))
	}

	// ── 3. Input validity ────────────────────────────────────────────────────
	if msg := sig.StructuralError(); msg != "" {
		v := domain.Reject(implied, "malformed signal: %s", msg)
		v.Malformed = true
		return v
	}
	if !g.allowed[sig.Symbol] {
		return domain.Reject(implied, "symbol %s is not allow-listed", sig.Symbol)
	}
	switch sig.Kind {
	case domain.KindOpen:
		if exp.OpenPosition != nil {
			return domain.Reject(implied, "a %s position on %s is already open", exp.OpenPosition.Side, sig.Symbol)
		}
		if o := exp.resting(domain.KindOpen); o != nil {
			return domain.Reject(implied, "OPEN order %s on %s is still pending", o.ID, sig.Symbol)
		}
		if !priced {
			return domain.Reject(implied, "no reference price for %s", sig.Symbol)
		}
	case domain.KindClose:
		if exp.OpenPosition == nil {
			return domain.Reject(implied, "no open position on %s to close", sig.Symbol)
		}
		if o := exp.resting(domain.KindClose); o != nil {
			return domain.Reject(implied, "CLOSE order %s on %s is still pending", o.ID, sig.Symbol)
		}
		if exp.OpenPosition.Side != sig.Side {
			return domain.Reject(implied, "close side %s does not match open %s position", sig.Side, exp.OpenPosition.Side)
		}
		if !sig.Size.Equal(exp.OpenPosition.Size) {
			return domain.Reject(implied, "close size %s does not match open size %s", sig.Size, exp.OpenPosition.Size)
		}
	}

	return domain.Allow(implied)
}
