package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// RiskState
// ──────────────────────────────────────────────────────────────────────────────

// RiskState is the singleton row of running risk counters.
//
// Equity is realized + unrealized P&L. PeakEquity is its high-water mark and
// CurrentDrawdown is PeakEquity − equity. DailyLoss and DailyProfit count
// realized results inside the current daily window only.
type RiskState struct {
	ID              int             `json:"-"                db:"id"`
	DailyLoss       decimal.Decimal `json:"daily_loss"       db:"daily_loss"`
	DailyProfit     decimal.Decimal `json:"daily_profit"     db:"daily_profit"`
	MaxDailyLoss    decimal.Decimal `json:"max_daily_loss"   db:"max_daily_loss"`
	CurrentDrawdown decimal.Decimal `json:"current_drawdown" db:"current_drawdown"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"     db:"max_drawdown"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"     db:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"   db:"unrealized_pnl"`
	PeakEquity      decimal.Decimal `json:"peak_equity"      db:"peak_equity"`
	DayStartedAt    time.Time       `json:"day_started_at"   db:"day_started_at"`
	Version         int64           `json:"version"          db:"version"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// Equity returns realized plus unrealized P&L.
func (r *RiskState) Equity() decimal.Decimal {
	return r.RealizedPnL.Add(r.UnrealizedPnL)
}

// ApplyRealized books a closed trade into the daily counters and equity.
func (r *RiskState) ApplyRealized(pnl decimal.Decimal) {
	if pnl.IsNegative() {
		r.DailyLoss = r.DailyLoss.Add(pnl.Neg())
	} else {
		r.DailyProfit = r.DailyProfit.Add(pnl)
	}
	r.RealizedPnL = r.RealizedPnL.Add(pnl)
	r.recomputeDrawdown()
}

// MarkToMarket replaces the unrealized component and recomputes drawdown.
func (r *RiskState) MarkToMarket(unrealized decimal.Decimal) {
	r.UnrealizedPnL = unrealized
	r.recomputeDrawdown()
}

func (r *RiskState) recomputeDrawdown() {
	eq := r.Equity()
	if eq.GreaterThan(r.PeakEquity) {
		r.PeakEquity = eq
	}
	r.CurrentDrawdown = r.PeakEquity.Sub(eq)
}

// DrawdownBreached reports the invariant violation current > max.
func (r *RiskState) DrawdownBreached() bool {
	return r.CurrentDrawdown.GreaterThan(r.MaxDrawdown)
}

// ResetDaily zeroes the daily counters and starts a new window.
func (r *RiskState) ResetDaily(windowStart time.Time) {
	r.DailyLoss = decimal.Zero
	r.DailyProfit = decimal.Zero
	r.DayStartedAt = windowStart
}

// Summary renders the counters for audit messages.
func (r *RiskState) Summary() string {
	return fmt.Sprintf("daily_loss=%s/%s daily_profit=%s drawdown=%s/%s equity=%s",
		r.DailyLoss.StringFixed(2), r.MaxDailyLoss.StringFixed(2), r.DailyProfit.StringFixed(2),
		r.CurrentDrawdown.StringFixed(2), r.MaxDrawdown.StringFixed(2), r.Equity().StringFixed(2))
}

// ──────────────────────────────────────────────────────────────────────────────
// Daily window
// ──────────────────────────────────────────────────────────────────────────────

// DailyResetPolicy picks the boundary of the daily loss window.
type DailyResetPolicy string

const (
	// ResetCalendar resets at local midnight of the configured zone.
	ResetCalendar DailyResetPolicy = "calendar"
	// ResetRolling resets 24h after the current window started.
	ResetRolling DailyResetPolicy = "rolling"
)

// IsValid returns true for calendar and rolling.
func (p DailyResetPolicy) IsValid() bool {
	return p == ResetCalendar || p == ResetRolling
}

// DailyWindow decides when the daily counters roll over.
type DailyWindow struct {
	Policy   DailyResetPolicy
	Location *time.Location
}

// Due reports whether a window that started at started has expired at now,
// and if so the start of the window now belongs to.
func (w DailyWindow) Due(started, now time.Time) (bool, time.Time) {
	if w.Policy == ResetRolling {
		if now.Sub(started) < 24*time.Hour {
			return false, started
		}
		periods := now.Sub(started) / (24 * time.Hour)
		return true, started.Add(periods * 24 * time.Hour).UTC()
	}

	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
	if started.Before(midnight) {
		return true, midnight
	}
	return false, started
}

// ──────────────────────────────────────────────────────────────────────────────
// Verdict: output of the risk guard
// ──────────────────────────────────────────────────────────────────────────────

// Decision is the guard's answer for one signal.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReject Decision = "REJECT"
	DecisionTrip   Decision = "TRIP_KILL_SWITCH"
)

// Verdict carries the decision, a human-readable reason and the worst-case
// loss that was assumed for the signal. Malformed marks rejections caused by
// the signal itself rather than by a limit.
type Verdict struct {
	Decision    Decision
	Reason      string
	ImpliedLoss decimal.Decimal
	Malformed   bool
}

// Allow builds an allowing verdict.
func Allow(implied decimal.Decimal) Verdict {
	return Verdict{Decision: DecisionAllow, ImpliedLoss: implied}
}

// Reject builds a rejecting verdict.
func Reject(implied decimal.Decimal, format string, args ...any) Verdict {
	return Verdict{Decision: DecisionReject, Reason: fmt.Sprintf(format, args...), ImpliedLoss: implied}
}

// Trip builds a kill-switch verdict.
func Trip(implied decimal.Decimal, format string, args ...any) Verdict {
	return Verdict{Decision: DecisionTrip, Reason: fmt.Sprintf(format, args...), ImpliedLoss: implied}
}
