package domain_test

import (
	"testing"
	"time"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// ── Drawdown accounting ───────────────────────────────────────────────────────

func TestRiskState_DrawdownFromPeak(t *testing.T) {
	r := &domain.RiskState{MaxDrawdown: d("500")}

	r.ApplyRealized(d("300")) // equity 300, new peak
	if !r.PeakEquity.Equal(d("300")) || !r.CurrentDrawdown.IsZero() {
		t.Fatalf("after +300: peak=%s dd=%s", r.PeakEquity, r.CurrentDrawdown)
	}

	r.ApplyRealized(d("-200")) // equity 100
	if !r.CurrentDrawdown.Equal(d("200")) {
		t.Errorf("drawdown = %s, want 200", r.CurrentDrawdown)
	}
	if !r.DailyLoss.Equal(d("200")) || !r.DailyProfit.Equal(d("300")) {
		t.Errorf("daily counters loss=%s profit=%s, want 200/300", r.DailyLoss, r.DailyProfit)
	}

	r.MarkToMarket(d("-450")) // equity -350
	if !r.CurrentDrawdown.Equal(d("650")) {
		t.Errorf("drawdown with unrealized = %s, want 650", r.CurrentDrawdown)
	}
	if !r.DrawdownBreached() {
		t.Error("drawdown 650 > 500 must be reported as breached")
	}
}

func TestRiskState_ResetDailyKeepsEquity(t *testing.T) {
	r := &domain.RiskState{}
	r.ApplyRealized(d("-50"))
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	r.ResetDaily(at)
	if !r.DailyLoss.IsZero() || !r.DailyProfit.IsZero() {
		t.Errorf("daily counters not reset: %s", r.Summary())
	}
	if !r.RealizedPnL.Equal(d("-50")) {
		t.Errorf("realized pnl changed by reset: %s", r.RealizedPnL)
	}
	if !r.DayStartedAt.Equal(at) {
		t.Errorf("day_started_at = %s, want %s", r.DayStartedAt, at)
	}
}

// ── Daily window ──────────────────────────────────────────────────────────────

func TestDailyWindow_Calendar(t *testing.T) {
	w := domain.DailyWindow{Policy: domain.ResetCalendar, Location: time.UTC}
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if due, _ := w.Due(started, started.Add(23*time.Hour)); due {
		t.Error("same calendar day must not be due")
	}
	due, next := w.Due(started, started.Add(25*time.Hour))
	if !due {
		t.Fatal("next calendar day must be due")
	}
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("window start = %s, want %s", next, want)
	}
}

func TestDailyWindow_CalendarInZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	w := domain.DailyWindow{Policy: domain.ResetCalendar, Location: loc}
	// 22:00 UTC is 01:00 the next day in UTC+3.
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due, next := w.Due(started, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	if !due {
		t.Fatal("midnight in UTC+3 has passed, must be due")
	}
	if want := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("window start = %s, want %s", next, want)
	}
}

func TestDailyWindow_Rolling(t *testing.T) {
	w := domain.DailyWindow{Policy: domain.ResetRolling}
	started := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)

	if due, _ := w.Due(started, started.Add(23*time.Hour)); due {
		t.Error("rolling window under 24h must not be due")
	}
	due, next := w.Due(started, started.Add(50*time.Hour))
	if !due {
		t.Fatal("rolling window over 24h must be due")
	}
	if want := started.Add(48 * time.Hour); !next.Equal(want) {
		t.Errorf("window start = %s, want %s", next, want)
	}
}

// ── Positions & P&L ───────────────────────────────────────────────────────────

func TestComputePnL(t *testing.T) {
	if got := domain.ComputePnL(domain.SideLong, d("100"), d("110"), d("2")); !got.Equal(d("20")) {
		t.Errorf("long pnl = %s, want 20", got)
	}
	if got := domain.ComputePnL(domain.SideShort, d("100"), d("110"), d("2")); !got.Equal(d("-20")) {
		t.Errorf("short pnl = %s, want -20", got)
	}
}

func TestPosition_CloseAndIntegrity(t *testing.T) {
	o := &domain.Order{ID: uuid.New(), Symbol: "BTC/USD", Side: domain.SideLong, Size: d("1")}
	p := domain.NewPosition(o, d("50000"), time.Now().UTC())
	if msg := p.IntegrityError(); msg != "" {
		t.Fatalf("fresh position integrity: %s", msg)
	}

	pnl, err := p.Close(d("49000"), uuid.New(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pnl.Equal(d("-1000")) {
		t.Errorf("pnl = %s, want -1000", pnl)
	}
	if msg := p.IntegrityError(); msg != "" {
		t.Errorf("closed position integrity: %s", msg)
	}
	if _, err = p.Close(d("1"), uuid.New(), time.Now().UTC()); err == nil {
		t.Error("closing twice must fail")
	}

	p.PnL = nil
	if msg := p.IntegrityError(); msg == "" {
		t.Error("closed position without pnl must fail integrity")
	}
}

func TestBuildTradeReport(t *testing.T) {
	closed := func(pnl string) *domain.Position {
		v := d(pnl)
		return &domain.Position{Status: domain.PositionClosed, PnL: &v}
	}
	rep := domain.BuildTradeReport([]*domain.Position{
		closed("100"), closed("-50"), closed("30"), closed("0"),
		{Status: domain.PositionOpen},
	})
	if rep.ClosedTrades != 4 || rep.Wins != 2 || rep.Losses != 1 {
		t.Fatalf("counts = %d/%d/%d, want 4/2/1", rep.ClosedTrades, rep.Wins, rep.Losses)
	}
	if !rep.TotalPnL.Equal(d("80")) {
		t.Errorf("total pnl = %s, want 80", rep.TotalPnL)
	}
	if !rep.WinRate.Equal(d("50")) {
		t.Errorf("win rate = %s, want 50", rep.WinRate)
	}
	if rep.ProfitFactor == nil || !rep.ProfitFactor.Equal(d("2.6")) {
		t.Errorf("profit factor = %v, want 2.6", rep.ProfitFactor)
	}
}

func TestLimitCrossed(t *testing.T) {
	if !domain.LimitCrossed(domain.ActionBuy, d("100"), d("99")) {
		t.Error("buy limit 100 must fill at 99")
	}
	if domain.LimitCrossed(domain.ActionBuy, d("100"), d("101")) {
		t.Error("buy limit 100 must not fill at 101")
	}
	if !domain.LimitCrossed(domain.ActionSell, d("100"), d("100")) {
		t.Error("sell limit 100 must fill at 100")
	}
}
