package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/geniusbot/executor/internal/domain"
)

func TestControl_ResumeRequiresClearedKillSwitchAndSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.control.Resume(ctx, "alice", 0); !errors.Is(err, domain.ErrKillSwitchEngaged) {
		t.Errorf("resume with kill switch: err = %v, want ErrKillSwitchEngaged", err)
	}
	if _, err := f.control.ClearKillSwitch(ctx, "alice", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.control.Resume(ctx, "alice", 0); !errors.Is(err, domain.ErrSyncRequired) {
		t.Errorf("resume before sync: err = %v, want ErrSyncRequired", err)
	}
	if _, err := f.engine.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	s, err := f.control.Resume(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.Phase() != domain.PhaseRunning {
		t.Errorf("phase = %s, want RUNNING", s.Phase())
	}
}

func TestControl_EveryTransitionIsAuditedWithOperator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	if _, err := f.control.Pause(ctx, "bob", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.control.Halt(ctx, "bob", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.control.Halt(ctx, "bob", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second halt: err = %v, want ErrInvalidTransition", err)
	}

	entries, _, err := f.control.ListAudit(ctx, domain.EventStatusChanged, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	// resume (from start), pause, halt
	if len(entries) != 3 {
		t.Fatalf("SYSTEM_STATUS_CHANGED entries = %d, want 3", len(entries))
	}
	byBob := 0
	for _, e := range entries {
		if strings.Contains(e.Message, "by bob") {
			byBob++
		}
	}
	if byBob != 2 {
		t.Errorf("entries naming bob = %d, want 2", byBob)
	}
}

func TestControl_StaleVersionIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)
	s := f.state(t)

	if _, err := f.control.Pause(ctx, "carol", s.Version); err != nil {
		t.Fatalf("pause at current version: %v", err)
	}
	if _, err := f.control.Resume(ctx, "carol", s.Version); !errors.Is(err, domain.ErrStaleState) {
		t.Errorf("resume at stale version: err = %v, want ErrStaleState", err)
	}
}

func TestControl_SetModeClearsSyncGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	s, err := f.control.SetMode(ctx, "admin", domain.ModeLive, 0)
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if s.Mode != domain.ModeLive || s.StartupSyncOK || s.Status != domain.StatusHalted {
		t.Errorf("state = %s, want LIVE, HALTED and unsynced", s.Summary())
	}
	if _, err = f.control.SetMode(ctx, "admin", domain.Mode("PAPER"), 0); !errors.Is(err, domain.ErrInvalidMode) {
		t.Errorf("unknown mode: err = %v, want ErrInvalidMode", err)
	}
	if n := f.auditCount(t, domain.EventModeChanged); n != 1 {
		t.Errorf("MODE_CHANGED entries = %d, want 1", n)
	}
}

func TestControl_EnqueueSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sig := signal("e1", "BTC/USD", domain.SideLong, domain.KindOpen, "1")

	if _, err := f.control.EnqueueSignal(ctx, sig, "dave"); err != nil {
		t.Fatalf("EnqueueSignal: %v", err)
	}
	if _, err := f.control.EnqueueSignal(ctx, sig, "dave"); !errors.Is(err, domain.ErrDuplicateSignal) {
		t.Errorf("re-enqueue: err = %v, want ErrDuplicateSignal", err)
	}
	bad := signal("e2", "BTC/USD", domain.SideLong, domain.KindOpen, "0")
	if _, err := f.control.EnqueueSignal(ctx, bad, "dave"); !errors.Is(err, domain.ErrMalformedSignal) {
		t.Errorf("zero size: err = %v, want ErrMalformedSignal", err)
	}

	snap, err := f.control.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.OutboxBacklog != 1 || snap.Phase != domain.PhaseLocked {
		t.Errorf("status = backlog %d phase %s, want 1 and LOCKED", snap.OutboxBacklog, snap.Phase)
	}
	if n := f.auditCount(t, domain.EventSignalEnqueued); n != 1 {
		t.Errorf("SIGNAL_ENQUEUED entries = %d, want 1", n)
	}
}

func TestControl_ReportCountsWinsAndLosses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	steps := []struct {
		price string
		sig   domain.Signal
	}{
		{"50000", signal("o1", "BTC/USD", domain.SideLong, domain.KindOpen, "1")},
		{"53000", signal("c1", "BTC/USD", domain.SideLong, domain.KindClose, "1")},
		{"53000", signal("o2", "BTC/USD", domain.SideShort, domain.KindOpen, "1")},
		{"54000", signal("c2", "BTC/USD", domain.SideShort, domain.KindClose, "1")},
	}
	for _, st := range steps {
		f.wallet.SetPrice("BTC/USD", dec(st.price))
		if res, err := f.engine.Process(ctx, st.sig); err != nil || res.Status != domain.ExecFilled {
			t.Fatalf("%s: %+v, %v", st.sig.ID, res, err)
		}
	}

	rep, err := f.control.Report(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.ClosedTrades != 2 || rep.Wins != 1 || rep.Losses != 1 {
		t.Errorf("report = %+v, want 1 win and 1 loss", rep)
	}
	if !rep.TotalPnL.Equal(dec("2000")) || rep.ProfitFactor == nil || !rep.ProfitFactor.Equal(dec("3")) {
		t.Errorf("report = %+v, want pnl 2000 and profit factor 3", rep)
	}

	positions, total, err := f.control.ListPositions(ctx, domain.PositionClosed, 10, 0)
	if err != nil || total != 2 || len(positions) != 2 {
		t.Errorf("closed positions = %d/%d, %v", len(positions), total, err)
	}
	orders, total, err := f.control.ListOrders(ctx, domain.OrderFilled, 10, 0)
	if err != nil || total != 4 || len(orders) != 4 {
		t.Errorf("filled orders = %d/%d, %v", len(orders), total, err)
	}
}
