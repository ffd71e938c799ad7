package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/testutil"
	"github.com/geniusbot/executor/internal/ws"
)

type feed struct {
	prices map[string]decimal.Decimal
}

func (f *feed) Symbols() []string { return []string{"BTC/USD", "ETH/USD"} }

func (f *feed) GetWeightedPrice(_ context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, nil, errors.New("all exchanges failed")
	}
	return p, nil, nil
}

type publisher struct {
	mu   sync.Mutex
	msgs []ws.PriceUpdateMessage
}

func (p *publisher) BroadcastPriceUpdate(msg ws.PriceUpdateMessage) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

type harness struct {
	sched   *Scheduler
	stores  service.Stores
	control *service.ControlService
	feed    *feed
	pub     *publisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Engine: config.EngineConfig{
			PollInterval:        time.Second,
			BatchSize:           2,
			MaxRetries:          1,
			RetryBaseDelay:      time.Millisecond,
			RetryMaxDelay:       time.Millisecond,
			MaintenanceInterval: time.Minute,
			PausedAllowClose:    true,
		},
		Risk: config.RiskConfig{
			MaxDailyLoss:  10000,
			MaxDrawdown:   20000,
			WorstCaseMove: 0.10,
			DailyReset:    "calendar",
		},
		Price:   config.PriceConfig{RefreshInterval: time.Second},
		Symbols: []config.SymbolConfig{{Name: "BTC/USD"}, {Name: "ETH/USD"}},
	}

	db := testutil.NewDB(t)
	stores := service.NewStores(db)
	wallet := service.NewVirtualWallet(repository.NewWalletRepository(db), logger)
	if err := wallet.Init(ctx, decimal.NewFromInt(1000000)); err != nil {
		t.Fatal(err)
	}
	wallet.SetPrice("BTC/USD", decimal.NewFromInt(50000))

	engine := service.NewExecutionService(db, stores, exchange.Venues{Demo: wallet}, wallet, cfg, logger)
	wallet.SetFillListener(engine.ApplyVenueFill)

	f := &feed{prices: map[string]decimal.Decimal{}}
	pub := &publisher{}
	h := &harness{
		sched:   NewScheduler(engine, wallet, f, pub, cfg, logger),
		stores:  stores,
		control: service.NewControlService(engine, logger),
		feed:    f,
		pub:     pub,
	}
	if err := h.sched.Startup(ctx); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.control.ClearKillSwitch(ctx, "tester", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := h.control.Resume(ctx, "tester", 0); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) auditCount(t *testing.T, evt domain.EventType) int {
	t.Helper()
	n, err := h.stores.Audit.CountByType(context.Background(), evt)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestStartup_SyncsFreshStore(t *testing.T) {
	h := newHarness(t)
	if n := h.auditCount(t, domain.EventStartupSyncOK); n != 1 {
		t.Errorf("STARTUP_SYNC_OK entries = %d, want 1", n)
	}
	if h.sched.syncFailures != 0 {
		t.Errorf("syncFailures = %d after a clean startup", h.sched.syncFailures)
	}
}

func TestDrainSignals_EmptiesBacklogAcrossBatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.run(t)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		sig := domain.Signal{ID: id, Symbol: "BTC/USD", Side: domain.SideLong, Size: decimal.RequireFromString("0.01"), Kind: domain.KindOpen}
		if id != "a" {
			sig.Kind = domain.KindClose
		}
		if _, err := h.control.EnqueueSignal(ctx, sig, "tester"); err != nil {
			t.Fatal(err)
		}
	}

	h.sched.drainSignals(ctx)

	snap, err := h.control.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.OutboxBacklog != 0 {
		t.Errorf("backlog = %d, want 0", snap.OutboxBacklog)
	}
}

func TestRefreshPrices_FillsRestingOrderAndPublishes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.run(t)

	limit := decimal.NewFromInt(49000)
	res, err := h.sched.engine.Process(ctx, domain.Signal{
		ID: "lim", Symbol: "BTC/USD", Side: domain.SideLong, Kind: domain.KindOpen,
		Size: decimal.NewFromInt(1), Price: &limit,
	})
	if err != nil || res.Status != domain.ExecPending {
		t.Fatalf("limit order = %+v, %v; want PENDING", res, err)
	}

	h.feed.prices["BTC/USD"] = decimal.NewFromInt(48500)
	h.sched.refreshPrices(ctx)

	if _, total, _ := h.stores.Orders.List(ctx, domain.OrderFilled, 10, 0); total != 1 {
		t.Errorf("filled orders = %d, want 1", total)
	}
	if len(h.pub.msgs) != 1 || h.pub.msgs[0].Symbol != "BTC/USD" || h.pub.msgs[0].Type != ws.MsgTypePriceUpdate {
		t.Errorf("published = %+v, want one BTC/USD price update", h.pub.msgs)
	}
	risk, err := h.stores.Risk.Get(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Filled at 49000, marked at 48500.
	if !risk.UnrealizedPnL.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("unrealized = %s, want -500", risk.UnrealizedPnL)
	}
}

func TestMaintain_ResyncBacksOffAfterFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h.sched.now = func() time.Time { return now }

	// LIVE without an exchange adapter cannot sync.
	if _, err := h.control.SetMode(ctx, "tester", domain.ModeLive, 0); err != nil {
		t.Fatal(err)
	}
	h.sched.maintain(ctx)
	h.sched.maintain(ctx)
	if n := h.auditCount(t, domain.EventStartupSyncFail); n != 1 {
		t.Fatalf("STARTUP_SYNC_FAIL entries = %d, want 1 (second tick inside backoff)", n)
	}
	if h.sched.syncFailures != 1 || !h.sched.nextSync.Equal(now.Add(time.Minute)) {
		t.Errorf("failures %d next %s", h.sched.syncFailures, h.sched.nextSync)
	}

	if _, err := h.control.SetMode(ctx, "tester", domain.ModeDemo, 0); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	h.sched.maintain(ctx)
	if h.sched.syncFailures != 0 {
		t.Errorf("failures = %d after a successful re-sync", h.sched.syncFailures)
	}
	if n := h.auditCount(t, domain.EventStartupSyncOK); n != 2 {
		t.Errorf("STARTUP_SYNC_OK entries = %d, want 2", n)
	}
}
