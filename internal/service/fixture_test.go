package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func engineConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret",
			RefreshSecret: "refresh-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
		},
		Engine: config.EngineConfig{
			PollInterval:        time.Second,
			BatchSize:           50,
			MaxRetries:          2,
			RetryBaseDelay:      time.Millisecond,
			RetryMaxDelay:       5 * time.Millisecond,
			MaintenanceInterval: time.Second,
			LiveConfirmation:    true,
			PausedAllowClose:    true,
		},
		Risk: config.RiskConfig{
			MaxDailyLoss:  10000,
			MaxDrawdown:   20000,
			WorstCaseMove: 0.10,
			DailyReset:    "calendar",
		},
		Wallet:   config.WalletConfig{StartBalance: 1000000},
		Exchange: config.ExchangeConfig{SyncSizeTolerance: 0.01},
		Symbols: []config.SymbolConfig{
			{Name: "BTC/USD", Binance: "BTCUSDT"},
			{Name: "ETH/USD", Binance: "ETHUSDT"},
		},
	}
}

// ── Fake LIVE venue ───────────────────────────────────────────────────────────

type fakeVenue struct {
	mu        sync.Mutex
	place     func(n int, req exchange.OrderRequest) (*exchange.Fill, error)
	requests  []exchange.OrderRequest
	positions []exchange.VenuePosition
	orders    []exchange.VenueOrder
	status    map[string]*exchange.Fill
	landed    map[string]*exchange.Fill // by client id
	lookups   int
	cancelled []string
}

func (v *fakeVenue) Name() string { return "fake" }

func (v *fakeVenue) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	n := len(v.requests)
	if v.place != nil {
		return v.place(n, req)
	}
	return &exchange.Fill{
		Status:    exchange.FillFilled,
		FillPrice: dec("50000"),
		OrderRef:  fmt.Sprintf("X-%d", n),
		ClientID:  req.ClientID,
	}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _, ref string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, ref)
	return nil
}

func (v *fakeVenue) ListOpenPositions(context.Context) ([]exchange.VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.VenuePosition(nil), v.positions...), nil
}

func (v *fakeVenue) ListOpenOrders(context.Context) ([]exchange.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.VenueOrder(nil), v.orders...), nil
}

func (v *fakeVenue) OrderStatus(_ context.Context, _, ref string) (*exchange.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.status[ref]; ok {
		return f, nil
	}
	return &exchange.Fill{Status: exchange.FillPending, OrderRef: ref}, nil
}

func (v *fakeVenue) LookupClientOrder(_ context.Context, _, clientID string) (*exchange.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lookups++
	return v.landed[clientID], nil
}

func (v *fakeVenue) calls() []exchange.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.OrderRequest(nil), v.requests...)
}

// ── Engine fixture ────────────────────────────────────────────────────────────

type fixture struct {
	db      *sqlx.DB
	cfg     *config.Config
	stores  service.Stores
	wallet  *service.VirtualWallet
	live    *fakeVenue
	engine  *service.ExecutionService
	control *service.ControlService
}

// newFixture builds an initialised engine over a fresh database. The state
// row is still the seeded HALTED/kill-switch one.
func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := engineConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	db := testutil.NewDB(t)
	stores := service.NewStores(db)
	logger := discardLogger()

	wallet := service.NewVirtualWallet(repository.NewWalletRepository(db), logger)
	if err := wallet.Init(ctx, dec("1000000")); err != nil {
		t.Fatalf("wallet init: %v", err)
	}
	wallet.SetPrice("BTC/USD", dec("50000"))

	live := &fakeVenue{}
	engine := service.NewExecutionService(db, stores, exchange.Venues{Demo: wallet, Live: live}, wallet, cfg, logger)
	wallet.SetFillListener(engine.ApplyVenueFill)
	if err := engine.Init(ctx); err != nil {
		t.Fatalf("engine init: %v", err)
	}

	return &fixture{
		db:      db,
		cfg:     cfg,
		stores:  stores,
		wallet:  wallet,
		live:    live,
		engine:  engine,
		control: service.NewControlService(engine, logger),
	}
}

// start clears the kill switch, syncs and resumes.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.control.ClearKillSwitch(ctx, "tester", 0); err != nil {
		t.Fatalf("clear kill switch: %v", err)
	}
	res, err := f.engine.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.OK {
		t.Fatalf("sync failed: %v", res.Discrepancies)
	}
	if _, err = f.control.Resume(ctx, "tester", 0); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

// startLive switches to LIVE before syncing.
func (f *fixture) startLive(t *testing.T) {
	t.Helper()
	if _, err := f.control.SetMode(context.Background(), "tester", domain.ModeLive, 0); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	f.start(t)
}

func (f *fixture) state(t *testing.T) *domain.SystemState {
	t.Helper()
	s, err := f.stores.State.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	return s
}

func (f *fixture) risk(t *testing.T) *domain.RiskState {
	t.Helper()
	r, err := f.stores.Risk.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("read risk: %v", err)
	}
	return r
}

func (f *fixture) setRisk(t *testing.T, fn func(r *domain.RiskState)) {
	t.Helper()
	ctx := context.Background()
	tx := f.db.MustBeginTx(ctx, nil)
	defer tx.Rollback() //nolint:errcheck
	r, err := f.stores.Risk.GetForUpdate(ctx, tx)
	if err != nil {
		t.Fatalf("lock risk: %v", err)
	}
	fn(r)
	if err = f.stores.Risk.Update(ctx, tx, r); err != nil {
		t.Fatalf("update risk: %v", err)
	}
	if err = tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	_, total, err := f.stores.Orders.List(context.Background(), "", 100, 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	return total
}

func (f *fixture) auditCount(t *testing.T, evt domain.EventType) int {
	t.Helper()
	n, err := f.stores.Audit.CountByType(context.Background(), evt)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

// assertDrawdownInvariant checks that a breached drawdown is never committed
// without the kill switch.
func (f *fixture) assertDrawdownInvariant(t *testing.T) {
	t.Helper()
	r := f.risk(t)
	if r.CurrentDrawdown.GreaterThan(r.MaxDrawdown) && !f.state(t).KillSwitch {
		t.Errorf("drawdown %s > max %s with the kill switch released", r.CurrentDrawdown, r.MaxDrawdown)
	}
}

func signal(id, symbol string, side domain.Side, kind domain.SignalKind, size string) domain.Signal {
	return domain.Signal{ID: id, Symbol: symbol, Side: side, Size: dec(size), Kind: kind}
}

func limitSignal(id string, side domain.Side, kind domain.SignalKind, size, price string) domain.Signal {
	s := signal(id, "BTC/USD", side, kind, size)
	s.Price = decPtr(price)
	return s
}
