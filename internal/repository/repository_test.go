package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/testutil"
)

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.NewDB(t)
	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSystemState_SeededFailSafe(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewSystemStateRepository(db)

	s, err := repo.Get(context.Background(), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Phase() != domain.PhaseLocked || s.Mode != domain.ModeDemo {
		t.Errorf("seeded state = %s, want DEMO/LOCKED", s.Summary())
	}
	if s.SyncedMode != nil {
		t.Errorf("synced mode = %v, want nil", *s.SyncedMode)
	}
}

func TestSystemState_UpdateDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewSystemStateRepository(db)

	stale, err := repo.Get(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	tx := db.MustBeginTx(ctx, nil)
	s, err := repo.GetForUpdate(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	s.MarkSynced()
	if err = repo.Update(ctx, tx, s); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err = tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.Get(ctx, nil)
	if !got.StartupSyncOK || got.SyncedMode == nil || *got.SyncedMode != domain.ModeDemo {
		t.Errorf("after update: %s", got.Summary())
	}

	tx = db.MustBeginTx(ctx, nil)
	defer tx.Rollback() //nolint:errcheck
	stale.KillSwitch = false
	if err = repo.Update(ctx, tx, stale); !errors.Is(err, domain.ErrStaleState) {
		t.Errorf("stale Update = %v, want ErrStaleState", err)
	}
}

func TestOrder_DuplicateSignalAndSingleTransition(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewOrderRepository(db)
	now := time.Now().UTC()

	sig := domain.Signal{ID: "sig-1", Symbol: "BTC/USD", Side: domain.SideLong, Size: decimal.NewFromInt(1), Kind: domain.KindOpen}
	o := domain.NewOrder(sig, now)

	tx := db.MustBeginTx(ctx, nil)
	if err := repo.Create(ctx, tx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx = db.MustBeginTx(ctx, nil)
	dup := domain.NewOrder(sig, now)
	if err := repo.Create(ctx, tx, dup); !errors.Is(err, domain.ErrDuplicateSignal) {
		t.Errorf("duplicate Create = %v, want ErrDuplicateSignal", err)
	}
	_ = tx.Rollback()

	tx = db.MustBeginTx(ctx, nil)
	if err := o.MarkFilled(decimal.NewFromInt(50000), "VW-1", now); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, tx, o); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx = db.MustBeginTx(ctx, nil)
	defer tx.Rollback() //nolint:errcheck
	if err := repo.Update(ctx, tx, o); !errors.Is(err, domain.ErrOrderNotPending) {
		t.Errorf("second Update = %v, want ErrOrderNotPending", err)
	}

	got, err := repo.GetByRef(ctx, tx, "VW-1")
	if err != nil {
		t.Fatalf("GetByRef: %v", err)
	}
	if got.Status != domain.OrderFilled || got.FillPrice == nil || !got.FillPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("stored order = %+v", got)
	}
}

func TestOutbox_PendingOrderAndConsume(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		sig := domain.Signal{ID: id, Symbol: "BTC/USD", Side: domain.SideLong, Size: decimal.NewFromInt(1), Kind: domain.KindOpen}
		rec, err := domain.NewOutboxRecord(sig, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if err = repo.Enqueue(ctx, rec); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	if err := repo.MarkConsumed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	recs, err := repo.NextPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "b" || recs[1].ID != "c" {
		t.Fatalf("pending = %v, want [b c]", ids(recs))
	}
	if n, _ := repo.CountPending(ctx); n != 2 {
		t.Errorf("CountPending = %d, want 2", n)
	}

	sig, err := recs[0].Decode()
	if err != nil || sig.ID != "b" || !sig.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Decode = %+v, %v", sig, err)
	}
}

func ids(recs []*domain.OutboxRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestWallet_BalanceAndHoldings(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewWalletRepository(db)

	if err := repo.EnsureAccount(ctx, decimal.NewFromInt(1000)); err != nil {
		t.Fatal(err)
	}
	// Second call keeps the existing balance.
	if err := repo.EnsureAccount(ctx, decimal.NewFromInt(5)); err != nil {
		t.Fatal(err)
	}

	tx := db.MustBeginTx(ctx, nil)
	if err := repo.DeductBalance(ctx, tx, decimal.NewFromInt(1500)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("overdraft = %v, want ErrInsufficientBalance", err)
	}
	if err := repo.DeductBalance(ctx, tx, decimal.NewFromInt(400)); err != nil {
		t.Fatal(err)
	}
	h := &domain.WalletHolding{Symbol: "BTC/USD", Side: domain.SideLong, Size: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(200), UpdatedAt: time.Now().UTC()}
	if err := repo.UpsertHolding(ctx, tx, h); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	acct, err := repo.GetAccount(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Equal(decimal.NewFromInt(600)) {
		t.Errorf("balance = %s, want 600", acct.Balance)
	}
	hs, err := repo.ListHoldings(ctx, nil)
	if err != nil || len(hs) != 1 || hs[0].Symbol != "BTC/USD" {
		t.Errorf("holdings = %v, %v", hs, err)
	}
}

func TestAudit_AppendAndFilter(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.NewAuditRepository(db)

	_ = repo.Append(ctx, nil, domain.NewAuditEntry(domain.EventOrderCreated, "order %d", 1))
	_ = repo.Append(ctx, nil, domain.NewAuditEntry(domain.EventOrderFilled, "order %d", 1))
	_ = repo.Append(ctx, nil, domain.NewAuditEntry(domain.EventOrderCreated, "order %d", 2))

	entries, total, err := repo.List(ctx, domain.EventOrderCreated, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(entries) != 2 {
		t.Errorf("filtered total=%d len=%d, want 2/2", total, len(entries))
	}
	if n, _ := repo.CountByType(ctx, domain.EventOrderFilled); n != 1 {
		t.Errorf("CountByType(ORDER_FILLED) = %d, want 1", n)
	}
}
