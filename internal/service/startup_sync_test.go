package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
)

func TestSync_LiveOpenPositionMissingOnExchangeFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startLive(t)
	if _, err := f.engine.Process(ctx, signal("o", "BTC/USD", domain.SideLong, domain.KindOpen, "1")); err != nil {
		t.Fatalf("open: %v", err)
	}

	res, err := f.engine.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.OK || len(res.Discrepancies) == 0 || !strings.Contains(res.Discrepancies[0], "not found") {
		t.Fatalf("sync = %+v, want a missing-position discrepancy", res)
	}
	s := f.state(t)
	if s.StartupSyncOK || s.Status != domain.StatusHalted {
		t.Errorf("state = %s, want sync gate closed and HALTED", s.Summary())
	}
	if n := f.auditCount(t, domain.EventStartupSyncFail); n != 1 {
		t.Errorf("STARTUP_SYNC_FAIL entries = %d, want 1", n)
	}
	if _, err = f.engine.Process(ctx, signal("next", "BTC/USD", domain.SideLong, domain.KindClose, "1")); !errors.Is(err, domain.ErrSystemHalted) {
		t.Errorf("signal after failed sync: err = %v, want ErrSystemHalted", err)
	}
	if f.engine.LastSync() != res {
		t.Error("LastSync does not return the latest result")
	}
}

func TestSync_LiveToleratesSmallShortfall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startLive(t)
	if _, err := f.engine.Process(ctx, signal("o", "BTC/USD", domain.SideLong, domain.KindOpen, "1")); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.live.mu.Lock()
	f.live.positions = []exchange.VenuePosition{{Symbol: "BTC/USD", Side: domain.SideLong, Size: dec("0.995")}}
	f.live.mu.Unlock()
	if res, err := f.engine.Sync(ctx); err != nil || !res.OK {
		t.Errorf("sync = %+v, %v; want OK within tolerance", res, err)
	}

	f.live.mu.Lock()
	f.live.positions[0].Size = dec("0.5")
	f.live.mu.Unlock()
	if res, err := f.engine.Sync(ctx); err != nil || res.OK {
		t.Errorf("sync = %+v, %v; want failure for a half-size holding", res, err)
	}
}

func TestSync_LiveRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.Engine.LiveConfirmation = false })
	if _, err := f.control.SetMode(ctx, "tester", domain.ModeLive, 0); err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.SyncWithRetry(ctx, 2, time.Millisecond, time.Millisecond)
	if err == nil || res == nil || res.OK {
		t.Fatalf("SyncWithRetry = %+v, %v; want failure", res, err)
	}
	if n := f.auditCount(t, domain.EventStartupSyncFail); n != 2 {
		t.Errorf("STARTUP_SYNC_FAIL entries = %d, want 2", n)
	}
}

func TestSync_DemoWalletMismatchFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)
	if _, err := f.engine.Process(ctx, signal("o", "BTC/USD", domain.SideLong, domain.KindOpen, "1")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if res, err := f.engine.Sync(ctx); err != nil || !res.OK {
		t.Fatalf("sync with a matching wallet = %+v, %v", res, err)
	}

	repo := repository.NewWalletRepository(f.db)
	tx := f.db.MustBeginTx(ctx, nil)
	if err := repo.DeleteHolding(ctx, tx, "BTC/USD"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	res, err := f.engine.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Error("sync succeeded with an OPEN position the wallet does not hold")
	}
	if f.state(t).StartupSyncOK {
		t.Error("startup_sync_ok still set")
	}
}

func TestCheckModeChange_ExternalWriteForcesResync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	if needs, err := f.engine.CheckModeChange(ctx); err != nil || needs {
		t.Fatalf("CheckModeChange = %t, %v; want no sync needed", needs, err)
	}

	f.db.MustExec(`UPDATE system_state SET mode = 'LIVE', version = version + 1 WHERE id = 1`)

	needs, err := f.engine.CheckModeChange(ctx)
	if err != nil || !needs {
		t.Fatalf("CheckModeChange = %t, %v; want sync needed", needs, err)
	}
	s := f.state(t)
	if s.StartupSyncOK || s.Status != domain.StatusHalted {
		t.Errorf("state = %s, want HALTED awaiting sync", s.Summary())
	}
	if n := f.auditCount(t, domain.EventModeChangeSeen); n != 1 {
		t.Errorf("MODE_CHANGE_DETECTED entries = %d, want 1", n)
	}

	res, err := f.engine.SyncWithRetry(ctx, 1, time.Millisecond, time.Millisecond)
	if err != nil || !res.OK || res.Mode != domain.ModeLive {
		t.Fatalf("resync = %+v, %v", res, err)
	}
	if _, err = f.control.Resume(ctx, "tester", 0); err != nil {
		t.Errorf("resume after resync: %v", err)
	}
	if needs, _ = f.engine.CheckModeChange(ctx); needs {
		t.Error("sync still needed after a successful resync")
	}
}
