package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/testutil"
)

func newWallet(t *testing.T, balance string) *service.VirtualWallet {
	t.Helper()
	db := testutil.NewDB(t)
	w := service.NewVirtualWallet(repository.NewWalletRepository(db), discardLogger())
	if err := w.Init(context.Background(), dec(balance)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return w
}

func walletOrder(side domain.Side, intent domain.SignalKind, size string) exchange.OrderRequest {
	return exchange.OrderRequest{
		ClientID: "client-1",
		Symbol:   "BTC/USD",
		Action:   domain.ActionFor(side, intent),
		Side:     side,
		Intent:   intent,
		Size:     dec(size),
	}
}

func balanceOf(t *testing.T, w *service.VirtualWallet) decimal.Decimal {
	t.Helper()
	b, err := w.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func TestVirtualWallet_LongRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, "100000")
	w.SetPrice("BTC/USD", dec("50000"))

	fill, err := w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindOpen, "1"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fill.Status != exchange.FillFilled || !fill.FillPrice.Equal(dec("50000")) || fill.ClientID != "client-1" {
		t.Fatalf("open fill = %+v", fill)
	}
	if got := balanceOf(t, w); !got.Equal(dec("50000")) {
		t.Errorf("balance after open = %s, want 50000", got)
	}

	w.SetPrice("BTC/USD", dec("52000"))
	if fill, err = w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindClose, "1")); err != nil || fill.Status != exchange.FillFilled {
		t.Fatalf("close = %+v, %v", fill, err)
	}
	if got := balanceOf(t, w); !got.Equal(dec("102000")) {
		t.Errorf("balance after close = %s, want 102000", got)
	}
	if hs, _ := w.ListOpenPositions(ctx); len(hs) != 0 {
		t.Errorf("holdings after close = %v, want none", hs)
	}
}

func TestVirtualWallet_ShortReservesAndSettles(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, "100000")
	w.SetPrice("BTC/USD", dec("50000"))

	if fill, err := w.PlaceOrder(ctx, walletOrder(domain.SideShort, domain.KindOpen, "1")); err != nil || fill.Status != exchange.FillFilled {
		t.Fatalf("open short = %+v, %v", fill, err)
	}
	if got := balanceOf(t, w); !got.Equal(dec("50000")) {
		t.Errorf("balance after open = %s, want 50000 (margin reserved)", got)
	}

	// Profit of 1000 on the way down: 1 × (2·50000 − 49000) comes back.
	w.SetPrice("BTC/USD", dec("49000"))
	if fill, err := w.PlaceOrder(ctx, walletOrder(domain.SideShort, domain.KindClose, "1")); err != nil || fill.Status != exchange.FillFilled {
		t.Fatalf("close short = %+v, %v", fill, err)
	}
	if got := balanceOf(t, w); !got.Equal(dec("101000")) {
		t.Errorf("balance after close = %s, want 101000", got)
	}
}

func TestVirtualWallet_Refusals(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, "1000")

	fill, err := w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindOpen, "1"))
	if err != nil || fill.Status != exchange.FillRejected {
		t.Errorf("no price: %+v, %v; want REJECTED", fill, err)
	}

	w.SetPrice("BTC/USD", dec("50000"))
	fill, err = w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindOpen, "1"))
	if err != nil || fill.Status != exchange.FillRejected {
		t.Errorf("unaffordable: %+v, %v; want REJECTED", fill, err)
	}
	if got := balanceOf(t, w); !got.Equal(dec("1000")) {
		t.Errorf("balance = %s, want 1000 untouched", got)
	}

	fill, err = w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindClose, "0.01"))
	if err != nil || fill.Status != exchange.FillRejected {
		t.Errorf("close without holding: %+v, %v; want REJECTED", fill, err)
	}
}

func TestVirtualWallet_RestingLimitFillsAtLimit(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, "100000")
	w.SetPrice("BTC/USD", dec("50000"))

	var (
		mu    sync.Mutex
		fills []*exchange.Fill
	)
	w.SetFillListener(func(_ context.Context, f *exchange.Fill) error {
		mu.Lock()
		fills = append(fills, f)
		mu.Unlock()
		return nil
	})

	req := walletOrder(domain.SideLong, domain.KindOpen, "1")
	req.Price = decPtr("49000")
	fill, err := w.PlaceOrder(ctx, req)
	if err != nil || fill.Status != exchange.FillPending {
		t.Fatalf("limit = %+v, %v; want PENDING", fill, err)
	}
	if open, _ := w.ListOpenOrders(ctx); len(open) != 1 || open[0].ClientID != "client-1" {
		t.Fatalf("open orders = %+v", open)
	}

	if err = w.OnPrice(ctx, "BTC/USD", dec("49001")); err != nil {
		t.Fatal(err)
	}
	if len(fills) != 0 {
		t.Fatalf("filled above the limit: %+v", fills)
	}

	if err = w.OnPrice(ctx, "BTC/USD", dec("48000")); err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	got := fills[0]
	if got.Status != exchange.FillFilled || !got.FillPrice.Equal(dec("49000")) ||
		got.OrderRef != fill.OrderRef || got.ClientID != "client-1" {
		t.Errorf("fill = %+v, want FILLED @ 49000 for %s", got, fill.OrderRef)
	}
	if b := balanceOf(t, w); !b.Equal(dec("51000")) {
		t.Errorf("balance = %s, want 51000", b)
	}
	if open, _ := w.ListOpenOrders(ctx); len(open) != 0 {
		t.Errorf("open orders after fill = %+v", open)
	}
}

func TestVirtualWallet_CrossingLimitFillsImmediately(t *testing.T) {
	w := newWallet(t, "100000")
	w.SetPrice("BTC/USD", dec("50000"))

	req := walletOrder(domain.SideLong, domain.KindOpen, "1")
	req.Price = decPtr("51000")
	fill, err := w.PlaceOrder(context.Background(), req)
	if err != nil || fill.Status != exchange.FillFilled || !fill.FillPrice.Equal(dec("50000")) {
		t.Errorf("fill = %+v, %v; want FILLED @ 50000", fill, err)
	}
}

func TestVirtualWallet_CancelOrder(t *testing.T) {
	ctx := context.Background()
	w := newWallet(t, "100000")
	w.SetPrice("BTC/USD", dec("50000"))

	req := walletOrder(domain.SideLong, domain.KindOpen, "1")
	req.Price = decPtr("40000")
	fill, err := w.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err = w.CancelOrder(ctx, "BTC/USD", fill.OrderRef); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err = w.CancelOrder(ctx, "BTC/USD", fill.OrderRef); !errors.Is(err, domain.ErrAdapterFatal) {
		t.Errorf("second cancel: err = %v, want ErrAdapterFatal", err)
	}
	if err = w.OnPrice(ctx, "BTC/USD", dec("30000")); err != nil {
		t.Fatal(err)
	}
	if b := balanceOf(t, w); !b.Equal(dec("100000")) {
		t.Errorf("cancelled order moved funds: balance %s", b)
	}
}
