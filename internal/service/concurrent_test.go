package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
)

// TestConcurrentWalletDebits runs 20 goroutines buying 0.1 BTC each against a
// balance that covers exactly 10 of them. The wallet must never overdraw.
func TestConcurrentWalletDebits(t *testing.T) {
	const workers = 20

	ctx := context.Background()
	w := newWallet(t, "50000")
	w.SetPrice("BTC/USD", dec("50000"))

	var filled, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fill, err := w.PlaceOrder(ctx, walletOrder(domain.SideLong, domain.KindOpen, "0.1"))
			if err != nil {
				t.Errorf("PlaceOrder: %v", err)
				return
			}
			switch fill.Status {
			case exchange.FillFilled:
				atomic.AddInt64(&filled, 1)
			case exchange.FillRejected:
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	if filled != 10 || rejected != workers-10 {
		t.Errorf("filled %d rejected %d, want 10 and %d", filled, rejected, workers-10)
	}
	if b := balanceOf(t, w); !b.IsZero() {
		t.Errorf("balance = %s, want 0", b)
	}
	hs, err := w.ListOpenPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 1 || !hs[0].Size.Equal(dec("1")) {
		t.Errorf("holdings = %+v, want 1 BTC", hs)
	}
}
