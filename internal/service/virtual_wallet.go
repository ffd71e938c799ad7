package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
)

// virtualRefPrefix marks order refs issued by the virtual wallet.
const virtualRefPrefix = "VW-"

// FillListener receives fills of orders that rested on the wallet. The
// engine applies them through its locked update path.
type FillListener func(ctx context.Context, fill *exchange.Fill) error

// ──────────────────────────────────────────────────────────────────────────────
// VirtualWallet
// ──────────────────────────────────────────────────────────────────────────────

// VirtualWallet is the DEMO venue. It simulates fills against reference
// prices and keeps its own persisted ledger: a cash balance, one holding per
// symbol and the limit orders that have not crossed yet.
//
// Opening a LONG costs size·price and closing it returns size·price. Opening
// a SHORT reserves size·price as margin and closing it returns
// size·(2·entry − price).
type VirtualWallet struct {
	repo   *repository.WalletRepository
	logger *slog.Logger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	onFill FillListener
}

// NewVirtualWallet creates a wallet over repo.
func NewVirtualWallet(repo *repository.WalletRepository, logger *slog.Logger) *VirtualWallet {
	return &VirtualWallet{
		repo:   repo,
		logger: logger,
		prices: make(map[string]decimal.Decimal),
	}
}

// SetFillListener injects the receiver of resting-order fills.
func (w *VirtualWallet) SetFillListener(fn FillListener) {
	w.mu.Lock()
	w.onFill = fn
	w.mu.Unlock()
}

// Init creates the account with the starting balance on first run.
func (w *VirtualWallet) Init(ctx context.Context, start decimal.Decimal) error {
	return w.repo.EnsureAccount(ctx, start)
}

// Name implements exchange.Venue.
func (w *VirtualWallet) Name() string { return "virtual" }

// SetPrice sets the reference price for symbol without touching resting
// orders.
func (w *VirtualWallet) SetPrice(symbol string, price decimal.Decimal) {
	w.mu.Lock()
	w.prices[symbol] = price
	w.mu.Unlock()
}

// ReferencePrice returns the last price seen for symbol.
func (w *VirtualWallet) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.prices[symbol]
	return p, ok
}

// Balance returns the cash balance.
func (w *VirtualWallet) Balance(ctx context.Context) (decimal.Decimal, error) {
	a, err := w.repo.GetAccount(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("virtual_wallet.Balance: %w", err)
	}
	return a.Balance, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceOrder
// ──────────────────────────────────────────────────────────────────────────────

// PlaceOrder implements exchange.Venue. It always resolves: a market order
// or a crossing limit fills at the reference price, any other limit order
// rests. A missing price or an unaffordable order yields a REJECTED fill.
func (w *VirtualWallet) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Fill, error) {
	ref, ok := w.ReferencePrice(req.Symbol)
	if !ok {
		return &exchange.Fill{Status: exchange.FillRejected, Reason: "no reference price for " + req.Symbol}, nil
	}

	orderRef := virtualRefPrefix + uuid.NewString()
	now := time.Now().UTC()

	tx, err := w.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: virtual_wallet.PlaceOrder: begin tx: %v", domain.ErrAdapterSystemic, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if req.Price != nil && !domain.LimitCrossed(req.Action, *req.Price, ref) {
		resting := &domain.RestingOrder{
			OrderRef:   orderRef,
			ClientID:   req.ClientID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Intent:     req.Intent,
			Size:       req.Size,
			LimitPrice: *req.Price,
			CreatedAt:  now,
		}
		if err = w.repo.CreateRestingOrder(ctx, tx, resting); err != nil {
			return nil, fmt.Errorf("%w: virtual_wallet.PlaceOrder: %v", domain.ErrAdapterSystemic, err)
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: virtual_wallet.PlaceOrder: commit: %v", domain.ErrAdapterSystemic, err)
		}
		return &exchange.Fill{Status: exchange.FillPending, OrderRef: orderRef, ClientID: req.ClientID}, nil
	}

	reason, err := w.settle(ctx, tx, req.Symbol, req.Side, req.Intent, req.Size, ref, now)
	if err != nil {
		return nil, fmt.Errorf("%w: virtual_wallet.PlaceOrder: %v", domain.ErrAdapterSystemic, err)
	}
	if reason != "" {
		return &exchange.Fill{Status: exchange.FillRejected, OrderRef: orderRef, ClientID: req.ClientID, Reason: reason}, nil
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: virtual_wallet.PlaceOrder: commit: %v", domain.ErrAdapterSystemic, err)
	}
	return &exchange.Fill{Status: exchange.FillFilled, FillPrice: ref, OrderRef: orderRef, ClientID: req.ClientID}, nil
}

// settle moves cash and holdings for a fill at price. A non-empty reason
// means the wallet refuses the fill; the caller must not commit.
func (w *VirtualWallet) settle(
	ctx context.Context,
	tx *sqlx.Tx,
	symbol string,
	side domain.Side,
	intent domain.SignalKind,
	size, price decimal.Decimal,
	now time.Time,
) (string, error) {
	holding, err := w.repo.GetHolding(ctx, tx, symbol)
	if err != nil && !errors.Is(err, domain.ErrHoldingNotFound) {
		return "", err
	}

	if intent == domain.KindOpen {
		if holding != nil && holding.Side != side {
			return fmt.Sprintf("wallet holds %s %s, cannot open %s", holding.Side, symbol, side), nil
		}
		cost := size.Mul(price)
		if err = w.repo.DeductBalance(ctx, tx, cost); err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return fmt.Sprintf("insufficient balance for %s", cost.StringFixed(2)), nil
			}
			return "", err
		}
		h := &domain.WalletHolding{Symbol: symbol, Side: side, Size: size, AvgPrice: price, UpdatedAt: now}
		if holding != nil {
			total := holding.Size.Add(size)
			h.AvgPrice = holding.AvgPrice.Mul(holding.Size).Add(cost).Div(total)
			h.Size = total
		}
		return "", w.repo.UpsertHolding(ctx, tx, h)
	}

	if holding == nil || holding.Side != side {
		return fmt.Sprintf("wallet has no %s holding on %s", side, symbol), nil
	}
	if size.GreaterThan(holding.Size) {
		return fmt.Sprintf("close size %s exceeds holding %s", size, holding.Size), nil
	}

	proceeds := size.Mul(price)
	if side == domain.SideShort {
		proceeds = size.Mul(holding.AvgPrice.Mul(decimal.NewFromInt(2)).Sub(price))
	}
	if proceeds.IsPositive() {
		if err = w.repo.AddBalance(ctx, tx, proceeds); err != nil {
			return "", err
		}
	}

	if size.Equal(holding.Size) {
		return "", w.repo.DeleteHolding(ctx, tx, symbol)
	}
	holding.Size = holding.Size.Sub(size)
	holding.UpdatedAt = now
	return "", w.repo.UpsertHolding(ctx, tx, holding)
}

// ──────────────────────────────────────────────────────────────────────────────
// Price updates
// ──────────────────────────────────────────────────────────────────────────────

// OnPrice records a new reference price and fills every resting order on
// symbol that it crosses, at the order's limit. Each fill is committed on its
// own and then handed to the fill listener.
func (w *VirtualWallet) OnPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	w.SetPrice(symbol, price)

	resting, err := w.repo.ListRestingOrders(ctx, nil, symbol)
	if err != nil {
		return fmt.Errorf("virtual_wallet.OnPrice: %w", err)
	}

	var errs []error
	for _, o := range resting {
		if !o.Crosses(price) {
			continue
		}
		fill, err := w.fillResting(ctx, o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fill != nil {
			w.notify(ctx, fill)
		}
	}
	return errors.Join(errs...)
}

func (w *VirtualWallet) fillResting(ctx context.Context, o *domain.RestingOrder) (*exchange.Fill, error) {
	tx, err := w.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("virtual_wallet.fillResting: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err = w.repo.DeleteRestingOrder(ctx, tx, o.OrderRef); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, nil // cancelled in the meantime
		}
		return nil, fmt.Errorf("virtual_wallet.fillResting: %w", err)
	}

	reason, err := w.settle(ctx, tx, o.Symbol, o.Side, o.Intent, o.Size, o.LimitPrice, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("virtual_wallet.fillResting: settle %s: %w", o.OrderRef, err)
	}
	if reason != "" {
		// Drop the order without moving funds.
		if err = tx.Rollback(); err != nil {
			return nil, fmt.Errorf("virtual_wallet.fillResting: rollback: %w", err)
		}
		if err = w.deleteResting(ctx, o.OrderRef); err != nil {
			return nil, err
		}
		return &exchange.Fill{Status: exchange.FillRejected, OrderRef: o.OrderRef, ClientID: o.ClientID, Reason: reason}, nil
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("virtual_wallet.fillResting: commit: %w", err)
	}
	w.logger.Info("virtual wallet: resting order filled",
		"ref", o.OrderRef, "symbol", o.Symbol, "price", o.LimitPrice.String())
	return &exchange.Fill{Status: exchange.FillFilled, FillPrice: o.LimitPrice, OrderRef: o.OrderRef, ClientID: o.ClientID}, nil
}

func (w *VirtualWallet) deleteResting(ctx context.Context, ref string) error {
	tx, err := w.repo.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("virtual_wallet.deleteResting: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err = w.repo.DeleteRestingOrder(ctx, tx, ref); err != nil {
		return fmt.Errorf("virtual_wallet.deleteResting: %w", err)
	}
	return tx.Commit()
}

func (w *VirtualWallet) notify(ctx context.Context, fill *exchange.Fill) {
	w.mu.RLock()
	fn := w.onFill
	w.mu.RUnlock()
	if fn == nil {
		return
	}
	if err := fn(ctx, fill); err != nil {
		w.logger.Error("virtual wallet: fill listener failed", "ref", fill.OrderRef, "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries & cancel
// ──────────────────────────────────────────────────────────────────────────────

// CancelOrder implements exchange.Venue for resting orders.
func (w *VirtualWallet) CancelOrder(ctx context.Context, _ string, ref string) error {
	err := w.deleteResting(ctx, ref)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return exchange.Rejected("order %s is not resting on the virtual wallet", ref)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterSystemic, err)
	}
	return nil
}

// ListOpenPositions implements exchange.Venue from the wallet holdings.
func (w *VirtualWallet) ListOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	hs, err := w.repo.ListHoldings(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterSystemic, err)
	}
	out := make([]exchange.VenuePosition, 0, len(hs))
	for _, h := range hs {
		out = append(out, exchange.VenuePosition{Symbol: h.Symbol, Side: h.Side, Size: h.Size})
	}
	return out, nil
}

// ListOpenOrders implements exchange.Venue from the resting orders.
func (w *VirtualWallet) ListOpenOrders(ctx context.Context) ([]exchange.VenueOrder, error) {
	rs, err := w.repo.ListRestingOrders(ctx, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterSystemic, err)
	}
	out := make([]exchange.VenueOrder, 0, len(rs))
	for _, o := range rs {
		out = append(out, exchange.VenueOrder{Ref: o.OrderRef, ClientID: o.ClientID, Symbol: o.Symbol})
	}
	return out, nil
}
