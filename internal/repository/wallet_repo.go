package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
)

// WalletRepository persists the DEMO virtual wallet: its cash balance, the
// holdings it has opened and the limit orders resting on it.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// DB exposes the handle so the wallet can open its own transactions.
func (r *WalletRepository) DB() *sqlx.DB {
	return r.db
}

// ── Account ───────────────────────────────────────────────────────────────────

// EnsureAccount creates the account with start as its balance when missing.
// An existing balance is never overwritten.
func (r *WalletRepository) EnsureAccount(ctx context.Context, start decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO wallet_account (id, balance, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO NOTHING`), start, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("wallet_repo.EnsureAccount: %w", err)
	}
	return nil
}

// GetAccount fetches the account row. Pass nil to read outside a transaction.
func (r *WalletRepository) GetAccount(ctx context.Context, q sqlx.ExtContext) (*domain.WalletAccount, error) {
	if q == nil {
		q = r.db
	}
	var a domain.WalletAccount
	if err := sqlx.GetContext(ctx, q, &a, `SELECT * FROM wallet_account WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetAccount: %w", err)
	}
	return &a, nil
}

// DeductBalance subtracts amount inside a transaction. Locks the row on
// PostgreSQL; returns ErrInsufficientBalance when the balance would go
// negative.
func (r *WalletRepository) DeductBalance(ctx context.Context, tx *sqlx.Tx, amount decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `SELECT balance FROM wallet_account WHERE id = 1`+forUpdate(tx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWalletNotFound
		}
		return fmt.Errorf("wallet_repo.DeductBalance lock: %w", err)
	}

	if balance.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE wallet_account SET balance = ?, updated_at = ? WHERE id = 1`),
		balance.Sub(amount), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("wallet_repo.DeductBalance update: %w", err)
	}
	return nil
}

// AddBalance credits amount inside a transaction.
func (r *WalletRepository) AddBalance(ctx context.Context, tx *sqlx.Tx, amount decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `SELECT balance FROM wallet_account WHERE id = 1`+forUpdate(tx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWalletNotFound
		}
		return fmt.Errorf("wallet_repo.AddBalance lock: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE wallet_account SET balance = ?, updated_at = ? WHERE id = 1`),
		balance.Add(amount), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("wallet_repo.AddBalance: %w", err)
	}
	return nil
}

// ── Holdings ──────────────────────────────────────────────────────────────────

// GetHolding returns the holding for symbol.
func (r *WalletRepository) GetHolding(ctx context.Context, q sqlx.ExtContext, symbol string) (*domain.WalletHolding, error) {
	if q == nil {
		q = r.db
	}
	var h domain.WalletHolding
	err := sqlx.GetContext(ctx, q, &h, q.Rebind(`SELECT * FROM wallet_holdings WHERE symbol = ?`), symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldingNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetHolding: %w", err)
	}
	return &h, nil
}

// UpsertHolding writes h, replacing any holding for the same symbol.
func (r *WalletRepository) UpsertHolding(ctx context.Context, tx *sqlx.Tx, h *domain.WalletHolding) error {
	query := `
		INSERT INTO wallet_holdings (symbol, side, size, avg_price, updated_at)
		VALUES (:symbol, :side, :size, :avg_price, :updated_at)
		ON CONFLICT (symbol) DO UPDATE SET
			side = excluded.side, size = excluded.size,
			avg_price = excluded.avg_price, updated_at = excluded.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("wallet_repo.UpsertHolding: %w", err)
	}
	return nil
}

// DeleteHolding removes the holding for symbol.
func (r *WalletRepository) DeleteHolding(ctx context.Context, tx *sqlx.Tx, symbol string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM wallet_holdings WHERE symbol = ?`), symbol)
	if err != nil {
		return fmt.Errorf("wallet_repo.DeleteHolding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHoldingNotFound
	}
	return nil
}

// ListHoldings returns every holding ordered by symbol.
func (r *WalletRepository) ListHoldings(ctx context.Context, q sqlx.ExtContext) ([]*domain.WalletHolding, error) {
	if q == nil {
		q = r.db
	}
	var hs []*domain.WalletHolding
	if err := sqlx.SelectContext(ctx, q, &hs, `SELECT * FROM wallet_holdings ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("wallet_repo.ListHoldings: %w", err)
	}
	return hs, nil
}

// ── Resting limit orders ──────────────────────────────────────────────────────

// CreateRestingOrder stores a limit order that did not cross on arrival.
func (r *WalletRepository) CreateRestingOrder(ctx context.Context, tx *sqlx.Tx, o *domain.RestingOrder) error {
	query := `
		INSERT INTO wallet_orders (order_ref, client_id, symbol, side, intent, size, limit_price, created_at)
		VALUES (:order_ref, :client_id, :symbol, :side, :intent, :size, :limit_price, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("wallet_repo.CreateRestingOrder: %w", err)
	}
	return nil
}

// DeleteRestingOrder removes a resting order. Returns ErrOrderNotFound when
// it has already been filled or cancelled.
func (r *WalletRepository) DeleteRestingOrder(ctx context.Context, tx *sqlx.Tx, ref string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM wallet_orders WHERE order_ref = ?`), ref)
	if err != nil {
		return fmt.Errorf("wallet_repo.DeleteRestingOrder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// ListRestingOrders returns resting orders, oldest first. symbol="" means all.
func (r *WalletRepository) ListRestingOrders(ctx context.Context, q sqlx.ExtContext, symbol string) ([]*domain.RestingOrder, error) {
	if q == nil {
		q = r.db
	}
	var (
		orders []*domain.RestingOrder
		err    error
	)
	if symbol != "" {
		err = sqlx.SelectContext(ctx, q, &orders, q.Rebind(`
			SELECT * FROM wallet_orders WHERE symbol = ? ORDER BY created_at`), symbol)
	} else {
		err = sqlx.SelectContext(ctx, q, &orders, `SELECT * FROM wallet_orders ORDER BY created_at`)
	}
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.ListRestingOrders: %w", err)
	}
	return orders, nil
}
