package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// OrderRepository handles all database operations for Orders.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a PENDING order. A second order for the same signal id
// returns ErrDuplicateSignal.
func (r *OrderRepository) Create(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	query := `
		INSERT INTO orders
			(id, signal_id, symbol, side, intent, size, price, status, fill_price,
			 order_ref, position_id, reason, created_at, updated_at)
		VALUES
			(:id, :signal_id, :symbol, :side, :intent, :size, :price, :status, :fill_price,
			 :order_ref, :position_id, :reason, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, o); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSignal
		}
		return fmt.Errorf("order_repo.Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) getOne(ctx context.Context, q sqlx.ExtContext, op, where string, arg any) (*domain.Order, error) {
	if q == nil {
		q = r.db
	}
	var o domain.Order
	err := sqlx.GetContext(ctx, q, &o, q.Rebind(`SELECT * FROM orders WHERE `+where+` = ?`), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("order_repo.%s: %w", op, err)
	}
	return &o, nil
}

// GetByID fetches an order by primary key.
func (r *OrderRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, q, "GetByID", "id", id)
}

// GetBySignalID fetches the order created for a signal.
func (r *OrderRepository) GetBySignalID(ctx context.Context, q sqlx.ExtContext, signalID string) (*domain.Order, error) {
	return r.getOne(ctx, q, "GetBySignalID", "signal_id", signalID)
}

// GetByRef fetches an order by its venue reference.
func (r *OrderRepository) GetByRef(ctx context.Context, q sqlx.ExtContext, ref string) (*domain.Order, error) {
	return r.getOne(ctx, q, "GetByRef", "order_ref", ref)
}

// Update writes the mutable fields of o. The stored row must still be
// PENDING, so an order moves to a final status exactly once.
func (r *OrderRepository) Update(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE orders
		SET status = ?, fill_price = ?, order_ref = ?, position_id = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`),
		o.Status, o.FillPrice, o.OrderRef, o.PositionID, o.Reason, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("order_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotPending
	}
	return nil
}

// ListPending returns every order still waiting on its venue, oldest first.
func (r *OrderRepository) ListPending(ctx context.Context, q sqlx.ExtContext) ([]*domain.Order, error) {
	if q == nil {
		q = r.db
	}
	var orders []*domain.Order
	if err := sqlx.SelectContext(ctx, q, &orders,
		`SELECT * FROM orders WHERE status = 'PENDING' ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("order_repo.ListPending: %w", err)
	}
	return orders, nil
}

// ListPendingBySymbol returns the orders on symbol still waiting on a venue.
func (r *OrderRepository) ListPendingBySymbol(ctx context.Context, q sqlx.ExtContext, symbol string) ([]*domain.Order, error) {
	var orders []*domain.Order
	if err := sqlx.SelectContext(ctx, q, &orders, q.Rebind(
		`SELECT * FROM orders WHERE status = 'PENDING' AND symbol = ? ORDER BY created_at`), symbol); err != nil {
		return nil, fmt.Errorf("order_repo.ListPendingBySymbol: %w", err)
	}
	return orders, nil
}

// List returns a paginated list of orders. status="" means all statuses.
// Returns (orders, totalCount, error).
func (r *OrderRepository) List(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, int, error) {
	limit, offset = clampPage(limit, offset)
	var (
		orders []*domain.Order
		total  int
		err    error
	)
	if status != "" {
		err = r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM orders WHERE status = ?`), status)
	} else {
		err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("order_repo.List count: %w", err)
	}

	if status != "" {
		err = r.db.SelectContext(ctx, &orders, r.db.Rebind(`
			SELECT * FROM orders WHERE status = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?`), status, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &orders, r.db.Rebind(`
			SELECT * FROM orders ORDER BY created_at DESC LIMIT ? OFFSET ?`), limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("order_repo.List select: %w", err)
	}
	return orders, total, nil
}
