package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// PositionRepository handles all database operations for Positions.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a newly opened position.
func (r *PositionRepository) Create(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, symbol, side, size, entry_price, status, opened_at, closed_at,
			 close_price, pnl, open_order_id, close_order_id)
		VALUES
			(:id, :symbol, :side, :size, :entry_price, :status, :opened_at, :closed_at,
			 :close_price, :pnl, :open_order_id, :close_order_id)`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("position_repo.Create: %w", err)
	}
	return nil
}

// Close writes the close fields of p. The stored row must still be OPEN.
func (r *PositionRepository) Close(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE positions
		SET status = ?, closed_at = ?, close_price = ?, pnl = ?, close_order_id = ?
		WHERE id = ? AND status = 'OPEN'`),
		p.Status, p.ClosedAt, p.ClosePrice, p.PnL, p.CloseOrderID, p.ID)
	if err != nil {
		return fmt.Errorf("position_repo.Close: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPositionNotFound
	}
	return nil
}

// GetOpenBySymbol returns the open position for symbol.
func (r *PositionRepository) GetOpenBySymbol(ctx context.Context, q sqlx.ExtContext, symbol string) (*domain.Position, error) {
	if q == nil {
		q = r.db
	}
	var p domain.Position
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(`
		SELECT * FROM positions WHERE symbol = ? AND status = 'OPEN'`), symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetOpenBySymbol: %w", err)
	}
	return &p, nil
}

// ListOpen returns every open position, oldest first.
func (r *PositionRepository) ListOpen(ctx context.Context, q sqlx.ExtContext) ([]*domain.Position, error) {
	if q == nil {
		q = r.db
	}
	var ps []*domain.Position
	if err := sqlx.SelectContext(ctx, q, &ps,
		`SELECT * FROM positions WHERE status = 'OPEN' ORDER BY opened_at`); err != nil {
		return nil, fmt.Errorf("position_repo.ListOpen: %w", err)
	}
	return ps, nil
}

// ListClosed returns every closed position, used by the trade report.
func (r *PositionRepository) ListClosed(ctx context.Context) ([]*domain.Position, error) {
	var ps []*domain.Position
	if err := r.db.SelectContext(ctx, &ps,
		`SELECT * FROM positions WHERE status = 'CLOSED' ORDER BY closed_at`); err != nil {
		return nil, fmt.Errorf("position_repo.ListClosed: %w", err)
	}
	return ps, nil
}

// List returns a paginated list of positions. status="" means all statuses.
// Returns (positions, totalCount, error).
func (r *PositionRepository) List(ctx context.Context, status domain.PositionStatus, limit, offset int) ([]*domain.Position, int, error) {
	limit, offset = clampPage(limit, offset)
	var (
		ps    []*domain.Position
		total int
		err   error
	)
	if status != "" {
		err = r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM positions WHERE status = ?`), status)
	} else {
		err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM positions`)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("position_repo.List count: %w", err)
	}

	if status != "" {
		err = r.db.SelectContext(ctx, &ps, r.db.Rebind(`
			SELECT * FROM positions WHERE status = ?
			ORDER BY opened_at DESC LIMIT ? OFFSET ?`), status, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &ps, r.db.Rebind(`
			SELECT * FROM positions ORDER BY opened_at DESC LIMIT ? OFFSET ?`), limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("position_repo.List select: %w", err)
	}
	return ps, total, nil
}
