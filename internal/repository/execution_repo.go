package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// ExecutionRepository is the dedupe ledger: one signal_executions row per
// processed signal id.
type ExecutionRepository struct {
	db *sqlx.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Get returns the stored result for signalID.
func (r *ExecutionRepository) Get(ctx context.Context, q sqlx.ExtContext, signalID string) (*domain.ExecutionResult, error) {
	if q == nil {
		q = r.db
	}
	var res domain.ExecutionResult
	err := sqlx.GetContext(ctx, q, &res,
		q.Rebind(`SELECT * FROM signal_executions WHERE signal_id = ?`), signalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("execution_repo.Get: %w", err)
	}
	return &res, nil
}

// Create records the first result for a signal. A second insert for the same
// id returns ErrDuplicateSignal.
func (r *ExecutionRepository) Create(ctx context.Context, tx *sqlx.Tx, res *domain.ExecutionResult) error {
	query := `
		INSERT INTO signal_executions (signal_id, status, reason, order_id, fill_price, created_at, updated_at)
		VALUES (:signal_id, :status, :reason, :order_id, :fill_price, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, res); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSignal
		}
		return fmt.Errorf("execution_repo.Create: %w", err)
	}
	return nil
}

// Update moves a PENDING result to its final outcome.
func (r *ExecutionRepository) Update(ctx context.Context, tx *sqlx.Tx, res *domain.ExecutionResult) error {
	out, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE signal_executions
		SET status = ?, reason = ?, order_id = ?, fill_price = ?, updated_at = ?
		WHERE signal_id = ?`),
		res.Status, res.Reason, res.OrderID, res.FillPrice, res.UpdatedAt, res.SignalID)
	if err != nil {
		return fmt.Errorf("execution_repo.Update: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}
