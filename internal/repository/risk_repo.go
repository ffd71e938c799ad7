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

// RiskRepository reads and writes the singleton risk_state row.
type RiskRepository struct {
	db *sqlx.DB
}

// NewRiskRepository creates a new RiskRepository.
func NewRiskRepository(db *sqlx.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

const selectRiskState = `
	SELECT id, daily_loss, daily_profit, max_daily_loss, current_drawdown, max_drawdown,
	       realized_pnl, unrealized_pnl, peak_equity, day_started_at, version, updated_at
	FROM risk_state WHERE id = 1`

// Get returns the current counters. Pass nil to read outside a transaction.
func (r *RiskRepository) Get(ctx context.Context, q sqlx.ExtContext) (*domain.RiskState, error) {
	if q == nil {
		q = r.db
	}
	var rs domain.RiskState
	if err := sqlx.GetContext(ctx, q, &rs, selectRiskState); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRiskStateNotFound
		}
		return nil, fmt.Errorf("risk_repo.Get: %w", err)
	}
	return &rs, nil
}

// GetForUpdate reads the row inside tx and locks it on PostgreSQL.
func (r *RiskRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx) (*domain.RiskState, error) {
	var rs domain.RiskState
	if err := tx.GetContext(ctx, &rs, selectRiskState+forUpdate(tx)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRiskStateNotFound
		}
		return nil, fmt.Errorf("risk_repo.GetForUpdate: %w", err)
	}
	return &rs, nil
}

// Update persists every counter with an optimistic version check.
func (r *RiskRepository) Update(ctx context.Context, tx *sqlx.Tx, rs *domain.RiskState) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE risk_state
		SET daily_loss = ?, daily_profit = ?, max_daily_loss = ?, current_drawdown = ?, max_drawdown = ?,
		    realized_pnl = ?, unrealized_pnl = ?, peak_equity = ?, day_started_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = 1 AND version = ?`),
		rs.DailyLoss, rs.DailyProfit, rs.MaxDailyLoss, rs.CurrentDrawdown, rs.MaxDrawdown,
		rs.RealizedPnL, rs.UnrealizedPnL, rs.PeakEquity, rs.DayStartedAt.UTC(), now, rs.Version)
	if err != nil {
		return fmt.Errorf("risk_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStaleState
	}
	rs.Version++
	rs.UpdatedAt = now
	return nil
}

// ApplyLimits writes the configured ceilings. Counters are left untouched.
// Returns true when the stored limits differed.
func (r *RiskRepository) ApplyLimits(ctx context.Context, tx *sqlx.Tx, maxDailyLoss, maxDrawdown decimal.Decimal) (bool, error) {
	rs, err := r.GetForUpdate(ctx, tx)
	if err != nil {
		return false, err
	}
	if rs.MaxDailyLoss.Equal(maxDailyLoss) && rs.MaxDrawdown.Equal(maxDrawdown) {
		return false, nil
	}
	rs.MaxDailyLoss = maxDailyLoss
	rs.MaxDrawdown = maxDrawdown
	if err = r.Update(ctx, tx, rs); err != nil {
		return false, fmt.Errorf("risk_repo.ApplyLimits: %w", err)
	}
	return true, nil
}
