package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// SystemStateRepository reads and writes the singleton system_state row.
type SystemStateRepository struct {
	db *sqlx.DB
}

// NewSystemStateRepository creates a new SystemStateRepository.
func NewSystemStateRepository(db *sqlx.DB) *SystemStateRepository {
	return &SystemStateRepository{db: db}
}

const selectSystemState = `
	SELECT id, mode, status, kill_switch, startup_sync_ok, synced_mode, version, updated_at
	FROM system_state WHERE id = 1`

// Get returns the current state. Pass nil to read outside a transaction.
func (r *SystemStateRepository) Get(ctx context.Context, q sqlx.ExtContext) (*domain.SystemState, error) {
	if q == nil {
		q = r.db
	}
	var s domain.SystemState
	if err := sqlx.GetContext(ctx, q, &s, selectSystemState); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSystemStateNotFound
		}
		return nil, fmt.Errorf("system_state_repo.Get: %w", err)
	}
	return &s, nil
}

// GetForUpdate reads the row inside tx and locks it on PostgreSQL.
func (r *SystemStateRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx) (*domain.SystemState, error) {
	var s domain.SystemState
	if err := tx.GetContext(ctx, &s, selectSystemState+forUpdate(tx)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSystemStateNotFound
		}
		return nil, fmt.Errorf("system_state_repo.GetForUpdate: %w", err)
	}
	return &s, nil
}

// Update writes s if nobody else has written since it was read. On success
// s.Version and s.UpdatedAt reflect the new row.
func (r *SystemStateRepository) Update(ctx context.Context, tx *sqlx.Tx, s *domain.SystemState) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE system_state
		SET mode = ?, status = ?, kill_switch = ?, startup_sync_ok = ?, synced_mode = ?,
		    version = version + 1, updated_at = ?
		WHERE id = 1 AND version = ?`),
		s.Mode, s.Status, s.KillSwitch, s.StartupSyncOK, s.SyncedMode, now, s.Version)
	if err != nil {
		return fmt.Errorf("system_state_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStaleState
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}
