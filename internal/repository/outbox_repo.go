package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// OutboxRepository reads the signal_outbox table fed by the upstream
// certifier. Rows are marked consumed, never deleted.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a record. Re-enqueueing an existing id returns
// ErrDuplicateSignal.
func (r *OutboxRepository) Enqueue(ctx context.Context, rec *domain.OutboxRecord) error {
	query := `
		INSERT INTO signal_outbox (id, payload, attempts, enqueued_at, consumed_at)
		VALUES (:id, :payload, :attempts, :enqueued_at, :consumed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSignal
		}
		return fmt.Errorf("outbox_repo.Enqueue: %w", err)
	}
	return nil
}

// NextPending returns up to limit unconsumed records in enqueue order.
func (r *OutboxRepository) NextPending(ctx context.Context, limit int) ([]*domain.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*domain.OutboxRecord
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(`
		SELECT * FROM signal_outbox
		WHERE consumed_at IS NULL
		ORDER BY enqueued_at, id
		LIMIT ?`), limit); err != nil {
		return nil, fmt.Errorf("outbox_repo.NextPending: %w", err)
	}
	return recs, nil
}

// MarkConsumed stamps the record so it is never delivered again.
func (r *OutboxRepository) MarkConsumed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE signal_outbox SET consumed_at = ?, attempts = attempts + 1
		WHERE id = ? AND consumed_at IS NULL`), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("outbox_repo.MarkConsumed: %w", err)
	}
	return nil
}

// MarkAttempt counts a delivery that did not complete.
func (r *OutboxRepository) MarkAttempt(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE signal_outbox SET attempts = attempts + 1 WHERE id = ?`), id); err != nil {
		return fmt.Errorf("outbox_repo.MarkAttempt: %w", err)
	}
	return nil
}

// CountPending returns the outbox backlog.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM signal_outbox WHERE consumed_at IS NULL`); err != nil {
		return 0, fmt.Errorf("outbox_repo.CountPending: %w", err)
	}
	return n, nil
}
