package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// AuditRepository appends to and reads the audit_log table. Rows are never
// updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts e. Pass the open tx so the entry commits with the change it
// describes, or nil to write on its own.
func (r *AuditRepository) Append(ctx context.Context, q sqlx.ExtContext, e *domain.AuditEntry) error {
	if q == nil {
		q = r.db
	}
	query := `
		INSERT INTO audit_log (id, event_type, message, created_at)
		VALUES (:id, :event_type, :message, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, e); err != nil {
		return fmt.Errorf("audit_repo.Append: %w", err)
	}
	return nil
}

// List returns entries newest first. eventType="" means all types.
// Returns (entries, totalCount, error).
func (r *AuditRepository) List(ctx context.Context, eventType domain.EventType, limit, offset int) ([]*domain.AuditEntry, int, error) {
	limit, offset = clampPage(limit, offset)
	var (
		entries []*domain.AuditEntry
		total   int
		err     error
	)
	if eventType != "" {
		err = r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM audit_log WHERE event_type = ?`), eventType)
	} else {
		err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_log`)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("audit_repo.List count: %w", err)
	}

	if eventType != "" {
		err = r.db.SelectContext(ctx, &entries, r.db.Rebind(`
			SELECT * FROM audit_log WHERE event_type = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?`), eventType, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &entries, r.db.Rebind(`
			SELECT * FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`), limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("audit_repo.List select: %w", err)
	}
	return entries, total, nil
}

// CountByType returns how many entries of eventType exist.
func (r *AuditRepository) CountByType(ctx context.Context, eventType domain.EventType) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n,
		r.db.Rebind(`SELECT COUNT(*) FROM audit_log WHERE event_type = ?`), eventType); err != nil {
		return 0, fmt.Errorf("audit_repo.CountByType: %w", err)
	}
	return n, nil
}
