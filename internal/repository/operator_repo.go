package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/domain"
)

// OperatorRepository handles all database operations for back-office Operators.
type OperatorRepository struct {
	db *sqlx.DB
}

// NewOperatorRepository creates a new OperatorRepository.
func NewOperatorRepository(db *sqlx.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator row.
func (r *OperatorRepository) Create(ctx context.Context, o *domain.Operator) error {
	query := `
		INSERT INTO operators (id, username, password_hash, role, is_active, created_at, updated_at)
		VALUES (:id, :username, :password_hash, :role, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, o); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("operator_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches an operator by primary key.
func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	var o domain.Operator
	err := r.db.GetContext(ctx, &o, r.db.Rebind(`SELECT * FROM operators WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOperatorNotFound
		}
		return nil, fmt.Errorf("operator_repo.GetByID: %w", err)
	}
	return &o, nil
}

// GetByUsername fetches an operator by username (used for login).
func (r *OperatorRepository) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	var o domain.Operator
	err := r.db.GetContext(ctx, &o, r.db.Rebind(`SELECT * FROM operators WHERE username = ?`), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOperatorNotFound
		}
		return nil, fmt.Errorf("operator_repo.GetByUsername: %w", err)
	}
	return &o, nil
}

// List returns a paginated list of operators.
// Returns (operators, totalCount, error).
func (r *OperatorRepository) List(ctx context.Context, limit, offset int) ([]*domain.Operator, int, error) {
	limit, offset = clampPage(limit, offset)
	var ops []*domain.Operator
	var total int

	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM operators`); err != nil {
		return nil, 0, fmt.Errorf("operator_repo.List count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &ops, r.db.Rebind(
		`SELECT * FROM operators ORDER BY created_at DESC LIMIT ? OFFSET ?`), limit, offset); err != nil {
		return nil, 0, fmt.Errorf("operator_repo.List select: %w", err)
	}
	return ops, total, nil
}

// UpdateRole changes an operator's role.
func (r *OperatorRepository) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE operators SET role = ?, updated_at = ? WHERE id = ?`),
		string(role), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("operator_repo.UpdateRole: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOperatorNotFound
	}
	return nil
}

// SetActive activates or deactivates an operator account.
func (r *OperatorRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE operators SET is_active = ?, updated_at = ? WHERE id = ?`),
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("operator_repo.SetActive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOperatorNotFound
	}
	return nil
}
