package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Role
// ──────────────────────────────────────────────────────────────────────────────

// Role controls what an operator may do in the back-office.
type Role string

const (
	RoleAdmin    Role = "admin"    // everything, including mode changes
	RoleRisk     Role = "risk"     // kill switch, halt, resume
	RoleOps      Role = "ops"      // pause/resume, signals, order cancels
	RoleReadOnly Role = "readonly" // read-only views
)

// IsValid returns true for the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleRisk, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Operator
// ──────────────────────────────────────────────────────────────────────────────

// Operator is a back-office account allowed to act on the engine.
type Operator struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Role         Role      `json:"role"       db:"role"`
	IsActive     bool      `json:"is_active"  db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
