package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionStatus is the outcome reported for a processed signal.
type ExecutionStatus string

const (
	ExecFilled         ExecutionStatus = "FILLED"
	ExecPending        ExecutionStatus = "PENDING"
	ExecRejectedHalted ExecutionStatus = "REJECTED_SYSTEM_HALTED"
	ExecRejectedRisk   ExecutionStatus = "REJECTED_RISK"
	ExecRejectedVenue  ExecutionStatus = "REJECTED_EXCHANGE_ERROR"
	ExecCancelled      ExecutionStatus = "CANCELLED"
)

// IsFinal returns false only while the order is still resting at the venue.
func (s ExecutionStatus) IsFinal() bool {
	return s != ExecPending
}

// ExecutionResult is stored once per signal id in signal_executions and
// returned verbatim when the same id is processed again.
type ExecutionResult struct {
	SignalID  string           `json:"signal_id"  db:"signal_id"`
	Status    ExecutionStatus  `json:"status"     db:"status"`
	Reason    string           `json:"reason"     db:"reason"`
	OrderID   *uuid.UUID       `json:"order_id"   db:"order_id"`
	FillPrice *decimal.Decimal `json:"fill_price" db:"fill_price"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// NewExecutionResult stamps a result for signalID.
func NewExecutionResult(signalID string, status ExecutionStatus, reason string, now time.Time) *ExecutionResult {
	return &ExecutionResult{
		SignalID:  signalID,
		Status:    status,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
