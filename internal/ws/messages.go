// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected operators.
package ws

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeAuditEvent      MsgType = "audit_event"
	MsgTypeStateUpdate     MsgType = "state_update"
	MsgTypeExecutionResult MsgType = "execution_result"
	MsgTypePriceUpdate     MsgType = "price_update"
)

// ──────────────────────────────────────────────────────────────────────────────
// AuditEventMessage: one per committed audit entry.
// ──────────────────────────────────────────────────────────────────────────────

// AuditEventMessage mirrors an audit_log row.
type AuditEventMessage struct {
	Type      MsgType            `json:"type"`
	Entry     *domain.AuditEntry `json:"entry"`
	Timestamp time.Time          `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// StateUpdateMessage: sent whenever system_state changes.
// ──────────────────────────────────────────────────────────────────────────────

// StateUpdateMessage carries the new system state and its derived phase.
type StateUpdateMessage struct {
	Type      MsgType             `json:"type"`
	State     *domain.SystemState `json:"state"`
	Phase     domain.Phase        `json:"phase"`
	Timestamp time.Time           `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ExecutionResultMessage: one per processed signal.
// ──────────────────────────────────────────────────────────────────────────────

// ExecutionResultMessage reports the outcome recorded for a signal.
type ExecutionResultMessage struct {
	Type      MsgType                 `json:"type"`
	Result    *domain.ExecutionResult `json:"result"`
	Timestamp time.Time               `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceUpdateMessage: sent on every scheduler price refresh.
// ──────────────────────────────────────────────────────────────────────────────

// PriceUpdateMessage carries the weighted reference price for one symbol.
type PriceUpdateMessage struct {
	Type      MsgType              `json:"type"`
	Symbol    string               `json:"symbol"`
	Price     decimal.Decimal      `json:"price"`
	Sources   []domain.PriceSource `json:"sources,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}
