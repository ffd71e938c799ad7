package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit_log rows.
type EventType string

const (
	EventSignalRejectedHalted EventType = "SIGNAL_REJECTED_HALTED"
	EventSignalRejectedRisk   EventType = "SIGNAL_REJECTED_RISK"
	EventSignalMalformed      EventType = "SIGNAL_MALFORMED"
	EventSignalEnqueued       EventType = "SIGNAL_ENQUEUED"

	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderResting   EventType = "ORDER_RESTING"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderFailed    EventType = "ORDER_FAILED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"

	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionClosed EventType = "POSITION_CLOSED"

	EventRiskUpdated    EventType = "RISK_STATE_UPDATED"
	EventRiskDailyReset EventType = "RISK_DAILY_RESET"
	EventRiskLimitsSet  EventType = "RISK_LIMITS_SET"

	EventKillSwitchTripped EventType = "KILL_SWITCH_TRIPPED"
	EventKillSwitchEngaged EventType = "KILL_SWITCH_ENGAGED"
	EventKillSwitchCleared EventType = "KILL_SWITCH_CLEARED"
	EventStatusChanged     EventType = "SYSTEM_STATUS_CHANGED"
	EventModeChanged       EventType = "MODE_CHANGED"
	EventModeChangeSeen    EventType = "MODE_CHANGE_DETECTED"
	EventSystemicFailure   EventType = "SYSTEMIC_FAILURE"

	EventStartupSyncOK       EventType = "STARTUP_SYNC_OK"
	EventStartupSyncFail     EventType = "STARTUP_SYNC_FAIL"
	EventExchangeConnectOK   EventType = "EXCHANGE_CONNECT_OK"
	EventExchangeConnectFail EventType = "EXCHANGE_CONNECT_FAIL"

	EventOperatorChanged EventType = "OPERATOR_CHANGED"
)

// AuditEntry is an append-only record of one decision or transition.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	EventType EventType `json:"event_type" db:"event_type"`
	Message   string    `json:"message"    db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewAuditEntry formats a new entry stamped with the current UTC time.
func NewAuditEntry(evt EventType, format string, args ...any) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New(),
		EventType: evt,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: time.Now().UTC(),
	}
}
