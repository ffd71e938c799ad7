package service

import (
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/repository"
)

// Stores bundles the repositories shared by the engine and the control
// service.
type Stores struct {
	State      *repository.SystemStateRepository
	Risk       *repository.RiskRepository
	Orders     *repository.OrderRepository
	Positions  *repository.PositionRepository
	Audit      *repository.AuditRepository
	Executions *repository.ExecutionRepository
	Outbox     *repository.OutboxRepository
}

// NewStores builds every repository over db.
func NewStores(db *sqlx.DB) Stores {
	return Stores{
		State:      repository.NewSystemStateRepository(db),
		Risk:       repository.NewRiskRepository(db),
		Orders:     repository.NewOrderRepository(db),
		Positions:  repository.NewPositionRepository(db),
		Audit:      repository.NewAuditRepository(db),
		Executions: repository.NewExecutionRepository(db),
		Outbox:     repository.NewOutboxRepository(db),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface the services need from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastAudit(e *domain.AuditEntry)
	BroadcastState(s *domain.SystemState)
	BroadcastExecution(r *domain.ExecutionResult)
}

// PriceReader supplies reference prices. Implemented by PriceService and
// VirtualWallet.
type PriceReader interface {
	ReferencePrice(symbol string) (decimal.Decimal, bool)
}
