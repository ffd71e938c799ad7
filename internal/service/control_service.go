package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/geniusbot/executor/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// ControlService
// ──────────────────────────────────────────────────────────────────────────────

// ControlService carries out operator actions: state transitions, mode
// changes, signal enqueueing and order cancels. Transitions go through the
// engine's critical section so they serialize with signal processing.
type ControlService struct {
	engine *ExecutionService
	stores Stores
	logger *slog.Logger
}

// NewControlService creates a ControlService acting on engine.
func NewControlService(engine *ExecutionService, logger *slog.Logger) *ControlService {
	return &ControlService{engine: engine, stores: engine.stores, logger: logger}
}

// StatusSnapshot is the engine's current state as shown to operators.
type StatusSnapshot struct {
	State         *domain.SystemState `json:"state"`
	Phase         domain.Phase        `json:"phase"`
	Risk          *domain.RiskState   `json:"risk"`
	OutboxBacklog int                 `json:"outbox_backlog"`
	LastSync      *SyncResult         `json:"last_sync,omitempty"`
}

// Status reads the singleton rows and the outbox backlog.
func (c *ControlService) Status(ctx context.Context) (*StatusSnapshot, error) {
	state, err := c.stores.State.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("control_service.Status: %w", err)
	}
	risk, err := c.stores.Risk.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("control_service.Status: %w", err)
	}
	backlog, err := c.stores.Outbox.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("control_service.Status: %w", err)
	}
	return &StatusSnapshot{
		State:         state,
		Phase:         state.Phase(),
		Risk:          risk,
		OutboxBacklog: backlog,
		LastSync:      c.engine.LastSync(),
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────────────────────────────────

// transition applies fn to the locked state row and audits the change under
// operator. A non-zero version must match the row's current version.
func (c *ControlService) transition(
	ctx context.Context,
	op, operator string,
	version int64,
	evt domain.EventType,
	fn func(s *domain.SystemState) error,
) (*domain.SystemState, error) {
	var out *domain.SystemState
	err := c.engine.locked(ctx, op, func(t *txn) error {
		state, err := c.stores.State.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock system state", err)
		}
		if version != 0 && version != state.Version {
			return fmt.Errorf("control_service.%s: %w: version %d, current %d",
				op, domain.ErrStaleState, version, state.Version)
		}
		before := state.Phase()
		if err = fn(state); err != nil {
			return fmt.Errorf("control_service.%s: %w", op, err)
		}
		if err = c.stores.State.Update(ctx, t.Tx, state); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				return fmt.Errorf("control_service.%s: %w", op, err)
			}
			return persistErr(op, err)
		}
		t.state = state
		out = state
		return c.engine.audit(ctx, t, evt, "%s by %s: %s -> %s (%s)",
			op, operator, before, state.Phase(), state.Summary())
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("operator action", "op", op, "operator", operator, "phase", out.Phase())
	return out, nil
}

// Resume moves HALTED or PAUSED to RUNNING.
func (c *ControlService) Resume(ctx context.Context, operator string, version int64) (*domain.SystemState, error) {
	return c.transition(ctx, "resume", operator, version, domain.EventStatusChanged,
		func(s *domain.SystemState) error { return s.Resume() })
}

// Pause moves RUNNING to PAUSED.
func (c *ControlService) Pause(ctx context.Context, operator string, version int64) (*domain.SystemState, error) {
	return c.transition(ctx, "pause", operator, version, domain.EventStatusChanged,
		func(s *domain.SystemState) error { return s.Pause() })
}

// Halt moves RUNNING or PAUSED to HALTED.
func (c *ControlService) Halt(ctx context.Context, operator string, version int64) (*domain.SystemState, error) {
	return c.transition(ctx, "halt", operator, version, domain.EventStatusChanged,
		func(s *domain.SystemState) error { return s.Halt() })
}

// EngageKillSwitch trips the kill switch by hand.
func (c *ControlService) EngageKillSwitch(ctx context.Context, operator, reason string) (*domain.SystemState, error) {
	op := "engage kill switch"
	if reason != "" {
		op += " (" + reason + ")"
	}
	return c.transition(ctx, op, operator, 0, domain.EventKillSwitchEngaged,
		func(s *domain.SystemState) error {
			s.TripKillSwitch()
			return nil
		})
}

// ClearKillSwitch releases the kill switch. The engine stays HALTED until a
// Resume.
func (c *ControlService) ClearKillSwitch(ctx context.Context, operator string, version int64) (*domain.SystemState, error) {
	return c.transition(ctx, "clear kill switch", operator, version, domain.EventKillSwitchCleared,
		func(s *domain.SystemState) error { return s.ClearKillSwitch() })
}

// SetMode switches DEMO/LIVE. The engine halts and re-runs startup sync.
func (c *ControlService) SetMode(ctx context.Context, operator string, mode domain.Mode, version int64) (*domain.SystemState, error) {
	return c.transition(ctx, "set mode "+string(mode), operator, version, domain.EventModeChanged,
		func(s *domain.SystemState) error { return s.SetMode(mode) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Signals & orders
// ──────────────────────────────────────────────────────────────────────────────

// EnqueueSignal appends a certified signal to SIGNAL_OUTBOX. Structurally
// invalid signals are refused here; risk checks happen when it is consumed.
func (c *ControlService) EnqueueSignal(ctx context.Context, sig domain.Signal, operator string) (*domain.OutboxRecord, error) {
	if msg := sig.StructuralError(); msg != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedSignal, msg)
	}
	rec, err := domain.NewOutboxRecord(sig, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("control_service.EnqueueSignal: %w", err)
	}
	if err = c.stores.Outbox.Enqueue(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateSignal) {
			return nil, err
		}
		return nil, fmt.Errorf("control_service.EnqueueSignal: %w", err)
	}

	err = c.engine.locked(ctx, "enqueue signal", func(t *txn) error {
		return c.engine.audit(ctx, t, domain.EventSignalEnqueued, "signal %s enqueued by %s", sig, operator)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AuditOperatorChange records an operator-account change made by operator.
func (c *ControlService) AuditOperatorChange(ctx context.Context, operator, format string, args ...any) error {
	return c.engine.locked(ctx, "audit operator change", func(t *txn) error {
		return c.engine.audit(ctx, t, domain.EventOperatorChanged, "%s by %s", fmt.Sprintf(format, args...), operator)
	})
}

// CancelOrder cancels a resting order at its venue.
func (c *ControlService) CancelOrder(ctx context.Context, orderID uuid.UUID, operator string) (*domain.Order, error) {
	return c.engine.CancelOrder(ctx, orderID, operator)
}

// ──────────────────────────────────────────────────────────────────────────────
// Read models
// ──────────────────────────────────────────────────────────────────────────────

// ListPositions returns positions newest first; status "" means all.
func (c *ControlService) ListPositions(ctx context.Context, status domain.PositionStatus, limit, offset int) ([]*domain.Position, int, error) {
	return c.stores.Positions.List(ctx, status, limit, offset)
}

// ListOrders returns orders newest first; status "" means all.
func (c *ControlService) ListOrders(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, int, error) {
	return c.stores.Orders.List(ctx, status, limit, offset)
}

// ListAudit returns audit entries newest first; eventType "" means all.
func (c *ControlService) ListAudit(ctx context.Context, eventType domain.EventType, limit, offset int) ([]*domain.AuditEntry, int, error) {
	return c.stores.Audit.List(ctx, eventType, limit, offset)
}

// Report aggregates every closed position.
func (c *ControlService) Report(ctx context.Context) (domain.TradeReport, error) {
	closed, err := c.stores.Positions.ListClosed(ctx)
	if err != nil {
		return domain.TradeReport{}, fmt.Errorf("control_service.Report: %w", err)
	}
	return domain.BuildTradeReport(closed), nil
}
