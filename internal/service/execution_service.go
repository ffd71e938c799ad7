package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
)

// settleTimeout bounds applying a venue answer after the caller has gone away.
const settleTimeout = 10 * time.Second

// ──────────────────────────────────────────────────────────────────────────────
// ExecutionService
// ──────────────────────────────────────────────────────────────────────────────

// ExecutionService turns certified signals into venue orders.
//
// Guard evaluation and every mutation of system_state, risk_state, orders and
// positions happen in one critical section: the in-process mutex plus a
// transaction that locks the singleton rows. The critical section is never
// held across a venue call. A PENDING order is committed first, the venue is
// called, and the answer is applied in a second short transaction.
type ExecutionService struct {
	db     *sqlx.DB
	stores Stores
	venues exchange.Venues
	guard  *RiskGuard
	prices PriceReader
	cfg    *config.Config
	window domain.DailyWindow
	logger *slog.Logger

	broadcaster Broadcaster // injected after WS Hub is built
	clock       func() time.Time

	mu       sync.Mutex
	lastSync atomic.Pointer[SyncResult]
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(
	db *sqlx.DB,
	stores Stores,
	venues exchange.Venues,
	prices PriceReader,
	cfg *config.Config,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		db:     db,
		stores: stores,
		venues: venues,
		guard:  NewRiskGuard(cfg.AllowedSymbols(), decimal.NewFromFloat(cfg.Risk.WorstCaseMove)),
		prices: prices,
		cfg:    cfg,
		window: domain.DailyWindow{
			Policy:   domain.DailyResetPolicy(cfg.Risk.DailyReset),
			Location: cfg.ResetLocation(),
		},
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *ExecutionService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetClock replaces the time source used for orders, positions and the
// daily window.
func (s *ExecutionService) SetClock(fn func() time.Time) { s.clock = fn }

// ──────────────────────────────────────────────────────────────────────────────
// Critical section
// ──────────────────────────────────────────────────────────────────────────────

// txn is one transaction of the critical section. Audit entries, state
// changes and results are collected and published after commit.
type txn struct {
	*sqlx.Tx
	audits  []*domain.AuditEntry
	state   *domain.SystemState
	results []*domain.ExecutionResult
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

// locked runs fn under the mutex in a single transaction.
func (s *ExecutionService) locked(ctx context.Context, op string, fn func(t *txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, op, fn)
}

// inTx runs fn in a transaction. The caller must hold mu.
func (s *ExecutionService) inTx(ctx context.Context, op string, fn func(t *txn) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr(op+": begin tx", err)
	}
	t := &txn{Tx: tx}
	if err = fn(t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return persistErr(op+": commit", err)
	}
	s.publish(t)
	return nil
}

func (s *ExecutionService) publish(t *txn) {
	if s.broadcaster == nil {
		return
	}
	for _, e := range t.audits {
		s.broadcaster.BroadcastAudit(e)
	}
	if t.state != nil {
		s.broadcaster.BroadcastState(t.state)
	}
	for _, r := range t.results {
		s.broadcaster.BroadcastExecution(r)
	}
}

// audit appends an entry inside t.
func (s *ExecutionService) audit(ctx context.Context, t *txn, evt domain.EventType, format string, args ...any) error {
	e := domain.NewAuditEntry(evt, format, args...)
	if err := s.stores.Audit.Append(ctx, t.Tx, e); err != nil {
		return persistErr("audit "+string(evt), err)
	}
	t.audits = append(t.audits, e)
	s.logger.Info("audit", "event", evt, "message", e.Message)
	return nil
}

// trip engages the kill switch inside t.
func (s *ExecutionService) trip(ctx context.Context, t *txn, evt domain.EventType, reason string) error {
	state, err := s.stores.State.GetForUpdate(ctx, t.Tx)
	if err != nil {
		return persistErr("lock system state", err)
	}
	state.TripKillSwitch()
	if err = s.stores.State.Update(ctx, t.Tx, state); err != nil {
		return persistErr("trip kill switch", err)
	}
	t.state = state
	return s.audit(ctx, t, evt, "kill switch engaged, status HALTED: %s", reason)
}

// escalate trips the kill switch for systemic failures and passes err on.
func (s *ExecutionService) escalate(ctx context.Context, op string, err error) error {
	if err == nil || !domain.IsSystemic(err) || ctx.Err() != nil {
		return err
	}
	s.logger.Error("systemic failure, halting engine", "op", op, "err", err)
	s.failSystemic(ctx, fmt.Sprintf("%s: %v", op, err))
	return err
}

// failSystemic halts the engine on a best-effort basis. When the store is
// the failing part this cannot be persisted; the error is logged and the
// fail-closed reads keep the engine from trading.
func (s *ExecutionService) failSystemic(ctx context.Context, reason string) {
	err := s.locked(ctx, "fail systemic", func(t *txn) error {
		return s.trip(ctx, t, domain.EventSystemicFailure, reason)
	})
	if err != nil {
		s.logger.Error("could not persist kill switch after systemic failure", "reason", reason, "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Init
// ──────────────────────────────────────────────────────────────────────────────

// Init writes the configured risk limits, rolls the daily window and honours
// the KILL_SWITCH override. Called once before the loops start.
func (s *ExecutionService) Init(ctx context.Context) error {
	maxDaily := decimal.NewFromFloat(s.cfg.Risk.MaxDailyLoss)
	maxDD := decimal.NewFromFloat(s.cfg.Risk.MaxDrawdown)

	err := s.locked(ctx, "init", func(t *txn) error {
		changed, err := s.stores.Risk.ApplyLimits(ctx, t.Tx, maxDaily, maxDD)
		if err != nil {
			return persistErr("apply risk limits", err)
		}
		if changed {
			if err = s.audit(ctx, t, domain.EventRiskLimitsSet,
				"risk limits set: max_daily_loss=%s max_drawdown=%s",
				maxDaily.StringFixed(2), maxDD.StringFixed(2)); err != nil {
				return err
			}
		}

		risk, err := s.stores.Risk.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock risk state", err)
		}
		if err = s.rollDailyWindow(ctx, t, risk); err != nil {
			return err
		}

		if s.cfg.Engine.ForceKillSwitch {
			state, err := s.stores.State.Get(ctx, t.Tx)
			if err != nil {
				return persistErr("read system state", err)
			}
			if !state.KillSwitch {
				return s.trip(ctx, t, domain.EventKillSwitchEngaged, "KILL_SWITCH is set in the environment")
			}
		}
		return nil
	})
	return s.escalate(ctx, "init", err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Process
// ──────────────────────────────────────────────────────────────────────────────

// Process executes one certified signal.
//
// A signal id that was already processed returns the stored result and a nil
// error. A refused signal returns its result together with an error wrapping
// ErrSystemHalted, ErrRiskRejected, ErrMalformedSignal or ErrAdapterFatal
// (see domain.IsRejection). Any other error is a failure of the engine
// itself; systemic ones have already halted it.
func (s *ExecutionService) Process(ctx context.Context, sig domain.Signal) (*domain.ExecutionResult, error) {
	if strings.TrimSpace(sig.ID) == "" {
		return nil, fmt.Errorf("%w: signal id is empty", domain.ErrMalformedSignal)
	}

	res, order, mode, err := s.admit(ctx, sig)
	if err != nil || order == nil {
		return res, s.escalate(ctx, "admit "+sig.ID, err)
	}

	fill, dispatchErr := s.dispatch(ctx, mode, order)

	// The venue has answered; its answer is applied even during shutdown.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	res, err = s.settle(sctx, order, fill, dispatchErr)
	return res, s.escalate(sctx, "settle "+sig.ID, err)
}

// admit runs the locked checks and, when the signal is allowed, commits its
// PENDING order. order is nil when nothing must be dispatched.
func (s *ExecutionService) admit(ctx context.Context, sig domain.Signal) (
	res *domain.ExecutionResult, order *domain.Order, mode domain.Mode, rejectErr error,
) {
	err := s.locked(ctx, "admit", func(t *txn) error {
		// ── 1. Already executed? ─────────────────────────────────────────────
		prev, err := s.stores.Executions.Get(ctx, t.Tx, sig.ID)
		if err == nil {
			res = prev
			return nil
		}
		if !errors.Is(err, domain.ErrExecutionNotFound) {
			return persistErr("load execution", err)
		}

		// ── 2. State gate ────────────────────────────────────────────────────
		state, err := s.stores.State.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock system state", err)
		}
		ok, reason := state.Admits(sig.Kind, s.cfg.Engine.PausedAllowClose)
		if ok && s.cfg.Engine.ForceKillSwitch {
			ok, reason = false, "kill switch is forced by the environment"
		}
		if !ok {
			if res, err = s.record(ctx, t, sig.ID, domain.ExecRejectedHalted, reason, nil); err != nil {
				return err
			}
			rejectErr = fmt.Errorf("%w: %s", domain.ErrSystemHalted, reason)
			return s.audit(ctx, t, domain.EventSignalRejectedHalted, "signal %s rejected: %s", sig, reason)
		}
		mode = state.Mode

		// ── 3. Risk counters, daily window first ─────────────────────────────
		risk, err := s.stores.Risk.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock risk state", err)
		}
		if err = s.rollDailyWindow(ctx, t, risk); err != nil {
			return err
		}

		// ── 4. Exposure ──────────────────────────────────────────────────────
		var exp Exposure
		open, err := s.stores.Positions.GetOpenBySymbol(ctx, t.Tx, sig.Symbol)
		switch {
		case err == nil:
			exp.OpenPosition = open
		case !errors.Is(err, domain.ErrPositionNotFound):
			return persistErr("load open position", err)
		}
		if exp.PendingOrders, err = s.stores.Orders.ListPendingBySymbol(ctx, t.Tx, sig.Symbol); err != nil {
			return persistErr("load pending orders", err)
		}
		if p, ok := s.prices.ReferencePrice(sig.Symbol); ok {
			exp.ReferencePrice = &p
		}

		// ── 5. Guard ─────────────────────────────────────────────────────────
		v := s.guard.Evaluate(risk, sig, exp)
		switch v.Decision {
		case domain.DecisionTrip:
			if res, err = s.record(ctx, t, sig.ID, domain.ExecRejectedRisk, v.Reason, nil); err != nil {
				return err
			}
			rejectErr = fmt.Errorf("%w: %s", domain.ErrRiskRejected, v.Reason)
			return s.trip(ctx, t, domain.EventKillSwitchTripped, fmt.Sprintf("signal %s: %s", sig.ID, v.Reason))

		case domain.DecisionReject:
			evt, kind := domain.EventSignalRejectedRisk, domain.ErrRiskRejected
			if v.Malformed {
				evt, kind = domain.EventSignalMalformed, domain.ErrMalformedSignal
			}
			if res, err = s.record(ctx, t, sig.ID, domain.ExecRejectedRisk, v.Reason, nil); err != nil {
				return err
			}
			rejectErr = fmt.Errorf("%w: %s", kind, v.Reason)
			return s.audit(ctx, t, evt, "signal %s rejected: %s", sig, v.Reason)
		}

		// ── 6. Reserve intent: PENDING order ─────────────────────────────────
		o := domain.NewOrder(sig, s.clock())
		if exp.OpenPosition != nil && sig.Kind == domain.KindClose {
			o.PositionID = &exp.OpenPosition.ID
		}
		if err = s.stores.Orders.Create(ctx, t.Tx, o); err != nil {
			if errors.Is(err, domain.ErrDuplicateSignal) {
				return fmt.Errorf("execution_service.admit: %w", err)
			}
			return persistErr("create order", err)
		}
		if res, err = s.record(ctx, t, sig.ID, domain.ExecPending, "", &o.ID); err != nil {
			return err
		}
		order = o
		return s.audit(ctx, t, domain.EventOrderCreated,
			"order %s created for signal %s (implied loss %s)", o.ID, sig, v.ImpliedLoss.StringFixed(2))
	})
	if err != nil {
		return nil, nil, "", err
	}
	return res, order, mode, rejectErr
}

// dispatch sends the order to the venue of mode, retrying transient errors.
func (s *ExecutionService) dispatch(ctx context.Context, mode domain.Mode, o *domain.Order) (*exchange.Fill, error) {
	venue, err := s.venues.For(mode)
	if err != nil {
		return nil, err
	}
	req := exchange.NewOrderRequest(o)

	lookup, _ := venue.(exchange.ClientOrderLookup)

	var (
		fill    *exchange.Fill
		attempt int
	)
	err = retryTransient(ctx, s.logger, "place order "+o.ID.String(),
		s.cfg.Engine.MaxRetries+1, s.cfg.Engine.RetryBaseDelay, s.cfg.Engine.RetryMaxDelay,
		func(ctx context.Context) error {
			attempt++
			// A failed attempt may still have reached the venue.
			if attempt > 1 && lookup != nil {
				f, err := lookup.LookupClientOrder(ctx, req.Symbol, req.ClientID)
				if err != nil {
					return err
				}
				if f != nil {
					s.logger.Info("order found at venue after failed attempt",
						"order_id", o.ID, "ref", f.OrderRef, "status", f.Status)
					fill = f
					return nil
				}
			}
			f, err := venue.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			fill = f
			return nil
		})
	return fill, err
}

// settle applies the venue's answer to the PENDING order.
func (s *ExecutionService) settle(
	ctx context.Context, o *domain.Order, fill *exchange.Fill, dispatchErr error,
) (res *domain.ExecutionResult, outErr error) {
	err := s.locked(ctx, "settle", func(t *txn) error {
		cur, err := s.stores.Orders.GetByID(ctx, t.Tx, o.ID)
		if err != nil {
			return persistErr("reload order", err)
		}
		if cur.Status.IsTerminal() {
			// A fill notification got here first.
			if res, err = s.stores.Executions.Get(ctx, t.Tx, cur.SignalID); err != nil {
				return persistErr("load execution", err)
			}
			return nil
		}

		switch {
		case dispatchErr != nil:
			outErr = dispatchErr
			res, err = s.rejectOrder(ctx, t, cur, dispatchErr.Error())
			return err

		case fill.Status == exchange.FillRejected:
			outErr = fmt.Errorf("%w: %s", domain.ErrAdapterFatal, fill.Reason)
			res, err = s.rejectOrder(ctx, t, cur, fill.Reason)
			return err

		case fill.Status == exchange.FillPending:
			if fill.OrderRef != "" && cur.Ref() == "" {
				cur.OrderRef = &fill.OrderRef
				cur.UpdatedAt = s.clock()
				if err = s.stores.Orders.Update(ctx, t.Tx, cur); err != nil {
					return persistErr("store order ref", err)
				}
			}
			if res, err = s.stores.Executions.Get(ctx, t.Tx, cur.SignalID); err != nil {
				return persistErr("load execution", err)
			}
			return s.audit(ctx, t, domain.EventOrderResting, "order %s resting at venue, ref %s", cur.ID, fill.OrderRef)

		default:
			res, err = s.applyFill(ctx, t, cur, fill.FillPrice, fill.OrderRef)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return res, outErr
}

// ──────────────────────────────────────────────────────────────────────────────
// Fill application
// ──────────────────────────────────────────────────────────────────────────────

// ApplyVenueFill applies a fill that arrives after PlaceOrder returned, such
// as a resting limit order crossing. Fills for orders that are already final
// are ignored.
func (s *ExecutionService) ApplyVenueFill(ctx context.Context, fill *exchange.Fill) error {
	err := s.locked(ctx, "apply venue fill", func(t *txn) error {
		o, err := s.orderForFill(ctx, t, fill)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return nil
		}
		switch fill.Status {
		case exchange.FillFilled:
			_, err = s.applyFill(ctx, t, o, fill.FillPrice, fill.OrderRef)
		case exchange.FillRejected:
			_, err = s.rejectOrder(ctx, t, o, fill.Reason)
		}
		return err
	})
	return s.escalate(ctx, "apply fill "+fill.OrderRef, err)
}

func (s *ExecutionService) orderForFill(ctx context.Context, t *txn, fill *exchange.Fill) (*domain.Order, error) {
	if id, err := uuid.Parse(fill.ClientID); err == nil {
		o, err := s.stores.Orders.GetByID(ctx, t.Tx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, persistErr("load order", err)
		}
	}
	o, err := s.stores.Orders.GetByRef(ctx, t.Tx, fill.OrderRef)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, fmt.Errorf("execution_service.ApplyVenueFill: ref %s: %w", fill.OrderRef, err)
	}
	if err != nil {
		return nil, persistErr("load order", err)
	}
	return o, nil
}

// applyFill moves o to FILLED and opens or closes its position. Closing
// books the realized P&L; if the drawdown limit is breached the kill switch
// trips in the same transaction.
func (s *ExecutionService) applyFill(
	ctx context.Context, t *txn, o *domain.Order, price decimal.Decimal, ref string,
) (*domain.ExecutionResult, error) {
	now := s.clock()
	if err := o.MarkFilled(price, ref, now); err != nil {
		return nil, err
	}

	switch o.Intent {
	case domain.KindOpen:
		pos := domain.NewPosition(o, price, now)
		if err := s.stores.Positions.Create(ctx, t.Tx, pos); err != nil {
			return nil, persistErr("create position", err)
		}
		o.PositionID = &pos.ID
		if err := s.audit(ctx, t, domain.EventPositionOpened, "position %s opened: %s %s %s @ %s",
			pos.ID, pos.Side, pos.Size, pos.Symbol, price); err != nil {
			return nil, err
		}

	case domain.KindClose:
		pos, err := s.stores.Positions.GetOpenBySymbol(ctx, t.Tx, o.Symbol)
		if err != nil {
			return nil, persistErr("load position to close", err)
		}
		pnl, err := pos.Close(price, o.ID, now)
		if err != nil {
			return nil, persistErr("close position", err)
		}
		if err = s.stores.Positions.Close(ctx, t.Tx, pos); err != nil {
			return nil, persistErr("close position", err)
		}
		o.PositionID = &pos.ID
		if err = s.audit(ctx, t, domain.EventPositionClosed, "position %s closed: %s %s %s @ %s, pnl %s",
			pos.ID, pos.Side, pos.Size, pos.Symbol, price, pnl.StringFixed(2)); err != nil {
			return nil, err
		}
		if err = s.bookRealized(ctx, t, pnl); err != nil {
			return nil, err
		}
	}

	if err := s.stores.Orders.Update(ctx, t.Tx, o); err != nil {
		return nil, persistErr("fill order", err)
	}
	if err := s.audit(ctx, t, domain.EventOrderFilled, "order %s for signal %s filled @ %s, ref %s",
		o.ID, o.SignalID, price, ref); err != nil {
		return nil, err
	}
	return s.finishExecution(ctx, t, o.SignalID, domain.ExecFilled, "", &price)
}

func (s *ExecutionService) bookRealized(ctx context.Context, t *txn, pnl decimal.Decimal) error {
	risk, err := s.stores.Risk.GetForUpdate(ctx, t.Tx)
	if err != nil {
		return persistErr("lock risk state", err)
	}
	if err = s.rollDailyWindow(ctx, t, risk); err != nil {
		return err
	}
	unrealized, err := s.unrealized(ctx, t)
	if err != nil {
		return err
	}
	risk.ApplyRealized(pnl)
	risk.MarkToMarket(unrealized)
	if err = s.stores.Risk.Update(ctx, t.Tx, risk); err != nil {
		return persistErr("update risk state", err)
	}
	if err = s.audit(ctx, t, domain.EventRiskUpdated, "realized %s: %s", pnl.StringFixed(2), risk.Summary()); err != nil {
		return err
	}
	if risk.DrawdownBreached() {
		return s.trip(ctx, t, domain.EventKillSwitchTripped, "drawdown limit breached: "+risk.Summary())
	}
	return nil
}

// rejectOrder moves o to REJECTED and records the venue failure.
func (s *ExecutionService) rejectOrder(ctx context.Context, t *txn, o *domain.Order, reason string) (*domain.ExecutionResult, error) {
	if err := o.MarkRejected(reason, s.clock()); err != nil {
		return nil, err
	}
	if err := s.stores.Orders.Update(ctx, t.Tx, o); err != nil {
		return nil, persistErr("reject order", err)
	}
	if err := s.audit(ctx, t, domain.EventOrderFailed, "order %s for signal %s rejected by venue: %s",
		o.ID, o.SignalID, reason); err != nil {
		return nil, err
	}
	return s.finishExecution(ctx, t, o.SignalID, domain.ExecRejectedVenue, reason, nil)
}

// ──────────────────────────────────────────────────────────────────────────────
// Execution ledger
// ──────────────────────────────────────────────────────────────────────────────

func (s *ExecutionService) record(
	ctx context.Context, t *txn, signalID string, status domain.ExecutionStatus, reason string, orderID *uuid.UUID,
) (*domain.ExecutionResult, error) {
	res := domain.NewExecutionResult(signalID, status, reason, s.clock())
	res.OrderID = orderID
	if err := s.stores.Executions.Create(ctx, t.Tx, res); err != nil {
		if errors.Is(err, domain.ErrDuplicateSignal) {
			return nil, fmt.Errorf("execution_service.record: %w", err)
		}
		return nil, persistErr("record execution", err)
	}
	t.results = append(t.results, res)
	return res, nil
}

func (s *ExecutionService) finishExecution(
	ctx context.Context, t *txn, signalID string, status domain.ExecutionStatus, reason string, fillPrice *decimal.Decimal,
) (*domain.ExecutionResult, error) {
	res, err := s.stores.Executions.Get(ctx, t.Tx, signalID)
	if err != nil {
		return nil, persistErr("load execution", err)
	}
	res.Status = status
	res.Reason = reason
	res.FillPrice = fillPrice
	res.UpdatedAt = s.clock()
	if err = s.stores.Executions.Update(ctx, t.Tx, res); err != nil {
		return nil, persistErr("update execution", err)
	}
	t.results = append(t.results, res)
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Risk maintenance
// ──────────────────────────────────────────────────────────────────────────────

// unrealized marks every open position to its reference price. Positions
// without a price contribute nothing.
func (s *ExecutionService) unrealized(ctx context.Context, t *txn) (decimal.Decimal, error) {
	open, err := s.stores.Positions.ListOpen(ctx, t.Tx)
	if err != nil {
		return decimal.Zero, persistErr("list open positions", err)
	}
	total := decimal.Zero
	for _, p := range open {
		if mark, ok := s.prices.ReferencePrice(p.Symbol); ok {
			total = total.Add(p.UnrealizedPnL(mark))
		}
	}
	return total, nil
}

// rollDailyWindow zeroes the daily counters when the window has expired.
func (s *ExecutionService) rollDailyWindow(ctx context.Context, t *txn, risk *domain.RiskState) error {
	due, start := s.window.Due(risk.DayStartedAt, s.clock())
	if !due {
		return nil
	}
	before := risk.DailyLoss
	risk.ResetDaily(start)
	if err := s.stores.Risk.Update(ctx, t.Tx, risk); err != nil {
		return persistErr("reset daily window", err)
	}
	return s.audit(ctx, t, domain.EventRiskDailyReset,
		"daily window reset (%s), new window starts %s, previous daily loss %s",
		s.window.Policy, start.Format(time.RFC3339), before.StringFixed(2))
}

// ResetDailyIfDue rolls the daily window outside signal processing.
func (s *ExecutionService) ResetDailyIfDue(ctx context.Context) error {
	err := s.locked(ctx, "reset daily", func(t *txn) error {
		risk, err := s.stores.Risk.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock risk state", err)
		}
		return s.rollDailyWindow(ctx, t, risk)
	})
	return s.escalate(ctx, "reset daily", err)
}

// MarkToMarket recomputes unrealized P&L, equity and drawdown from the
// current reference prices. A breached drawdown trips the kill switch in the
// same transaction.
func (s *ExecutionService) MarkToMarket(ctx context.Context) error {
	err := s.locked(ctx, "mark to market", func(t *txn) error {
		risk, err := s.stores.Risk.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock risk state", err)
		}
		unrealized, err := s.unrealized(ctx, t)
		if err != nil {
			return err
		}
		if unrealized.Equal(risk.UnrealizedPnL) {
			return nil
		}
		risk.MarkToMarket(unrealized)
		if err = s.stores.Risk.Update(ctx, t.Tx, risk); err != nil {
			return persistErr("update risk state", err)
		}
		if !risk.DrawdownBreached() {
			return nil
		}
		state, err := s.stores.State.Get(ctx, t.Tx)
		if err != nil {
			return persistErr("read system state", err)
		}
		if state.KillSwitch {
			return nil
		}
		if err = s.audit(ctx, t, domain.EventRiskUpdated, "mark to market: %s", risk.Summary()); err != nil {
			return err
		}
		return s.trip(ctx, t, domain.EventKillSwitchTripped, "drawdown limit breached: "+risk.Summary())
	})
	return s.escalate(ctx, "mark to market", err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbox
// ──────────────────────────────────────────────────────────────────────────────

// RejectMalformed records a signal whose payload cannot be decoded.
func (s *ExecutionService) RejectMalformed(ctx context.Context, signalID, reason string) (*domain.ExecutionResult, error) {
	var res *domain.ExecutionResult
	err := s.locked(ctx, "reject malformed", func(t *txn) error {
		prev, err := s.stores.Executions.Get(ctx, t.Tx, signalID)
		if err == nil {
			res = prev
			return nil
		}
		if !errors.Is(err, domain.ErrExecutionNotFound) {
			return persistErr("load execution", err)
		}
		if res, err = s.record(ctx, t, signalID, domain.ExecRejectedRisk, reason, nil); err != nil {
			return err
		}
		return s.audit(ctx, t, domain.EventSignalMalformed, "signal %s rejected: %s", signalID, reason)
	})
	return res, s.escalate(ctx, "reject malformed "+signalID, err)
}

// DrainOutbox processes up to limit pending outbox signals in order and marks
// each consumed once it has a recorded outcome. It stops at the first signal
// that could not be resolved so ordering is kept; that signal is retried on
// the next call.
func (s *ExecutionService) DrainOutbox(ctx context.Context, limit int) (int, error) {
	recs, err := s.stores.Outbox.NextPending(ctx, limit)
	if err != nil {
		return 0, s.escalate(ctx, "read outbox", persistErr("read outbox", err))
	}

	done := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		sig, decodeErr := rec.Decode()
		if decodeErr != nil {
			_, err = s.RejectMalformed(ctx, rec.ID, decodeErr.Error())
		} else {
			var res *domain.ExecutionResult
			res, err = s.Process(ctx, sig)
			if res != nil {
				s.logger.Info("signal processed", "signal_id", rec.ID, "status", res.Status, "reason", res.Reason)
			}
			if domain.IsRejection(err) {
				err = nil
			}
		}

		if err != nil {
			if markErr := s.stores.Outbox.MarkAttempt(ctx, rec.ID); markErr != nil {
				s.logger.Error("outbox: mark attempt failed", "signal_id", rec.ID, "err", markErr)
			}
			return done, err
		}
		if err = s.stores.Outbox.MarkConsumed(ctx, rec.ID); err != nil {
			return done, s.escalate(ctx, "consume outbox", persistErr("consume "+rec.ID, err))
		}
		done++
	}
	return done, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resting orders
// ──────────────────────────────────────────────────────────────────────────────

// venueForRef picks the venue that issued ref.
func (s *ExecutionService) venueForRef(ref string) (exchange.Venue, error) {
	if strings.HasPrefix(ref, virtualRefPrefix) {
		return s.venues.For(domain.ModeDemo)
	}
	return s.venues.For(domain.ModeLive)
}

// CancelOrder cancels a resting PENDING order at its venue and records the
// cancellation under operator.
func (s *ExecutionService) CancelOrder(ctx context.Context, orderID uuid.UUID, operator string) (*domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, nil, orderID)
	if err != nil {
		return nil, fmt.Errorf("execution_service.CancelOrder: %w", err)
	}
	if o.Status.IsTerminal() {
		return nil, domain.ErrOrderNotPending
	}
	if o.Ref() == "" {
		return nil, fmt.Errorf("%w: order %s has no venue reference yet", domain.ErrOrderNotPending, o.ID)
	}

	venue, err := s.venueForRef(o.Ref())
	if err != nil {
		return nil, err
	}
	if err = venue.CancelOrder(ctx, o.Symbol, o.Ref()); err != nil {
		return nil, fmt.Errorf("execution_service.CancelOrder: %w", err)
	}

	err = s.locked(ctx, "cancel order", func(t *txn) error {
		cur, err := s.stores.Orders.GetByID(ctx, t.Tx, orderID)
		if err != nil {
			return persistErr("reload order", err)
		}
		if cur.Status.IsTerminal() {
			o = cur
			return nil
		}
		reason := "cancelled by " + operator
		if err = cur.MarkCancelled(reason, s.clock()); err != nil {
			return err
		}
		if err = s.stores.Orders.Update(ctx, t.Tx, cur); err != nil {
			return persistErr("cancel order", err)
		}
		if _, err = s.finishExecution(ctx, t, cur.SignalID, domain.ExecCancelled, reason, nil); err != nil {
			return err
		}
		o = cur
		return s.audit(ctx, t, domain.EventOrderCancelled, "order %s for signal %s %s", cur.ID, cur.SignalID, reason)
	})
	if err != nil {
		return nil, s.escalate(ctx, "cancel order", err)
	}
	return o, nil
}

// PollPendingOrders asks the LIVE venue about every resting order it issued
// and applies the ones that reached a final state.
func (s *ExecutionService) PollPendingOrders(ctx context.Context) error {
	live, err := s.venues.For(domain.ModeLive)
	if err != nil {
		return nil // no LIVE venue configured
	}
	querier, ok := live.(exchange.StatusQuerier)
	if !ok {
		return nil
	}

	pending, err := s.stores.Orders.ListPending(ctx, nil)
	if err != nil {
		return s.escalate(ctx, "list pending", persistErr("list pending orders", err))
	}

	var errs []error
	for _, o := range pending {
		ref := o.Ref()
		if ref == "" || strings.HasPrefix(ref, virtualRefPrefix) {
			continue
		}
		fill, err := querier.OrderStatus(ctx, o.Symbol, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", o.ID, s.escalate(ctx, "poll order", err)))
			continue
		}
		if fill.Status == exchange.FillPending {
			continue
		}
		if fill.ClientID == "" {
			fill.ClientID = o.ID.String()
		}
		if err = s.ApplyVenueFill(ctx, fill); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
