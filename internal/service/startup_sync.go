package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
)

// SyncResult is the outcome of one startup sync.
type SyncResult struct {
	Mode          domain.Mode `json:"mode"`
	OK            bool        `json:"ok"`
	OpenPositions int         `json:"open_positions"`
	PendingOrders int         `json:"pending_orders"`
	Discrepancies []string    `json:"discrepancies"`
	At            time.Time   `json:"at"`
}

func (r *SyncResult) fail(format string, args ...any) {
	r.Discrepancies = append(r.Discrepancies, fmt.Sprintf(format, args...))
}

// LastSync returns the most recent sync outcome, or nil before the first.
func (s *ExecutionService) LastSync() *SyncResult {
	return s.lastSync.Load()
}

// Sync reconciles the persisted book with the authoritative source for the
// current mode and sets startup_sync_ok accordingly. It holds the engine lock
// for its whole duration, so no signal is evaluated while it runs.
//
// A failed reconciliation is not an error: the result lists the
// discrepancies and the engine stays HALTED. Errors are persistence failures.
func (s *ExecutionService) Sync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sync(ctx)
	if err != nil {
		return nil, err
	}
	s.lastSync.Store(res)
	return res, nil
}

func (s *ExecutionService) sync(ctx context.Context) (*SyncResult, error) {
	state, err := s.stores.State.Get(ctx, nil)
	if err != nil {
		return nil, persistErr("read system state", err)
	}
	res := &SyncResult{Mode: state.Mode, At: s.clock()}

	// ── 1. Persisted book ────────────────────────────────────────────────────
	open, err := s.stores.Positions.ListOpen(ctx, nil)
	if err != nil {
		return nil, persistErr("list open positions", err)
	}
	closed, err := s.stores.Positions.ListClosed(ctx)
	if err != nil {
		return nil, persistErr("list closed positions", err)
	}
	pending, err := s.stores.Orders.ListPending(ctx, nil)
	if err != nil {
		return nil, persistErr("list pending orders", err)
	}
	res.OpenPositions = len(open)
	res.PendingOrders = len(pending)

	// ── 2. Row integrity ─────────────────────────────────────────────────────
	seen := make(map[string]bool, len(open))
	for _, p := range append(append([]*domain.Position{}, open...), closed...) {
		if msg := p.IntegrityError(); msg != "" {
			res.fail("position %s: %s", p.ID, msg)
		}
	}
	for _, p := range open {
		if seen[p.Symbol] {
			res.fail("more than one OPEN position on %s", p.Symbol)
		}
		seen[p.Symbol] = true
	}
	for _, o := range pending {
		if msg := pendingOrderError(o); msg != "" {
			res.fail("order %s: %s", o.ID, msg)
		}
	}

	// ── 3. Authoritative source ──────────────────────────────────────────────
	var connectAudit *domain.AuditEntry
	switch state.Mode {
	case domain.ModeLive:
		connectAudit = s.reconcileLive(ctx, res, open, pending)
	default:
		s.reconcileDemo(ctx, res, open, pending)
	}
	res.OK = len(res.Discrepancies) == 0

	// ── 4. Persist the outcome ───────────────────────────────────────────────
	err = s.inTx(ctx, "sync", func(t *txn) error {
		cur, err := s.stores.State.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock system state", err)
		}
		if cur.Mode != res.Mode {
			res.fail("mode changed to %s during sync", cur.Mode)
			res.OK = false
		}
		if res.OK {
			cur.MarkSynced()
		} else {
			cur.MarkSyncFailed()
		}
		if err = s.stores.State.Update(ctx, t.Tx, cur); err != nil {
			return persistErr("store sync result", err)
		}
		t.state = cur

		if connectAudit != nil {
			if err = s.stores.Audit.Append(ctx, t.Tx, connectAudit); err != nil {
				return persistErr("audit exchange connect", err)
			}
			t.audits = append(t.audits, connectAudit)
		}
		if res.OK {
			return s.audit(ctx, t, domain.EventStartupSyncOK,
				"startup sync ok: mode=%s open_positions=%d pending_orders=%d",
				res.Mode, res.OpenPositions, res.PendingOrders)
		}
		return s.audit(ctx, t, domain.EventStartupSyncFail,
			"startup sync failed: mode=%s, %d discrepancies: %s",
			res.Mode, len(res.Discrepancies), strings.Join(res.Discrepancies, "; "))
	})
	if err != nil {
		return nil, err
	}

	if res.OK {
		s.logger.Info("startup sync ok", "mode", res.Mode, "positions", res.OpenPositions, "pending", res.PendingOrders)
	} else {
		s.logger.Warn("startup sync failed", "mode", res.Mode, "discrepancies", res.Discrepancies)
	}
	return res, nil
}

func pendingOrderError(o *domain.Order) string {
	switch {
	case !o.Side.IsValid():
		return fmt.Sprintf("invalid side %q", o.Side)
	case !o.Intent.IsValid():
		return fmt.Sprintf("invalid intent %q", o.Intent)
	case !o.Size.IsPositive():
		return fmt.Sprintf("non-positive size %s", o.Size)
	case o.Price != nil && !o.Price.IsPositive():
		return fmt.Sprintf("non-positive limit price %s", o.Price)
	case o.FillPrice != nil:
		return "pending order carries a fill price"
	case o.Ref() == "":
		return "pending order was never acknowledged by its venue"
	}
	return ""
}

// reconcileLive checks the exchange against the book. Every OPEN position
// must be covered by an exchange balance and every PENDING order must still
// be open there.
func (s *ExecutionService) reconcileLive(
	ctx context.Context, res *SyncResult, open []*domain.Position, pending []*domain.Order,
) *domain.AuditEntry {
	if !s.cfg.Engine.LiveConfirmation {
		res.fail("LIVE mode requires LIVE_CONFIRMATION=true")
	}
	venue, err := s.venues.For(domain.ModeLive)
	if err != nil {
		res.fail("no exchange adapter: %v", err)
		return domain.NewAuditEntry(domain.EventExchangeConnectFail, "exchange adapter unavailable: %v", err)
	}

	var connect *domain.AuditEntry
	if p, ok := venue.(exchange.Pinger); ok {
		if err = p.Ping(ctx); err != nil {
			res.fail("%s ping failed: %v", venue.Name(), err)
			return domain.NewAuditEntry(domain.EventExchangeConnectFail, "%s unreachable: %v", venue.Name(), err)
		}
		connect = domain.NewAuditEntry(domain.EventExchangeConnectOK, "%s reachable and authenticated", venue.Name())
	}

	positions, err := venue.ListOpenPositions(ctx)
	if err != nil {
		res.fail("list exchange positions: %v", err)
		return connect
	}
	orders, err := venue.ListOpenOrders(ctx)
	if err != nil {
		res.fail("list exchange orders: %v", err)
		return connect
	}

	held := make(map[string]exchange.VenuePosition, len(positions))
	for _, p := range positions {
		held[p.Symbol] = p
	}
	tolerance := decimal.NewFromFloat(s.cfg.Exchange.SyncSizeTolerance)
	for _, p := range open {
		vp, ok := held[p.Symbol]
		if !ok || vp.Side != p.Side {
			res.fail("OPEN %s %s %s not found on %s", p.Side, p.Size, p.Symbol, venue.Name())
			continue
		}
		floor := p.Size.Sub(p.Size.Mul(tolerance))
		if vp.Size.LessThan(floor) {
			res.fail("OPEN %s %s %s but %s holds only %s", p.Side, p.Size, p.Symbol, venue.Name(), vp.Size)
		}
	}

	s.matchOrders(res, venue.Name(), pending, orders, false)
	return connect
}

// reconcileDemo checks the virtual wallet against the book. The wallet is
// authoritative and exact in both directions.
func (s *ExecutionService) reconcileDemo(
	ctx context.Context, res *SyncResult, open []*domain.Position, pending []*domain.Order,
) {
	venue, err := s.venues.For(domain.ModeDemo)
	if err != nil {
		res.fail("no virtual wallet: %v", err)
		return
	}
	holdings, err := venue.ListOpenPositions(ctx)
	if err != nil {
		res.fail("list wallet holdings: %v", err)
		return
	}
	resting, err := venue.ListOpenOrders(ctx)
	if err != nil {
		res.fail("list wallet orders: %v", err)
		return
	}

	held := make(map[string]exchange.VenuePosition, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h
	}
	for _, p := range open {
		h, ok := held[p.Symbol]
		switch {
		case !ok:
			res.fail("OPEN %s %s %s has no wallet holding", p.Side, p.Size, p.Symbol)
		case h.Side != p.Side || !h.Size.Equal(p.Size):
			res.fail("OPEN %s %s %s but wallet holds %s %s", p.Side, p.Size, p.Symbol, h.Side, h.Size)
		}
		delete(held, p.Symbol)
	}
	for sym, h := range held {
		res.fail("wallet holds %s %s %s with no OPEN position", h.Side, h.Size, sym)
	}

	var demoPending []*domain.Order
	for _, o := range pending {
		if strings.HasPrefix(o.Ref(), virtualRefPrefix) || o.Ref() == "" {
			demoPending = append(demoPending, o)
		} else {
			res.fail("order %s is pending on %s, not on the virtual wallet", o.ID, o.Ref())
		}
	}
	s.matchOrders(res, venue.Name(), demoPending, resting, true)
}

// matchOrders requires every pending order to be open at the venue. With
// strict set, venue orders unknown to the book are discrepancies too.
func (s *ExecutionService) matchOrders(
	res *SyncResult, venue string, pending []*domain.Order, open []exchange.VenueOrder, strict bool,
) {
	byRef := make(map[string]bool, len(open))
	byClient := make(map[string]bool, len(open))
	for _, o := range open {
		byRef[o.Ref] = true
		if o.ClientID != "" {
			byClient[o.ClientID] = true
		}
	}
	known := make(map[string]bool, len(pending))
	for _, o := range pending {
		known[o.Ref()] = true
		if o.Ref() == "" {
			continue // already reported as unacknowledged
		}
		if !byRef[o.Ref()] && !byClient[o.ID.String()] {
			res.fail("PENDING order %s (ref %s) is not open on %s", o.ID, o.Ref(), venue)
		}
	}
	if !strict {
		return
	}
	for _, o := range open {
		if !known[o.Ref] {
			res.fail("%s has open order %s unknown to the book", venue, o.Ref)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Mode watch
// ──────────────────────────────────────────────────────────────────────────────

// CheckModeChange detects a mode switch written by an operator. If the last
// sync validated another mode the sync gate is cleared, the engine halts and
// MODE_CHANGE_DETECTED is audited. It reports whether a sync is needed.
func (s *ExecutionService) CheckModeChange(ctx context.Context) (bool, error) {
	needsSync := false
	err := s.locked(ctx, "check mode", func(t *txn) error {
		state, err := s.stores.State.GetForUpdate(ctx, t.Tx)
		if err != nil {
			return persistErr("lock system state", err)
		}
		needsSync = !state.StartupSyncOK || state.NeedsResync()
		if !state.StartupSyncOK || !state.NeedsResync() {
			return nil
		}

		from := "none"
		if state.SyncedMode != nil {
			from = string(*state.SyncedMode)
		}
		state.MarkSyncFailed()
		if err = s.stores.State.Update(ctx, t.Tx, state); err != nil {
			return persistErr("clear sync gate", err)
		}
		t.state = state
		return s.audit(ctx, t, domain.EventModeChangeSeen,
			"mode changed from %s to %s, status HALTED until startup sync succeeds", from, state.Mode)
	})
	if err != nil {
		return false, s.escalate(ctx, "check mode", err)
	}
	return needsSync, nil
}

// errSyncFailed is returned by SyncWithRetry when every attempt reported
// discrepancies.
var errSyncFailed = errors.New("startup sync failed")

// SyncWithRetry runs Sync up to attempts times with exponential backoff
// until it succeeds.
func (s *ExecutionService) SyncWithRetry(ctx context.Context, attempts int, base, maxDelay time.Duration) (*SyncResult, error) {
	if attempts < 1 {
		attempts = 1
	}
	var last *SyncResult
	for i := 0; i < attempts; i++ {
		res, err := s.Sync(ctx)
		if err != nil {
			return nil, err
		}
		if res.OK {
			return res, nil
		}
		last = res
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(Backoff(i, base, maxDelay)):
		}
	}
	return last, fmt.Errorf("%w after %d attempts: %s", errSyncFailed, attempts, strings.Join(last.Discrepancies, "; "))
}
