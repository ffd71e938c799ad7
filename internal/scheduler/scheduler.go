// Package scheduler runs the engine's background goroutines:
//  1. signalLoop      – drains SIGNAL_OUTBOX every poll interval.
//  2. priceLoop       – refreshes reference prices, fills resting DEMO orders
//     and marks open positions to market.
//  3. maintenanceLoop – daily risk reset, mode watch with re-sync, LIVE order
//     status polling.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators
// ──────────────────────────────────────────────────────────────────────────────

// PriceFeed supplies weighted reference prices. Implemented by
// service.PriceService.
type PriceFeed interface {
	Symbols() []string
	GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error)
}

// PricePublisher is the part of the WS hub the price loop needs. Declared
// here so the scheduler does not depend on the hub implementation.
type PricePublisher interface {
	BroadcastPriceUpdate(msg ws.PriceUpdateMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler drives the execution engine. Call Startup once, then Start;
// cancel the context to shut it down.
type Scheduler struct {
	engine *service.ExecutionService
	wallet *service.VirtualWallet
	prices PriceFeed
	hub    PricePublisher
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	// owned by maintenanceLoop
	syncFailures int
	nextSync     time.Time
}

// NewScheduler creates a Scheduler. hub may be nil.
func NewScheduler(
	engine *service.ExecutionService,
	wallet *service.VirtualWallet,
	prices PriceFeed,
	hub PricePublisher,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		engine: engine,
		wallet: wallet,
		prices: prices,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Startup loads the engine state and runs startup sync with retries. A
// failed sync is not an error: the engine stays HALTED and the maintenance
// loop keeps retrying with backoff.
func (s *Scheduler) Startup(ctx context.Context) error {
	if err := s.engine.Init(ctx); err != nil {
		return err
	}
	res, err := s.engine.SyncWithRetry(ctx, s.cfg.Engine.MaxRetries+1,
		s.cfg.Engine.RetryBaseDelay, s.cfg.Engine.RetryMaxDelay)
	if res != nil && res.OK {
		s.logger.Info("startup sync ok", "mode", res.Mode,
			"open_positions", res.OpenPositions, "pending_orders", res.PendingOrders)
		return nil
	}
	s.logger.Error("startup sync failed, engine stays HALTED", "err", err)
	s.syncFailures = 1
	s.nextSync = s.now().Add(s.resyncDelay())
	return nil
}

// Start launches the background goroutines. It returns immediately; all
// loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.signalLoop(ctx)
	go s.priceLoop(ctx)
	go s.maintenanceLoop(ctx)
	s.logger.Info("scheduler started",
		"poll", s.cfg.Engine.PollInterval,
		"price_refresh", s.cfg.Price.RefreshInterval,
		"maintenance", s.cfg.Engine.MaintenanceInterval)
}

// ──────────────────────────────────────────────────────────────────────────────
// signalLoop
// ──────────────────────────────────────────────────────────────────────────────

// signalLoop drains the outbox on every tick.
func (s *Scheduler) signalLoop(ctx context.Context) {
	defer s.recoverAndLog("signalLoop")

	ticker := time.NewTicker(s.cfg.Engine.PollInterval)
	defer ticker.Stop()

	for {
		s.drainSignals(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("signalLoop: shutting down")
			return
		case <-ticker.C:
		}
	}
}

// drainSignals processes full batches until the outbox is empty or a signal
// could not be resolved.
func (s *Scheduler) drainSignals(ctx context.Context) {
	batch := s.cfg.Engine.BatchSize
	if batch <= 0 {
		batch = 50
	}
	for ctx.Err() == nil {
		n, err := s.engine.DrainOutbox(ctx, batch)
		if err != nil {
			s.logger.Error("signalLoop: DrainOutbox", "processed", n, "err", err)
			return
		}
		if n < batch {
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// priceLoop
// ──────────────────────────────────────────────────────────────────────────────

// priceLoop refreshes reference prices on every tick.
func (s *Scheduler) priceLoop(ctx context.Context) {
	defer s.recoverAndLog("priceLoop")

	ticker := time.NewTicker(s.cfg.Price.RefreshInterval)
	defer ticker.Stop()

	for {
		s.refreshPrices(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("priceLoop: shutting down")
			return
		case <-ticker.C:
		}
	}
}

// refreshPrices fetches every symbol, feeds the wallet, publishes the price
// and finally marks the book to market once.
func (s *Scheduler) refreshPrices(ctx context.Context) {
	fresh := 0
	for _, symbol := range s.prices.Symbols() {
		price, sources, err := s.prices.GetWeightedPrice(ctx, symbol)
		if err != nil {
			s.logger.Warn("priceLoop: price fetch failed", "symbol", symbol, "err", err)
			continue
		}
		fresh++

		if s.wallet != nil {
			if err = s.wallet.OnPrice(ctx, symbol, price); err != nil {
				s.logger.Error("priceLoop: wallet fill failed", "symbol", symbol, "err", err)
			}
		}
		if s.hub != nil {
			s.hub.BroadcastPriceUpdate(ws.PriceUpdateMessage{
				Type:      ws.MsgTypePriceUpdate,
				Symbol:    symbol,
				Price:     price,
				Sources:   sources,
				Timestamp: s.now().UTC(),
			})
		}
	}
	if fresh == 0 {
		return
	}
	if err := s.engine.MarkToMarket(ctx); err != nil {
		s.logger.Error("priceLoop: MarkToMarket", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// maintenanceLoop
// ──────────────────────────────────────────────────────────────────────────────

// maintenanceLoop runs the periodic housekeeping on every tick.
func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.recoverAndLog("maintenanceLoop")

	ticker := time.NewTicker(s.cfg.Engine.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenanceLoop: shutting down")
			return
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

// maintain is the body of one maintenance tick.
func (s *Scheduler) maintain(ctx context.Context) {
	if err := s.engine.ResetDailyIfDue(ctx); err != nil {
		s.logger.Error("maintenance: daily reset", "err", err)
	}

	needsSync, err := s.engine.CheckModeChange(ctx)
	if err != nil {
		s.logger.Error("maintenance: mode watch", "err", err)
	} else if needsSync {
		s.resync(ctx)
	}

	if err = s.engine.PollPendingOrders(ctx); err != nil {
		s.logger.Warn("maintenance: poll pending orders", "err", err)
	}
}

// resync runs one sync attempt once the backoff since the last failure has
// elapsed.
func (s *Scheduler) resync(ctx context.Context) {
	if s.now().Before(s.nextSync) {
		return
	}
	res, err := s.engine.Sync(ctx)
	switch {
	case err != nil:
		s.logger.Error("maintenance: sync", "err", err)
	case res.OK:
		s.logger.Info("maintenance: re-sync ok", "mode", res.Mode, "after_failures", s.syncFailures)
		s.syncFailures = 0
		s.nextSync = time.Time{}
		return
	default:
		s.logger.Warn("maintenance: re-sync failed", "mode", res.Mode, "discrepancies", res.Discrepancies)
	}
	s.syncFailures++
	s.nextSync = s.now().Add(s.resyncDelay())
}

func (s *Scheduler) resyncDelay() time.Duration {
	base := s.cfg.Engine.MaintenanceInterval
	return service.Backoff(s.syncFailures-1, base, 16*base)
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics
// and log them.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
