// Package main is the entry point for the execution engine. It wires the
// store, venues, price feed and risk engine together and serves health,
// status and the operator event stream.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/glebarez/go-sqlite" // sqlite driver
	_ "github.com/lib/pq"             // postgres driver
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/api"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/scheduler"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting execution engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database + migrations ──────────────────────────────────────────────
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if err = repository.Migrate(ctx, db); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Venues ─────────────────────────────────────────────────────────────
	wallet := service.NewVirtualWallet(repository.NewWalletRepository(db), logger)
	if err = wallet.Init(ctx, decimal.NewFromFloat(cfg.Wallet.StartBalance)); err != nil {
		logger.Error("virtual wallet init failed", "err", err)
		os.Exit(1)
	}

	venues := exchange.Venues{Demo: wallet}
	if cfg.Exchange.HasCredentials() {
		live := exchange.NewBinanceClient(cfg.Exchange, cfg.Symbols)
		defer live.Close()
		venues.Live = live
		logger.Info("live venue configured", "testnet", cfg.Exchange.Testnet)
	} else {
		logger.Warn("no exchange credentials, LIVE mode will fail sync")
	}

	// ── 5. Services ───────────────────────────────────────────────────────────
	priceSvc := service.NewPriceService(cfg)
	engine := service.NewExecutionService(db, service.NewStores(db), venues, priceSvc, cfg, logger)
	wallet.SetFillListener(engine.ApplyVenueFill)

	authSvc := service.NewAuthService(repository.NewOperatorRepository(db), cfg)
	control := service.NewControlService(engine, logger)

	// ── 6. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(authSvc, cfg.Server.WSAllowedOrigins, logger)
	engine.SetBroadcaster(hub)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(engine, wallet, priceSvc, hub, cfg, logger)
	if err = sched.Startup(ctx); err != nil {
		logger.Error("engine startup failed", "err", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:  authSvc,
		Control:  control,
		PriceSvc: priceSvc,
		Hub:      hub,
		Cfg:      cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 9. Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("engine stopped cleanly")
}
