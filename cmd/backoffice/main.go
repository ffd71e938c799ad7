// Package main is the entry point for the back-office control plane.
// Runs on BACKOFFICE_PORT and exposes operator endpoints protected by RBAC.
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

	"github.com/geniusbot/executor/internal/backoffice"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	if err = repository.Migrate(ctx, db); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected", "driver", cfg.DB.Driver)

	// ── Services ──────────────────────────────────────────────────────────────
	// Transitions and cancels run through an engine of their own; the state
	// row lock serialises them against the engine process.
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
	}
	engine := service.NewExecutionService(db, service.NewStores(db), venues, wallet, cfg, logger)
	if err = engine.Init(ctx); err != nil {
		logger.Error("engine state load failed", "err", err)
		os.Exit(1)
	}
	control := service.NewControlService(engine, logger)

	operators := repository.NewOperatorRepository(db)
	authSvc := service.NewAuthService(operators, cfg)

	created, err := authSvc.EnsureAdmin(ctx, cfg.Backoffice.AdminUsername, cfg.Backoffice.AdminPassword)
	if err != nil {
		logger.Error("admin bootstrap failed", "err", err)
		os.Exit(1)
	}
	if created {
		logger.Info("bootstrap admin created", "username", cfg.Backoffice.AdminUsername)
	}

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:   authSvc,
		Control:   control,
		Operators: operators,
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
