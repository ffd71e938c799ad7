// Package api_test runs HTTP-level smoke tests using net/http/httptest
// against a migrated SQLite store. They verify:
//   - routing and middleware wiring
//   - JWT auth (401 without token, 401 with bad token)
//   - response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/api"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/testutil"
	"github.com/geniusbot/executor/internal/ws"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "development", Port: "8080"},
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret-abcdefghijklmnop",
			RefreshSecret: "test-refresh-secret-abcdefghijklmnop",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
		},
		Engine: config.EngineConfig{MaxRetries: 1, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond},
		Risk:   config.RiskConfig{MaxDailyLoss: 1000, MaxDrawdown: 2000, WorstCaseMove: 0.1, DailyReset: "calendar"},
	}
}

type testServer struct {
	handler http.Handler
	token   string
}

func buildTestRouter(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	cfg := testCfg()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := testutil.NewDB(t)
	wallet := service.NewVirtualWallet(repository.NewWalletRepository(db), logger)
	if err := wallet.Init(ctx, decimal.NewFromInt(100000)); err != nil {
		t.Fatal(err)
	}
	engine := service.NewExecutionService(db, service.NewStores(db), exchange.Venues{Demo: wallet}, wallet, cfg, logger)
	if err := engine.Init(ctx); err != nil {
		t.Fatal(err)
	}

	auth := service.NewAuthService(repository.NewOperatorRepository(db), cfg)
	if _, err := auth.CreateOperator(ctx, service.CreateOperatorRequest{
		Username: "watcher", Password: "watcher-pass", Role: domain.RoleReadOnly,
	}); err != nil {
		t.Fatal(err)
	}
	resp, err := auth.Login(ctx, "watcher", "watcher-pass")
	if err != nil {
		t.Fatal(err)
	}

	hub := ws.NewHub(auth, nil, logger)
	r := api.SetupRouter(api.RouterDeps{
		AuthSvc: auth,
		Control: service.NewControlService(engine, logger),
		Hub:     hub,
		Cfg:     cfg,
	})
	return testServer{handler: r, token: resp.AccessToken}
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return m
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint_ReportsPhase(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["phase"] != string(domain.PhaseLocked) {
		t.Errorf("body = %v, want ok and LOCKED on a fresh store", body)
	}
}

// ── /status ───────────────────────────────────────────────────────────────────

func TestStatus_NoToken_Returns401(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("GET /status without token = %d, want 401", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false || body["code"] == nil {
		t.Errorf("error envelope = %v", body)
	}
}

func TestStatus_InvalidToken_Returns401(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodGet, "/status", map[string]string{
		"Authorization": "Bearer not.a.token",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /status with bad token = %d, want 401", rr.Code)
	}
}

func TestStatus_WithToken(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodGet, "/status", map[string]string{
		"Authorization": "Bearer " + srv.token,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data missing: %v", body)
	}
	for _, k := range []string{"state", "phase", "risk", "outbox_backlog", "ws_clients"} {
		if _, ok := data[k]; !ok {
			t.Errorf("status is missing %q", k)
		}
	}
}

// ── /ws ───────────────────────────────────────────────────────────────────────

func TestWS_NoToken_Returns401(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodGet, "/ws", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /ws without token = %d, want 401", rr.Code)
	}
}

// ── CORS ──────────────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	srv := buildTestRouter(t)
	rr := do(t, srv.handler, http.MethodOptions, "/status", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "GET",
	})
	if rr.Code != http.StatusNoContent {
		t.Errorf("OPTIONS /status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want * in development", got)
	}
}
