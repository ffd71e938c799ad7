package backoffice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/backoffice"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/exchange"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/testutil"
)

type backofficeHarness struct {
	router  *gin.Engine
	engine  *service.ExecutionService
	control *service.ControlService
}

func newHarness(t *testing.T, allowedIPs string) *backofficeHarness {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs},
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret-abcdefghijklmnop",
			RefreshSecret: "test-refresh-secret-abcdefghijklmnop",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
		},
		Engine: config.EngineConfig{MaxRetries: 1, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond},
		Risk:   config.RiskConfig{MaxDailyLoss: 1000, MaxDrawdown: 2000, WorstCaseMove: 0.1, DailyReset: "calendar"},
	}
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
	control := service.NewControlService(engine, logger)

	operators := repository.NewOperatorRepository(db)
	auth := service.NewAuthService(operators, cfg)
	for _, op := range []struct {
		name string
		role domain.Role
	}{
		{"root", domain.RoleAdmin},
		{"riskdesk", domain.RoleRisk},
		{"viewer", domain.RoleReadOnly},
	} {
		if _, err := auth.CreateOperator(ctx, service.CreateOperatorRequest{
			Username: op.name, Password: op.name + "-password", Role: op.role,
		}); err != nil {
			t.Fatal(err)
		}
	}

	r := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:   auth,
		Control:   control,
		Operators: operators,
		Cfg:       cfg,
	})
	return &backofficeHarness{router: r, engine: engine, control: control}
}

func (h *backofficeHarness) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	var m map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("%s %s: body is not JSON: %s", method, path, rr.Body.String())
	}
	return rr.Code, m
}

func (h *backofficeHarness) login(t *testing.T, username string) string {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/admin/login", "", map[string]string{
		"username": username, "password": username + "-password",
	})
	if code != http.StatusOK {
		t.Fatalf("login %s = %d: %v", username, code, body)
	}
	data := body["data"].(map[string]interface{})
	return data["access_token"].(string)
}

func TestBackoffice_IPAllowList(t *testing.T) {
	h := newHarness(t, "10.0.0.9")
	code, body := h.do(t, http.MethodPost, "/admin/login", "", map[string]string{
		"username": "root", "password": "root-password",
	})
	if code != http.StatusForbidden {
		t.Fatalf("login from unlisted IP = %d, want 403", code)
	}
	if body["code"] != "ERR_IP_FORBIDDEN" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestBackoffice_LoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t, "")
	code, body := h.do(t, http.MethodPost, "/admin/login", "", map[string]string{
		"username": "root", "password": "wrong",
	})
	if code != http.StatusUnauthorized || body["code"] != "ERR_INVALID_CREDENTIALS" {
		t.Errorf("bad password = %d %v, want 401 ERR_INVALID_CREDENTIALS", code, body["code"])
	}
}

func TestBackoffice_RolesGateControls(t *testing.T) {
	h := newHarness(t, "")
	viewer := h.login(t, "viewer")
	riskdesk := h.login(t, "riskdesk")

	if code, _ := h.do(t, http.MethodGet, "/admin/state", viewer, nil); code != http.StatusOK {
		t.Errorf("viewer GET /admin/state = %d, want 200", code)
	}
	tests := []struct {
		token  string
		method string
		path   string
		want   int
	}{
		{viewer, http.MethodPost, "/admin/pause", http.StatusForbidden},
		{viewer, http.MethodPost, "/admin/kill-switch/clear", http.StatusForbidden},
		{riskdesk, http.MethodPost, "/admin/mode", http.StatusForbidden},
		{riskdesk, http.MethodGet, "/admin/operators", http.StatusForbidden},
		{riskdesk, http.MethodPost, "/admin/signals", http.StatusForbidden},
		{"", http.MethodGet, "/admin/state", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		if code, _ := h.do(t, tt.method, tt.path, tt.token, nil); code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, code, tt.want)
		}
	}
}

func TestBackoffice_KillSwitchClearAndResume(t *testing.T) {
	h := newHarness(t, "")
	riskdesk := h.login(t, "riskdesk")

	code, body := h.do(t, http.MethodPost, "/admin/resume", riskdesk, nil)
	if code != http.StatusConflict || body["code"] != "ERR_KILL_SWITCH_ENGAGED" {
		t.Fatalf("resume with kill switch = %d %v", code, body["code"])
	}
	if code, body = h.do(t, http.MethodPost, "/admin/kill-switch/clear", riskdesk, nil); code != http.StatusOK {
		t.Fatalf("clear = %d %v", code, body)
	}
	if code, body = h.do(t, http.MethodPost, "/admin/resume", riskdesk, nil); body["code"] != "ERR_SYNC_REQUIRED" {
		t.Fatalf("resume before sync = %d %v", code, body["code"])
	}
	if _, err := h.engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	code, body = h.do(t, http.MethodPost, "/admin/resume", riskdesk, nil)
	if code != http.StatusOK {
		t.Fatalf("resume = %d %v", code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["phase"] != string(domain.PhaseRunning) {
		t.Errorf("phase = %v, want RUNNING", data["phase"])
	}

	// A stale version is refused.
	code, body = h.do(t, http.MethodPost, "/admin/pause", riskdesk, map[string]int64{"version": 1})
	if code != http.StatusConflict || body["code"] != "ERR_STALE_STATE" {
		t.Errorf("stale pause = %d %v", code, body["code"])
	}
}

func TestBackoffice_OperatorChangesAreAudited(t *testing.T) {
	h := newHarness(t, "")
	root := h.login(t, "root")

	code, body := h.do(t, http.MethodPost, "/admin/operators", root, map[string]string{
		"username": "nightshift", "password": "nightshift-password", "role": "ops",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}
	id := body["data"].(map[string]interface{})["id"].(string)

	if code, body = h.do(t, http.MethodPost, "/admin/operators/"+id+"/suspend", root, nil); code != http.StatusOK {
		t.Fatalf("suspend = %d %v", code, body)
	}
	if code, _ = h.do(t, http.MethodPost, "/admin/operators", root, map[string]string{
		"username": "x", "password": "x-password", "role": "superuser",
	}); code != http.StatusBadRequest {
		t.Errorf("unknown role = %d, want 400", code)
	}

	entries, total, err := h.control.ListAudit(context.Background(), domain.EventOperatorChanged, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("OPERATOR_CHANGED entries = %d, want 2", total)
	}
	for _, e := range entries {
		if !strings.Contains(e.Message, "by root") {
			t.Errorf("entry %q does not name the operator", e.Message)
		}
	}

	code, body = h.do(t, http.MethodPost, "/admin/login", "", map[string]string{
		"username": "nightshift", "password": "nightshift-password",
	})
	if code != http.StatusForbidden || body["code"] != "ERR_OPERATOR_INACTIVE" {
		t.Errorf("suspended login = %d %v", code, body["code"])
	}
}
