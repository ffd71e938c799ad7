// Package backoffice serves the operator control plane: state transitions,
// book views, manual signals and operator accounts.
package backoffice

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/api/middleware"
	"github.com/geniusbot/executor/internal/backoffice/handler"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc   *service.AuthService
	Control   *service.ControlService
	Operators *repository.OperatorRepository
	Cfg       *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	authH := handler.NewAuthHandler(deps.AuthSvc)
	dashH := handler.NewDashboardHandler(deps.Control)
	riskH := handler.NewRiskHandler(deps.Control)
	tradeH := handler.NewTradingHandler(deps.Control)
	opH := handler.NewOperatorAdminHandler(deps.AuthSvc, deps.Operators, deps.Control)

	// ── Public (rate-limited) ────────────────────────────────────────────────
	public := r.Group("/admin")
	public.Use(middleware.RateLimitMiddleware(10))
	{
		public.POST("/login", authH.Login)
		public.POST("/refresh", authH.Refresh)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc))
	admin.Use(middleware.OperatorRateLimitMiddleware(20))
	{
		// Views: any role
		admin.GET("/state", dashH.State)
		admin.GET("/report", dashH.Report)
		admin.GET("/positions", tradeH.Positions)
		admin.GET("/orders", tradeH.Orders)
		admin.GET("/audit", tradeH.Audit)

		// Risk controls
		risk := middleware.RoleMiddleware(domain.RoleRisk)
		admin.POST("/kill-switch/clear", risk, riskH.ClearKillSwitch)
		admin.POST("/kill-switch/engage", risk, riskH.EngageKillSwitch)
		admin.POST("/halt", risk, riskH.Halt)

		// Run controls
		run := middleware.RoleMiddleware(domain.RoleRisk, domain.RoleOps)
		admin.POST("/resume", run, riskH.Resume)
		admin.POST("/pause", run, riskH.Pause)

		// Trading
		ops := middleware.RoleMiddleware(domain.RoleOps)
		admin.POST("/signals", ops, tradeH.EnqueueSignal)
		admin.POST("/orders/:id/cancel", ops, tradeH.CancelOrder)

		// Admin only
		adminOnly := middleware.RoleMiddleware()
		admin.POST("/mode", adminOnly, riskH.SetMode)

		operators := admin.Group("/operators", adminOnly)
		{
			operators.GET("", opH.List)
			operators.POST("", opH.Create)
			operators.POST("/:id/suspend", opH.Suspend)
			operators.POST("/:id/activate", opH.Activate)
			operators.POST("/:id/role", opH.SetRole)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
