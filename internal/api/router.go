// Package api serves the engine process's HTTP surface: health, status and
// the operator event stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/api/handler"
	"github.com/geniusbot/executor/internal/api/middleware"
	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/service"
	"github.com/geniusbot/executor/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc  *service.AuthService
	Control  *service.ControlService
	PriceSvc *service.PriceService
	Hub      *ws.Hub
	Cfg      *config.Config
}

// SetupRouter creates the engine's Gin router.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(deps.Cfg))

	var (
		prices handler.PriceBoard
		hub    handler.ClientCounter
	)
	if deps.PriceSvc != nil {
		prices = deps.PriceSvc
	}
	if deps.Hub != nil {
		hub = deps.Hub
	}
	statusH := handler.NewStatusHandler(deps.Control, prices, hub)

	// ── Public ───────────────────────────────────────────────────────────────
	r.GET("/health", statusH.Health)

	// ── Operator-only ────────────────────────────────────────────────────────
	authed := r.Group("")
	authed.Use(middleware.RateLimitMiddleware(20))
	authed.Use(middleware.JWTMiddleware(deps.AuthSvc))
	{
		authed.GET("/status", statusH.Status)
	}

	// The hub authenticates the token itself; browsers cannot set headers on
	// a websocket upgrade.
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware allows any origin outside production; in production only
// WSAllowedOrigins are echoed back.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.WSAllowedOrigins))
	for _, o := range cfg.Server.WSAllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
