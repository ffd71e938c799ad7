package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/geniusbot/executor/internal/service"
)

// PriceBoard exposes the price service's cached view.
type PriceBoard interface {
	Snapshot() map[string]decimal.Decimal
	ExchangeStatus() map[string]bool
}

// ClientCounter reports connected WS operators.
type ClientCounter interface {
	ConnectedCount() int
}

// StatusHandler serves the engine's /health and /status endpoints.
type StatusHandler struct {
	control *service.ControlService
	prices  PriceBoard
	hub     ClientCounter
	started time.Time
}

// NewStatusHandler creates a StatusHandler. prices and hub may be nil.
func NewStatusHandler(control *service.ControlService, prices PriceBoard, hub ClientCounter) *StatusHandler {
	return &StatusHandler{control: control, prices: prices, hub: hub, started: time.Now().UTC()}
}

// Health godoc
// GET /health
// 200 while the state store is readable, 503 otherwise.
func (h *StatusHandler) Health(c *gin.Context) {
	snap, err := h.control.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   snap.State.Mode,
		"phase":  snap.Phase,
	})
}

// Status godoc
// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	snap, err := h.control.Status(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}

	body := gin.H{
		"state":          snap.State,
		"phase":          snap.Phase,
		"risk":           snap.Risk,
		"outbox_backlog": snap.OutboxBacklog,
		"last_sync":      snap.LastSync,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.prices != nil {
		body["prices"] = h.prices.Snapshot()
		body["exchange_status"] = h.prices.ExchangeStatus()
	}
	if h.hub != nil {
		body["ws_clients"] = h.hub.ConnectedCount()
	}
	respondSuccess(c, http.StatusOK, body)
}
