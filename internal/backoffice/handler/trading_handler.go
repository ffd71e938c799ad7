package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusbot/executor/internal/api/middleware"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/service"
)

// TradingHandler serves the book: positions, orders, audit trail, manual
// signals and order cancels.
type TradingHandler struct {
	control *service.ControlService
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(control *service.ControlService) *TradingHandler {
	return &TradingHandler{control: control}
}

// Positions godoc
// GET /admin/positions?status=OPEN&page=1&limit=50
func (h *TradingHandler) Positions(c *gin.Context) {
	page, limit := adminPagination(c)
	status := domain.PositionStatus(strings.ToUpper(c.Query("status")))

	items, total, err := h.control.ListPositions(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, items, total, page, limit)
}

// Orders godoc
// GET /admin/orders?status=PENDING&page=1&limit=50
func (h *TradingHandler) Orders(c *gin.Context) {
	page, limit := adminPagination(c)
	status := domain.OrderStatus(strings.ToUpper(c.Query("status")))

	items, total, err := h.control.ListOrders(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, items, total, page, limit)
}

// Audit godoc
// GET /admin/audit?event_type=KILL_SWITCH_TRIPPED&page=1&limit=50
func (h *TradingHandler) Audit(c *gin.Context) {
	page, limit := adminPagination(c)
	evt := domain.EventType(strings.ToUpper(c.Query("event_type")))

	items, total, err := h.control.ListAudit(c.Request.Context(), evt, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, items, total, page, limit)
}

// EnqueueSignal godoc
// POST /admin/signals
// Body: {"id": "...", "symbol": "BTC/USD", "side": "LONG", "size": "0.1", "kind": "OPEN", "price": "49000"}
func (h *TradingHandler) EnqueueSignal(c *gin.Context) {
	var sig domain.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	rec, err := h.control.EnqueueSignal(c.Request.Context(), sig, middleware.GetOperator(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, rec)
}

// CancelOrder godoc
// POST /admin/orders/:id/cancel
func (h *TradingHandler) CancelOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid order id")
		return
	}
	o, err := h.control.CancelOrder(c.Request.Context(), id, middleware.GetOperator(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, o)
}
