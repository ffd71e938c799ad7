package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/service"
)

// DashboardHandler serves the read-only overview endpoints.
type DashboardHandler struct {
	control *service.ControlService
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(control *service.ControlService) *DashboardHandler {
	return &DashboardHandler{control: control}
}

// State godoc
// GET /admin/state
func (h *DashboardHandler) State(c *gin.Context) {
	snap, err := h.control.Status(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, snap)
}

// Report godoc
// GET /admin/report
// Closed-trade statistics over every CLOSED position.
func (h *DashboardHandler) Report(c *gin.Context) {
	rep, err := h.control.Report(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, rep)
}
