package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/api/middleware"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/service"
)

// RiskHandler serves the state-machine controls: kill switch, resume, pause,
// halt and mode.
type RiskHandler struct {
	control *service.ControlService
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(control *service.ControlService) *RiskHandler {
	return &RiskHandler{control: control}
}

// transitionBody is the optional body of every transition. A non-zero
// version makes the write conditional on the state row's version.
type transitionBody struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
	Mode    string `json:"mode"`
}

// bindTransition reads an optional JSON body; an empty body is allowed.
func bindTransition(c *gin.Context) (transitionBody, bool) {
	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return body, false
	}
	return body, true
}

// respondState writes the state returned by a transition.
func respondState(c *gin.Context, state *domain.SystemState, err error) {
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"state": state, "phase": state.Phase()})
}

// ClearKillSwitch godoc
// POST /admin/kill-switch/clear
func (h *RiskHandler) ClearKillSwitch(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.ClearKillSwitch(c.Request.Context(), middleware.GetOperator(c), body.Version)
	respondState(c, state, err)
}

// EngageKillSwitch godoc
// POST /admin/kill-switch/engage
// Body: {"reason": "..."}
func (h *RiskHandler) EngageKillSwitch(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.EngageKillSwitch(c.Request.Context(), middleware.GetOperator(c), body.Reason)
	respondState(c, state, err)
}

// Resume godoc
// POST /admin/resume
func (h *RiskHandler) Resume(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.Resume(c.Request.Context(), middleware.GetOperator(c), body.Version)
	respondState(c, state, err)
}

// Pause godoc
// POST /admin/pause
func (h *RiskHandler) Pause(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.Pause(c.Request.Context(), middleware.GetOperator(c), body.Version)
	respondState(c, state, err)
}

// Halt godoc
// POST /admin/halt
func (h *RiskHandler) Halt(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.Halt(c.Request.Context(), middleware.GetOperator(c), body.Version)
	respondState(c, state, err)
}

// SetMode godoc
// POST /admin/mode
// Body: {"mode": "LIVE", "version": 7}
func (h *RiskHandler) SetMode(c *gin.Context) {
	body, ok := bindTransition(c)
	if !ok {
		return
	}
	state, err := h.control.SetMode(c.Request.Context(), middleware.GetOperator(c), domain.Mode(body.Mode), body.Version)
	respondState(c, state, err)
}
