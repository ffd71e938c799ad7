package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusbot/executor/internal/api/middleware"
	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/repository"
	"github.com/geniusbot/executor/internal/service"
)

// OperatorAdminHandler serves /admin/operators endpoints. Every change is
// audited under the acting operator.
type OperatorAdminHandler struct {
	authSvc   *service.AuthService
	operators *repository.OperatorRepository
	control   *service.ControlService
}

// NewOperatorAdminHandler creates an OperatorAdminHandler.
func NewOperatorAdminHandler(
	authSvc *service.AuthService,
	operators *repository.OperatorRepository,
	control *service.ControlService,
) *OperatorAdminHandler {
	return &OperatorAdminHandler{authSvc: authSvc, operators: operators, control: control}
}

// audited writes the audit entry for a completed change, then the response.
func (h *OperatorAdminHandler) audited(c *gin.Context, status int, data interface{}, format string, args ...any) {
	if err := h.control.AuditOperatorChange(c.Request.Context(), middleware.GetOperator(c), format, args...); err != nil {
		respondServiceError(c, err)
		return
	}
	respondSuccess(c, status, data)
}

// List godoc
// GET /admin/operators?page=1&limit=50
func (h *OperatorAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	ops, total, err := h.operators.List(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondList(c, ops, total, page, limit)
}

// Create godoc
// POST /admin/operators
// Body: {"username": "...", "password": "...", "role": "ops"}
func (h *OperatorAdminHandler) Create(c *gin.Context) {
	var req service.CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !req.Role.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	op, err := h.authSvc.CreateOperator(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.audited(c, http.StatusCreated, op, "operator %s created with role %s", op.Username, op.Role)
}

// Suspend godoc
// POST /admin/operators/:id/suspend
func (h *OperatorAdminHandler) Suspend(c *gin.Context) {
	h.setActive(c, false)
}

// Activate godoc
// POST /admin/operators/:id/activate
func (h *OperatorAdminHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

func (h *OperatorAdminHandler) setActive(c *gin.Context, active bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid operator id")
		return
	}
	if err = h.operators.SetActive(c.Request.Context(), id, active); err != nil {
		respondServiceError(c, err)
		return
	}
	h.audited(c, http.StatusOK, gin.H{"operator_id": id, "is_active": active},
		"operator %s is_active=%t", id, active)
}

// SetRole godoc
// POST /admin/operators/:id/role
// Body: {"role": "risk"}
func (h *OperatorAdminHandler) SetRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid operator id")
		return
	}
	var body struct {
		Role domain.Role `json:"role" binding:"required"`
	}
	if err = c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !body.Role.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	if err = h.operators.UpdateRole(c.Request.Context(), id, body.Role); err != nil {
		respondServiceError(c, err)
		return
	}
	h.audited(c, http.StatusOK, gin.H{"operator_id": id, "role": body.Role},
		"operator %s role set to %s", id, body.Role)
}
