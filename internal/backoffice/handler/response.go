package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// adminPagination reads page/limit query params with sane defaults for admin views.
func adminPagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}

// errorMapping pairs a sentinel with its HTTP status and envelope code.
type errorMapping struct {
	err    error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{domain.ErrStaleState, http.StatusConflict, "ERR_STALE_STATE"},
	{domain.ErrInvalidTransition, http.StatusConflict, "ERR_INVALID_TRANSITION"},
	{domain.ErrKillSwitchEngaged, http.StatusConflict, "ERR_KILL_SWITCH_ENGAGED"},
	{domain.ErrSyncRequired, http.StatusConflict, "ERR_SYNC_REQUIRED"},
	{domain.ErrDuplicateSignal, http.StatusConflict, "ERR_DUPLICATE_SIGNAL"},
	{domain.ErrOrderNotPending, http.StatusConflict, "ERR_ORDER_NOT_PENDING"},
	{domain.ErrUsernameTaken, http.StatusConflict, "ERR_USERNAME_TAKEN"},
	{domain.ErrInvalidMode, http.StatusBadRequest, "ERR_INVALID_MODE"},
	{domain.ErrMalformedSignal, http.StatusBadRequest, "ERR_MALFORMED_SIGNAL"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
	{domain.ErrOperatorNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS"},
	{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_TOKEN_INVALID"},
	{domain.ErrOperatorInactive, http.StatusForbidden, "ERR_OPERATOR_INACTIVE"},
	{domain.ErrAdapterTransient, http.StatusBadGateway, "ERR_VENUE"},
	{domain.ErrAdapterFatal, http.StatusBadGateway, "ERR_VENUE"},
	{domain.ErrAdapterSystemic, http.StatusBadGateway, "ERR_VENUE"},
}

// respondServiceError maps a service error onto the error envelope.
func respondServiceError(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, err.Error())
			return
		}
	}
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
}
