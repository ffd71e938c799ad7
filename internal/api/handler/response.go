package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geniusbot/executor/internal/domain"
)

// ── Envelope ──────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg, "code": code})
}

// respondStoreError reports a failed state read. A systemic failure means the
// store is unreachable and the engine has halted itself.
func respondStoreError(c *gin.Context, err error) {
	if domain.IsSystemic(err) {
		respondError(c, http.StatusServiceUnavailable, "ERR_STORE_UNAVAILABLE", err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
}
