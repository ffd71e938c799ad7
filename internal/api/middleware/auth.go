package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geniusbot/executor/internal/domain"
	"github.com/geniusbot/executor/internal/service"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxOperatorID = "operatorID"
	CtxOperator   = "operator"
	CtxRole       = "role"
)

// TokenParser validates operator access tokens. Implemented by
// service.AuthService.
type TokenParser interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header and
// stores the operator id, username and role in the gin context.
func JWTMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   domain.ErrUnauthorized.Error(),
				"code":    "ERR_UNAUTHORIZED",
			})
			return
		}

		claims, err := tokens.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   domain.ErrTokenInvalid.Error(),
				"code":    "ERR_TOKEN_INVALID",
			})
			return
		}

		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   domain.ErrTokenInvalid.Error(),
				"code":    "ERR_TOKEN_INVALID",
			})
			return
		}

		c.Set(CtxOperatorID, id)
		c.Set(CtxOperator, claims.Username)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated operator has one of the allowed
// roles. Admin is always allowed. Must be placed after JWTMiddleware.
func RoleMiddleware(roles ...domain.Role) gin.HandlerFunc {
	allowed := map[string]bool{string(domain.RoleAdmin): true}
	for _, r := range roles {
		allowed[string(r)] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   domain.ErrForbidden.Error(),
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract the operator from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetOperatorID retrieves the authenticated operator's UUID.
// Returns uuid.Nil if the middleware was not applied.
func GetOperatorID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxOperatorID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// GetOperator retrieves the authenticated operator's username.
func GetOperator(c *gin.Context) string {
	v, _ := c.Get(CtxOperator)
	s, _ := v.(string)
	return s
}

// GetRole retrieves the authenticated operator's role string.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
