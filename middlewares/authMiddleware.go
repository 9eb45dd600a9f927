package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/meditrust/medsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequireAuth validates the bearer token and copies its claims into the
// request context. No token, no entry.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		token, err := utils.JwtValidate(strings.TrimPrefix(auth, "Bearer "))
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		ctx = utils.SetRoleInContext(ctx, claims.Role)
		ctx = utils.SetBranchIdInContext(ctx, claims.BranchId)
		ctx = utils.SetNodeIdInContext(ctx, claims.NodeId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole gates a route group to the listed roles. Runs after
// RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetRoleFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		c.Abort()
	}
}

// CorrelationId tags every request with an id that rides the context into
// logs and downstream calls.
func CorrelationId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(
			utils.SetCorrelationIdInContext(c.Request.Context(), id))
		c.Writer.Header().Set("X-Correlation-Id", id)
		c.Next()
	}
}
