package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letterdesk/pkg/rbac"
)

// RequirePermission aborts unless the token's role grants permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		email, role := Identity(c)
		if email == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(role, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
