package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letterdesk/internal/util"
)

// Context keys set by AuthMiddleware.
const (
	CtxEmail = "email"
	CtxRole  = "role"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		// store identity in context so handlers can use it
		c.Set(CtxEmail, claims.Email)
		c.Set(CtxRole, claims.Role)

		c.Next()
	}
}

// Identity returns what AuthMiddleware stored.
func Identity(c *gin.Context) (email, role string) {
	return c.GetString(CtxEmail), c.GetString(CtxRole)
}
