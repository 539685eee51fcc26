package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/pkg/logger"
	"letterdesk/pkg/rbac"
)

// writeError maps the error taxonomy to a status code. A rate-limited store
// asks the client to resubmit; nothing the client sent was discarded.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var denied *rbac.PermissionDeniedError
	var invalid *apperr.ValidationError

	switch {
	case apperr.IsRateLimited(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "still syncing, retry", "retry": true})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error(), "field": invalid.Field})
	case errors.Is(err, apperr.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.As(err, &denied), errors.Is(err, apperr.ErrPermissionDeny):
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "row changed concurrently, retry", "retry": true})
	case errors.Is(err, apperr.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "generation quota exceeded"})
	default:
		logger.WithTrace(c.Request.Context(), log).Error("unhandled error",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
}
