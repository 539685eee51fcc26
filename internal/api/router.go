package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"letterdesk/internal/httpserver"
	"letterdesk/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *AuthHandler,
	jobHandler *JobHandler,
	letterHandler *LetterHandler,
	profileHandler *ProfileHandler,
	jwtSecret string,
	logger *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), httpserver.TraceMiddleware(), httpserver.AccessLog(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/signup", authHandler.Signup)
	r.POST("/login", authHandler.Login)
	r.POST("/password/reset/request", authHandler.RequestReset)
	r.POST("/password/reset/confirm", authHandler.ConfirmReset)

	// Protected
	auth := r.Group("/")
	auth.Use(httpserver.AuthMiddleware(jwtSecret))
	{
		auth.GET("/me", authHandler.Me)
		auth.POST("/consent", authHandler.Consent)

		auth.POST("/jobs", httpserver.RequirePermission(rbac.PermissionSubmitJob), jobHandler.Submit)
		auth.GET("/jobs", httpserver.RequirePermission(rbac.PermissionReadOwnJobs), jobHandler.List)
		auth.GET("/jobs/:id", httpserver.RequirePermission(rbac.PermissionReadOwnJobs), jobHandler.Get)
		auth.POST("/jobs/:id/requeue", httpserver.RequirePermission(rbac.PermissionSubmitJob), jobHandler.Requeue)

		auth.POST("/generations", httpserver.RequirePermission(rbac.PermissionSubmitJob), letterHandler.RecordGeneration)
		auth.GET("/usage", letterHandler.Usage)

		auth.GET("/profile", profileHandler.Get)
		auth.PUT("/profile", profileHandler.Put)

		auth.POST("/review/jobs/:id", httpserver.RequirePermission(rbac.PermissionReviewJob), jobHandler.Review)
		auth.POST("/admin/accounts/password", httpserver.RequirePermission(rbac.PermissionAdminAccount), authHandler.AdminResetPassword)
	}

	return &Router{Engine: r}
}
