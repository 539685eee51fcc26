package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/api"
	"letterdesk/internal/app"
	"letterdesk/internal/config"
	"letterdesk/pkg/logger"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	// 2. Wire store, directories and services
	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("app initialization failed", zap.Error(err))
	}
	defer a.Close()

	// 3. Init handlers
	authHandler := api.NewAuthHandler(a.Auth, a.Accounts, log)
	jobHandler := api.NewJobHandler(a.Letters, a.Jobs, log)
	letterHandler := api.NewLetterHandler(a.Letters, a.Accounts, log)
	profileHandler := api.NewProfileHandler(a.Profiles, log)

	// 4. Init router
	router := api.NewRouter(authHandler, jobHandler, letterHandler, profileHandler, cfg.JWT.Secret, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("server stopped")
}
