// Command migrate renames legacy header cells and appends missing columns on
// every table the service uses. It is safe to run repeatedly.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/app"
	"letterdesk/internal/config"
	"letterdesk/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("app initialization failed", zap.Error(err))
	}
	defer a.Close()

	for _, schema := range a.Schemas() {
		renames, err := a.Store.Migrate(ctx, schema)
		if err != nil {
			log.Fatal("migration failed", zap.String("table", schema.Name), zap.Error(err))
		}
		for _, r := range renames {
			log.Info("renamed header",
				zap.String("table", schema.Name),
				zap.Int("col", r.Col),
				zap.String("from", r.From),
				zap.String("to", r.To),
			)
		}
		log.Info("table ready", zap.String("table", schema.Name), zap.Int("renamed", len(renames)))
	}
}
