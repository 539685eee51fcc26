package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"letterdesk/internal/app"
	"letterdesk/internal/config"
	"letterdesk/pkg/logger"
	"letterdesk/pkg/mq"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting worker...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("app initialization failed", zap.Error(err))
	}
	defer a.Close()

	// One queue per event key. Without a broker the API process handles
	// events in-line and the worker only sweeps reminders.
	if cfg.MQ.URL != "" {
		for _, key := range a.Events.Keys() {
			queue := key + ".q"
			log.Info("Initializing consumer", zap.String("queue", queue), zap.String("routing_key", key))
			consumer, err := mq.NewConsumer(cfg.MQ.URL, queue, key, log)
			if err != nil {
				log.Fatal("failed to init consumer", zap.String("queue", queue), zap.Error(err))
			}
			consumer.SetHandler(mq.MessageHandler(a.Events.Handler(key)))
			defer consumer.Close()

			go func() {
				if err := consumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
					log.Error("consumer stopped", zap.String("queue", queue), zap.Error(err))
					cancel()
				}
			}()
		}
	} else {
		log.Warn("mq.url not set; events are handled in the API process")
	}

	log.Info("reminder sweep started", zap.Duration("interval", cfg.Reminders.SweepInterval))
	if err := a.Reminders.Run(ctx, cfg.Reminders.SweepInterval); err != nil && ctx.Err() == nil {
		log.Error("reminder sweep stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}
