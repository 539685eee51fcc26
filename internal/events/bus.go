package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"letterdesk/pkg/logger"
	"letterdesk/pkg/mq"
)

// Bus publishes events. *mq.Publisher satisfies it.
type Bus interface {
	Publish(ctx context.Context, key string, payload any) error
}

var _ Bus = (*mq.Publisher)(nil)

// LocalBus delivers events synchronously to a Router in the same process.
type LocalBus struct {
	router *Router
	logger *zap.Logger
}

func NewLocalBus(router *Router, logger *zap.Logger) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{router: router, logger: logger}
}

// Publish runs the handlers of key before returning. Handler errors are
// returned to the publisher.
func (b *LocalBus) Publish(ctx context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.router.Handle(ctx, key, data); err != nil {
		logger.WithTrace(ctx, b.logger).Warn("local event handler failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
