package notify

import (
	"context"

	"go.uber.org/zap"

	"letterdesk/pkg/logger"
)

// LogNotifier writes messages to the log instead of sending them. It backs
// SMS, and email when no provider is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	logger.WithTrace(ctx, n.logger).Info("simulated notification",
		zap.String("channel", msg.Channel),
		zap.String("topic", msg.Topic),
		logger.Email(msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_len", len(msg.Body)),
	)
	return nil
}
