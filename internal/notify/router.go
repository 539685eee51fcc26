package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"letterdesk/pkg/circuitbreaker"
)

// Router renders a message and hands it to the notifier of its channel.
// Each channel has its own circuit breaker.
type Router struct {
	channels map[string]Notifier
	breakers map[string]*circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		channels: make(map[string]Notifier),
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Handle registers n for channel.
func (r *Router) Handle(channel string, n Notifier, cfg circuitbreaker.Config) *Router {
	r.channels[channel] = n
	r.breakers[channel] = circuitbreaker.NewCircuitBreaker(cfg)
	return r
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	n, ok := r.channels[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	rendered, err := Render(msg)
	if err != nil {
		return err
	}

	err = r.breakers[msg.Channel].Execute(func() error {
		return n.Send(ctx, rendered)
	})
	if err != nil {
		r.logger.Warn("notification failed",
			zap.String("channel", msg.Channel),
			zap.String("topic", msg.Topic),
			zap.String("breaker", r.breakers[msg.Channel].GetState().String()),
			zap.Error(err),
		)
	}
	return err
}
