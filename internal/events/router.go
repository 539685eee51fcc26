package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one event payload. It has the same shape as
// mq.MessageHandler so routes can back queue consumers directly.
type Handler func(ctx context.Context, data json.RawMessage) error

// Router maps routing keys to handlers.
type Router struct {
	mu     sync.RWMutex
	routes map[string][]Handler
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		routes: make(map[string][]Handler),
		logger: logger,
	}
}

func (r *Router) Register(key string, h Handler) {
	r.mu.Lock()
	r.routes[key] = append(r.routes[key], h)
	r.mu.Unlock()
}

// Keys lists the routing keys with at least one handler.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns one handler running every route of key in order and
// stopping at the first error.
func (r *Router) Handler(key string) Handler {
	return func(ctx context.Context, data json.RawMessage) error {
		return r.Handle(ctx, key, data)
	}
}

// Handle runs the handlers of key. Keys without handlers are ignored.
func (r *Router) Handle(ctx context.Context, key string, data json.RawMessage) (err error) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.routes[key]...)
	r.mu.RUnlock()
	if len(hs) == 0 {
		r.logger.Debug("no handler for event", zap.String("key", key))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panic", zap.String("key", key), zap.Any("panic", rec))
			err = fmt.Errorf("handler for %s panicked: %v", key, rec)
		}
	}()

	for _, h := range hs {
		if err := h(ctx, data); err != nil {
			return err
		}
	}
	return nil
}
