// Package backoff retries row-store calls that fail on rate limits.
//
// Each call gets its own delay sequence: BaseDelay, then multiplied by Factor
// and capped at MaxDelay. Only failures that Classify marks retryable are
// retried; everything else is returned at once.
package backoff

import (
	"context"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/pkg/metrics"
)

// Config is the retry budget.
type Config struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Factor    float64       `yaml:"factor"`
}

// DefaultConfig matches the quota profile of the shared workbook.
func DefaultConfig() Config {
	return Config{
		Attempts:  5,
		BaseDelay: 1500 * time.Millisecond,
		MaxDelay:  12 * time.Second,
		Factor:    2,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor wraps remote operations with bounded exponential backoff.
type Executor struct {
	cfg    Config
	sleep  SleepFunc
	logger *zap.Logger
}

// New creates an executor. Zero fields in cfg take DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, sleep: sleepCtx, logger: logger}
}

// WithSleep replaces the sleep function; used by tests.
func (e *Executor) WithSleep(fn SleepFunc) *Executor {
	cp := *e
	cp.sleep = fn
	return &cp
}

// Config returns the effective retry budget.
func (e *Executor) Config() Config { return e.cfg }

// Do runs fn, retrying rate-limit failures. When the budget is spent it
// returns an *apperr.RateLimitError wrapping the last original error.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := e.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		if err == nil {
			metrics.RecordRemoteCall(op, "ok", time.Since(start))
			return nil
		}

		retryable, kind := Classify(err)
		metrics.RecordRemoteCall(op, kind, time.Since(start))
		if !retryable {
			return err
		}
		lastErr = err

		if attempt == e.cfg.Attempts {
			break
		}

		metrics.IncrementRateLimitRetry(op)
		e.logger.Warn("row store rate limited, backing off",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := e.sleep(ctx, delay); err != nil {
			return &apperr.RateLimitError{Op: op, Attempts: attempt, Err: lastErr}
		}
		delay = e.next(delay)
	}

	metrics.IncrementRateLimitExhausted(op)
	e.logger.Error("row store retry budget exhausted",
		zap.String("operation", op),
		zap.Int("attempts", e.cfg.Attempts),
		zap.Error(lastErr),
	)
	return &apperr.RateLimitError{Op: op, Attempts: e.cfg.Attempts, Err: lastErr}
}

func (e *Executor) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * e.cfg.Factor)
	if n > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return n
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
