package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryConfig returns seven attempts spaced 100ms apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 7,
		Delay:    100 * time.Millisecond,
	}
}

// Retrying wraps a Store and retries transient failures. ErrNil, ErrTimeout
// and context errors are returned immediately. Exhausted retries return an
// error wrapping ErrUnavailable.
type Retrying struct {
	next   Store
	cfg    RetryConfig
	logger *slog.Logger

	// OnExhausted is called when an operation gives up.
	OnExhausted func(op string)
}

// NewRetrying wraps next.
func NewRetrying(next Store, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

func permanent(err error) bool {
	return errors.Is(err, ErrNil) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err = fn(); err == nil || permanent(err) {
			return err
		}

		r.logger.Warn("store operation failed", "op", op, "attempt", attempt, "err", err)

		if attempt == r.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.Delay):
		}
	}

	if r.OnExhausted != nil {
		r.OnExhausted(op)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func (r *Retrying) HGet(ctx context.Context, key, field string) (v string, err error) {
	err = r.do(ctx, "hget", func() error {
		v, err = r.next.HGet(ctx, key, field)
		return err
	})
	return v, err
}

func (r *Retrying) HSet(ctx context.Context, key, field, value string) error {
	return r.do(ctx, "hset", func() error { return r.next.HSet(ctx, key, field, value) })
}

func (r *Retrying) HDel(ctx context.Context, key, field string) error {
	return r.do(ctx, "hdel", func() error { return r.next.HDel(ctx, key, field) })
}

func (r *Retrying) HExists(ctx context.Context, key, field string) (ok bool, err error) {
	err = r.do(ctx, "hexists", func() error {
		ok, err = r.next.HExists(ctx, key, field)
		return err
	})
	return ok, err
}

func (r *Retrying) HGetAll(ctx context.Context, key string) (m map[string]string, err error) {
	err = r.do(ctx, "hgetall", func() error {
		m, err = r.next.HGetAll(ctx, key)
		return err
	})
	return m, err
}

func (r *Retrying) RPush(ctx context.Context, key, value string) error {
	return r.do(ctx, "rpush", func() error { return r.next.RPush(ctx, key, value) })
}

func (r *Retrying) BLPop(ctx context.Context, timeout time.Duration, key string) (v string, err error) {
	err = r.do(ctx, "blpop", func() error {
		v, err = r.next.BLPop(ctx, timeout, key)
		return err
	})
	return v, err
}

func (r *Retrying) LRange(ctx context.Context, key string, start, stop int64) (l []string, err error) {
	err = r.do(ctx, "lrange", func() error {
		l, err = r.next.LRange(ctx, key, start, stop)
		return err
	})
	return l, err
}

// Incr is not retried: a lost reply would double count.
func (r *Retrying) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.next.Incr(ctx, key)
	if err != nil && !permanent(err) {
		if r.OnExhausted != nil {
			r.OnExhausted("incr")
		}
		return 0, fmt.Errorf("incr: %w: %v", ErrUnavailable, err)
	}
	return n, err
}

func (r *Retrying) Get(ctx context.Context, key string) (v string, err error) {
	err = r.do(ctx, "get", func() error {
		v, err = r.next.Get(ctx, key)
		return err
	})
	return v, err
}

func (r *Retrying) Set(ctx context.Context, key, value string) error {
	return r.do(ctx, "set", func() error { return r.next.Set(ctx, key, value) })
}

func (r *Retrying) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *Retrying) Close() error {
	return r.next.Close()
}

// Ensure Retrying implements Store
var _ Store = (*Retrying)(nil)
