package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyStore fails the first n calls of every operation.
type flakyStore struct {
	*Memory
	failures int
	calls    int
}

var errFlaky = errors.New("connection reset")

func (f *flakyStore) HGet(ctx context.Context, key, field string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errFlaky
	}
	return f.Memory.HGet(ctx, key, field)
}

func (f *flakyStore) Incr(ctx context.Context, key string) (int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, errFlaky
	}
	return f.Memory.Incr(ctx, key)
}

func fastRetry() RetryConfig {
	return RetryConfig{Attempts: 7, Delay: time.Millisecond}
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Memory: NewMemory(), failures: 3}
	flaky.Memory.HSet(ctx, "h", "1", "a")

	r := NewRetrying(flaky, fastRetry(), nil)
	v, err := r.HGet(ctx, "h", "1")
	if err != nil {
		t.Fatalf("HGet() error = %v", err)
	}
	if v != "a" {
		t.Errorf("HGet() = %q, want a", v)
	}
	if flaky.calls != 4 {
		t.Errorf("calls = %d, want 4", flaky.calls)
	}
}

func TestRetrying_ExhaustedIsUnavailable(t *testing.T) {
	flaky := &flakyStore{Memory: NewMemory(), failures: 100}

	var exhausted string
	r := NewRetrying(flaky, fastRetry(), nil)
	r.OnExhausted = func(op string) { exhausted = op }

	_, err := r.HGet(context.Background(), "h", "1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if flaky.calls != 7 {
		t.Errorf("calls = %d, want 7", flaky.calls)
	}
	if exhausted != "hget" {
		t.Errorf("OnExhausted op = %q, want hget", exhausted)
	}
}

func TestRetrying_NilIsNotRetried(t *testing.T) {
	flaky := &flakyStore{Memory: NewMemory()}
	r := NewRetrying(flaky, fastRetry(), nil)

	if _, err := r.HGet(context.Background(), "h", "missing"); !errors.Is(err, ErrNil) {
		t.Fatalf("expected ErrNil, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestRetrying_IncrNotRetried(t *testing.T) {
	flaky := &flakyStore{Memory: NewMemory(), failures: 1}
	r := NewRetrying(flaky, fastRetry(), nil)

	if _, err := r.Incr(context.Background(), "c"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestRetrying_ContextCancelStopsRetries(t *testing.T) {
	flaky := &flakyStore{Memory: NewMemory(), failures: 100}
	r := NewRetrying(flaky, RetryConfig{Attempts: 7, Delay: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.HGet(ctx, "h", "1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retries ignored context cancellation")
	}
}
