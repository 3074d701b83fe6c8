// Package store is the coordination store shared by every worker: hashes
// keyed by slot for open positions, FIFO lists for signal queues, counters
// and scalar tunables.
package store

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrNil is returned when a key or field does not exist.
	ErrNil = errors.New("store: nil")
	// ErrTimeout is returned when a blocking pop found nothing in time.
	ErrTimeout = errors.New("store: pop timeout")
	// ErrUnavailable marks an operation that kept failing after retries.
	// Callers treat the result as unknown.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the coordination store contract.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) error
	HExists(ctx context.Context, key, field string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	RPush(ctx context.Context, key, value string) error
	// BLPop pops the head of a list, waiting up to timeout.
	BLPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Incr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
	Close() error
}

// Keys builds the namespaced keys of one strategy.
type Keys struct {
	Prefix string
}

// Open is the hash of open records keyed by slot.
func (k Keys) Open() string { return k.Prefix + ":open" }

// Closed is the list of closed records.
func (k Keys) Closed() string { return k.Prefix + ":closed" }

// EntrySignals is the entry signal queue.
func (k Keys) EntrySignals() string { return k.Prefix + ":signals:entry" }

// EODSignals is the end-of-day signal queue.
func (k Keys) EODSignals() string { return k.Prefix + ":signals:eod" }

// ManualSignals is the manual intervention queue.
func (k Keys) ManualSignals() string { return k.Prefix + ":signals:manual" }

// OrderID is the order id counter.
func (k Keys) OrderID() string { return k.Prefix + ":order_id" }

// Entries is the per-day entry counter.
func (k Keys) Entries(day time.Time) string {
	return k.Prefix + ":entries:" + day.Format("20060102")
}

// LastSlot holds the most recently allocated slot.
func (k Keys) LastSlot() string { return k.Prefix + ":last_slot" }

// Tunable is a runtime-mutable strategy setting.
func (k Keys) Tunable(name string) string { return k.Prefix + ":tunable:" + name }
