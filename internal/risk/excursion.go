package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

// ExcursionTracker tracks the maximum favorable and adverse excursion of a
// position's spread from entry, in money. Both are reported as non-negative
// magnitudes. Thread-safe for concurrent access.
type ExcursionTracker struct {
	mu    sync.RWMutex
	side  types.Side
	entry decimal.Decimal
	mfe   decimal.Decimal
	mae   decimal.Decimal
}

// NewExcursionTracker creates a tracker for a position, resuming from
// previously persisted extremes.
func NewExcursionTracker(side types.Side, entry, mfe, mae decimal.Decimal) *ExcursionTracker {
	return &ExcursionTracker{
		side:  side,
		entry: entry,
		mfe:   mfe.Abs(),
		mae:   mae.Abs(),
	}
}

// Update records the current spread. Returns true if a new extreme was set.
func (e *ExcursionTracker) Update(spread decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pnl := spread.Sub(e.entry).Mul(decimal.NewFromInt(e.side.Sign()))

	if pnl.GreaterThan(e.mfe) {
		e.mfe = pnl
		return true
	}
	if pnl.Neg().GreaterThan(e.mae) {
		e.mae = pnl.Neg()
		return true
	}
	return false
}

// Snapshot returns the current extremes.
func (e *ExcursionTracker) Snapshot() (mfe, mae decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mfe, e.mae
}
