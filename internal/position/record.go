// Package position holds the trading position record shared by every
// component of the engine, and its positional wire codec.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Quote is a bid/ask snapshot. The zero value means not captured.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// IsZero reports whether the quote was never captured.
func (q Quote) IsZero() bool {
	return q.Bid.IsZero() && q.Ask.IsZero()
}

// Excursion is the maximum favorable and adverse movement of the spread
// relative to entry, in money. The zero value means not tracked yet.
type Excursion struct {
	MFE decimal.Decimal
	MAE decimal.Decimal
}

// IsZero reports whether no excursion has been recorded.
func (e Excursion) IsZero() bool {
	return e.MFE.IsZero() && e.MAE.IsZero()
}

// Record is one position occupying a slot, from admission to exit.
type Record struct {
	EntryTime       time.Time
	Combo           string
	Quantity        int64 // signed: positive long, negative short
	Contract        broker.Contract
	EntryZScore     decimal.Decimal
	EntryMean       decimal.Decimal
	EntryHalfLife   decimal.Decimal
	EntryStdDev     decimal.Decimal
	EntryQuote      Quote
	RegressionSlope decimal.Decimal
	State           types.OrderState
	EntrySpread     decimal.NullDecimal
	Expiry          string
	EntryOrderIDs   []int64
	LowerBreach     decimal.NullDecimal
	UpperBreach     decimal.NullDecimal
	LastSpread      decimal.NullDecimal
	LastUpdated     time.Time
	ExitSpread      decimal.NullDecimal
	ExitTime        time.Time
	ExitOrderIDs    []int64
	ExitQuote       Quote
	Excursion       Excursion
}

// Dec wraps a decimal as a set optional value.
func Dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// Side returns the direction of the position.
func (r *Record) Side() types.Side {
	return types.SideOf(r.Quantity)
}

// AbsQuantity returns the unsigned size.
func (r *Record) AbsQuantity() int64 {
	if r.Quantity < 0 {
		return -r.Quantity
	}
	return r.Quantity
}

// Initialized reports whether the exit monitor has already computed and
// persisted breach levels for this record.
func (r *Record) Initialized() bool {
	return !r.LastUpdated.IsZero() && r.LowerBreach.Valid && r.UpperBreach.Valid
}

// ReferenceTime is the most recent lifecycle timestamp of the record.
func (r *Record) ReferenceTime() time.Time {
	switch {
	case !r.LastUpdated.IsZero():
		return r.LastUpdated
	case !r.ExitTime.IsZero():
		return r.ExitTime
	default:
		return r.EntryTime
	}
}

// Advance moves the record to next, refusing skips and regressions.
func (r *Record) Advance(next types.OrderState) error {
	if !r.State.CanAdvanceTo(next) {
		return fmt.Errorf("advance %s to %s: %w", r.State, next, types.ErrInvalidTransition)
	}
	r.State = next
	return nil
}

// ContractWithExpiry returns the contract carrying the record's expiry.
func (r *Record) ContractWithExpiry() broker.Contract {
	c := r.Contract
	if r.Expiry != "" {
		c.Expiry = r.Expiry
	}
	return c
}

// Normalize rounds every numeric field to two decimals.
func (r *Record) Normalize() {
	r.EntryZScore = r.EntryZScore.Round(2)
	r.EntryMean = r.EntryMean.Round(2)
	r.EntryHalfLife = r.EntryHalfLife.Round(2)
	r.EntryStdDev = r.EntryStdDev.Round(2)
	r.RegressionSlope = r.RegressionSlope.Round(2)
	r.EntryQuote = r.EntryQuote.round()
	r.ExitQuote = r.ExitQuote.round()
	r.EntrySpread = roundNull(r.EntrySpread)
	r.LowerBreach = roundNull(r.LowerBreach)
	r.UpperBreach = roundNull(r.UpperBreach)
	r.LastSpread = roundNull(r.LastSpread)
	r.ExitSpread = roundNull(r.ExitSpread)
	r.Excursion.MFE = r.Excursion.MFE.Round(2)
	r.Excursion.MAE = r.Excursion.MAE.Round(2)
}

func (q Quote) round() Quote {
	return Quote{Bid: q.Bid.Round(2), Ask: q.Ask.Round(2)}
}

func roundNull(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return Dec(d.Decimal.Round(2))
}

// NetPnL returns the realized or marked P&L of the position, net of the
// round-trip cost rate applied to entry plus exit notional. ok is false when
// there is no entry spread or no exit/last spread to mark against.
func (r *Record) NetPnL(costRate decimal.Decimal) (pnl decimal.Decimal, ok bool) {
	if !r.EntrySpread.Valid {
		return decimal.Zero, false
	}
	mark := r.ExitSpread
	if !mark.Valid {
		mark = r.LastSpread
	}
	if !mark.Valid {
		return decimal.Zero, false
	}

	gross := mark.Decimal.Sub(r.EntrySpread.Decimal)
	if r.Side() == types.SideShort {
		gross = gross.Neg()
	}
	cost := costRate.Mul(r.EntrySpread.Decimal.Abs().Add(mark.Decimal.Abs()))
	return gross.Sub(cost), true
}
