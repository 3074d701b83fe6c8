// Package risk implements breach level computation, breach classification,
// excursion tracking and the daily P&L guard.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Amount modes.
const (
	// ModeFixed uses the amount as a money distance from the entry spread.
	ModeFixed = "fixed"
	// ModeStdDev multiplies the amount by entry std dev and lot size.
	ModeStdDev = "stddev"
)

// ValidMode reports whether m is a known amount mode.
func ValidMode(m string) bool {
	return m == ModeFixed || m == ModeStdDev
}

// Amount is a stop-loss or take-profit distance.
type Amount struct {
	Mode  string
	Value decimal.Decimal
}

// Resolve returns the money distance for a position.
func (a Amount) Resolve(stdDev decimal.Decimal, absQty int64) decimal.Decimal {
	if a.Mode == ModeStdDev {
		return a.Value.Mul(stdDev.Abs()).Mul(decimal.NewFromInt(absQty))
	}
	return a.Value
}

// LevelConfig holds the stop-loss and take-profit distances.
type LevelConfig struct {
	StopLoss   Amount
	TakeProfit Amount
}

// Levels is the breach band around an entry spread.
type Levels struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// ComputeLevels derives the breach band from the entry spread. For a long
// the stop sits below entry and the target above; a short mirrors that.
func ComputeLevels(cfg LevelConfig, side types.Side, entrySpread, stdDev decimal.Decimal, absQty int64) (Levels, error) {
	stop := cfg.StopLoss.Resolve(stdDev, absQty)
	take := cfg.TakeProfit.Resolve(stdDev, absQty)
	if !stop.IsPositive() || !take.IsPositive() {
		return Levels{}, fmt.Errorf("stop %s take %s: %w", stop, take, types.ErrInvalidPrice)
	}

	switch side {
	case types.SideLong:
		return Levels{Lower: entrySpread.Sub(stop), Upper: entrySpread.Add(take)}, nil
	case types.SideShort:
		return Levels{Lower: entrySpread.Sub(take), Upper: entrySpread.Add(stop)}, nil
	default:
		return Levels{}, fmt.Errorf("levels for flat position: %w", types.ErrInvalidOrderSize)
	}
}

// WithStop moves the stop-side level to v. ok is false, and l is returned
// unchanged, when the move would invert the band.
func (l Levels) WithStop(side types.Side, v decimal.Decimal) (Levels, bool) {
	switch side {
	case types.SideLong:
		if !v.LessThan(l.Upper) {
			return l, false
		}
		l.Lower = v
	case types.SideShort:
		if !v.GreaterThan(l.Lower) {
			return l, false
		}
		l.Upper = v
	default:
		return l, false
	}
	return l, true
}

// WithTake moves the take-side level to v, refusing inversions.
func (l Levels) WithTake(side types.Side, v decimal.Decimal) (Levels, bool) {
	switch side {
	case types.SideLong:
		if !v.GreaterThan(l.Lower) {
			return l, false
		}
		l.Upper = v
	case types.SideShort:
		if !v.LessThan(l.Upper) {
			return l, false
		}
		l.Lower = v
	default:
		return l, false
	}
	return l, true
}

// Breach identifies which threshold, if any, the spread crossed.
type Breach int

const (
	BreachNone Breach = iota
	BreachStopLoss
	BreachTakeProfit
)

func (b Breach) String() string {
	switch b {
	case BreachStopLoss:
		return "stop-loss"
	case BreachTakeProfit:
		return "take-profit"
	default:
		return "none"
	}
}

// Deviation sentinels reported when the spread is outside the band.
var (
	DeviationBelow = decimal.NewFromInt(-99)
	DeviationAbove = decimal.NewFromInt(199)
)

var hundred = decimal.NewFromInt(100)

// Classification is the result of evaluating a spread against a band.
type Classification struct {
	Breach Breach
	// Deviation is the spread's position in the band, 0 at Lower and 100
	// at Upper, or a sentinel when breached.
	Deviation decimal.Decimal
}

// Classify evaluates spread against the band for a position on side.
//
//	long:  spread <= lower stop-loss (-99), spread > upper take-profit (199)
//	short: spread >= upper stop-loss (199), spread < lower take-profit (-99)
func Classify(side types.Side, spread decimal.Decimal, l Levels) Classification {
	switch side {
	case types.SideLong:
		if spread.LessThanOrEqual(l.Lower) {
			return Classification{Breach: BreachStopLoss, Deviation: DeviationBelow}
		}
		if spread.GreaterThan(l.Upper) {
			return Classification{Breach: BreachTakeProfit, Deviation: DeviationAbove}
		}
	case types.SideShort:
		if spread.GreaterThanOrEqual(l.Upper) {
			return Classification{Breach: BreachStopLoss, Deviation: DeviationAbove}
		}
		if spread.LessThan(l.Lower) {
			return Classification{Breach: BreachTakeProfit, Deviation: DeviationBelow}
		}
	default:
		return Classification{Breach: BreachNone}
	}

	// Lower < spread <= Upper (long) or Lower <= spread < Upper (short),
	// so the band has positive width here.
	dev := spread.Sub(l.Lower).Mul(hundred).Div(l.Upper.Sub(l.Lower))
	return Classification{Breach: BreachNone, Deviation: dev}
}
