package admission

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
)

// RejectReason names the check that refused a signal.
type RejectReason string

// Reject reasons.
const (
	ReasonNone              RejectReason = ""
	ReasonOutsideWindow     RejectReason = "outside-window"
	ReasonStale             RejectReason = "stale"
	ReasonSpread            RejectReason = "spread"
	ReasonZScore            RejectReason = "zscore"
	ReasonHalfLife          RejectReason = "half-life"
	ReasonCapacity          RejectReason = "capacity"
	ReasonDuplicate         RejectReason = "duplicate"
	ReasonMoratorium        RejectReason = "moratorium"
	ReasonBlacklisted       RejectReason = "blacklisted"
	ReasonUnknownInstrument RejectReason = "unknown-instrument"
	ReasonNoDirection       RejectReason = "no-direction"
	ReasonSideDisabled      RejectReason = "side-disabled"
	ReasonDailyLimit        RejectReason = "daily-limit"
	ReasonDailyEntries      RejectReason = "daily-entries"
	ReasonNoFreeSlot        RejectReason = "no-free-slot"
	ReasonNoLevels          RejectReason = "no-levels"
	ReasonStore             RejectReason = "store-unavailable"
)

// Rules are the static admission settings.
type Rules struct {
	EntryStart       session.Clock
	EntryEnd         session.Clock
	MaxAge           time.Duration
	MaxEntriesPerDay int
	AllowDuplicates  bool
	AllowLong        bool
	AllowShort       bool
	Blacklist        []string
	MoratoriumBars   int
	Limits           risk.DailyLimits
	// Levels, when set, must resolve to a positive stop and take for the
	// signal's std dev.
	Levels risk.LevelConfig
}

// view is the state every check reads. Checks never touch the store.
type view struct {
	rules    Rules
	cal      *session.Calendar
	now      time.Time
	tunables store.TunableSet
	open     map[int]*position.Record
	// occupied holds every slot in the open hash, undecodable ones included.
	occupied map[int]bool
	closed   []*position.Record
	known    func(instrument string) bool
	symbol   func(instrument string) string
}

type check func(v *view, sig signal.Entry) RejectReason

// checks run in order; the first rejection wins.
var checks = []check{
	checkTimestamp,
	checkSpread,
	checkSignalBounds,
	checkCapacity,
	checkMoratorium,
	checkBlacklist,
	checkSide,
	checkDailyPnL,
	checkLevels,
}

func evaluate(v *view, sig signal.Entry) RejectReason {
	for _, c := range checks {
		if r := c(v, sig); r != ReasonNone {
			return r
		}
	}
	return ReasonNone
}

func checkTimestamp(v *view, sig signal.Entry) RejectReason {
	if !v.cal.IsTradingDay(v.now) || !v.cal.Within(v.now, v.rules.EntryStart, v.rules.EntryEnd) {
		return ReasonOutsideWindow
	}
	maxAge := v.rules.MaxAge
	if maxAge <= 0 {
		maxAge = signal.MaxAge
	}
	if v.now.Sub(sig.Timestamp) > maxAge {
		return ReasonStale
	}
	return ReasonNone
}

func checkSpread(v *view, sig signal.Entry) RejectReason {
	if sig.Spread.Abs().GreaterThan(v.tunables.MaxSpread) {
		return ReasonSpread
	}
	return ReasonNone
}

func checkSignalBounds(v *view, sig signal.Entry) RejectReason {
	z := sig.ZScore.Abs()
	if z.LessThan(v.tunables.MinZScore) || z.GreaterThan(v.tunables.MaxZScore) {
		return ReasonZScore
	}
	if sig.HalfLife.LessThan(v.tunables.MinHalfLife) || sig.HalfLife.GreaterThan(v.tunables.MaxHalfLife) {
		return ReasonHalfLife
	}
	return ReasonNone
}

// checkCapacity counts every occupied slot, placeholders and unreadable
// records included.
func checkCapacity(v *view, sig signal.Entry) RejectReason {
	if max(len(v.open), len(v.occupied)) >= v.tunables.MaxPositions {
		return ReasonCapacity
	}
	if v.rules.AllowDuplicates {
		return ReasonNone
	}
	leg := ""
	if v.symbol != nil {
		leg = v.symbol(sig.Instrument)
	}
	for _, r := range v.open {
		if r.Combo == sig.Instrument {
			return ReasonDuplicate
		}
		if leg != "" && r.Contract.Symbol == leg {
			return ReasonDuplicate
		}
	}
	return ReasonNone
}

func checkMoratorium(v *view, sig signal.Entry) RejectReason {
	if v.rules.MoratoriumBars <= 0 {
		return ReasonNone
	}
	var last time.Time
	for _, r := range v.closed {
		if r.Combo == sig.Instrument && r.ExitTime.After(last) {
			last = r.ExitTime
		}
	}
	if last.IsZero() {
		return ReasonNone
	}
	if v.cal.ElapsedBars(last, v.now) < v.rules.MoratoriumBars {
		return ReasonMoratorium
	}
	return ReasonNone
}

func checkBlacklist(v *view, sig signal.Entry) RejectReason {
	if slices.Contains(v.rules.Blacklist, sig.Instrument) {
		return ReasonBlacklisted
	}
	if v.known != nil && !v.known(sig.Instrument) {
		return ReasonUnknownInstrument
	}
	return ReasonNone
}

func checkSide(v *view, sig signal.Entry) RejectReason {
	switch {
	case sig.Primary == 0:
		return ReasonNoDirection
	case sig.Primary > 0 && !v.rules.AllowLong:
		return ReasonSideDisabled
	case sig.Primary < 0 && !v.rules.AllowShort:
		return ReasonSideDisabled
	}
	return ReasonNone
}

func checkDailyPnL(v *view, _ signal.Entry) RejectReason {
	if !v.rules.Limits.Within(dailyPnL(v)) {
		return ReasonDailyLimit
	}
	return ReasonNone
}

// checkLevels refuses signals whose std dev cannot place a stop and a target.
func checkLevels(v *view, sig signal.Entry) RejectReason {
	lv := v.rules.Levels
	if lv.StopLoss.Mode == "" && lv.TakeProfit.Mode == "" {
		return ReasonNone
	}
	qty := sig.Quantity()
	if qty < 0 {
		qty = -qty
	}
	if !lv.StopLoss.Resolve(sig.StdDev, qty).IsPositive() || !lv.TakeProfit.Resolve(sig.StdDev, qty).IsPositive() {
		return ReasonNoLevels
	}
	return ReasonNone
}

func dailyPnL(v *view) decimal.Decimal {
	open := make([]*position.Record, 0, len(v.open))
	for _, r := range v.open {
		open = append(open, r)
	}
	return risk.DailyPnL(open, v.closed, v.now, v.rules.Limits.CostRate, v.cal.SameTradingDay)
}
