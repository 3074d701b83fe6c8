package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/types"
)

// DailyLimits bound the day's net P&L.
type DailyLimits struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	CostRate   decimal.Decimal
}

// Within reports whether pnl lies strictly inside (-StopLoss, +TakeProfit).
func (d DailyLimits) Within(pnl decimal.Decimal) bool {
	return pnl.GreaterThan(d.StopLoss.Neg()) && pnl.LessThan(d.TakeProfit)
}

// DailyPnL sums the net P&L of positions belonging to the day containing
// now: open positions entered that day, marked at their last spread, and
// closed positions exited that day. sameDay decides day membership.
func DailyPnL(open, closed []*position.Record, now time.Time, costRate decimal.Decimal, sameDay func(a, b time.Time) bool) decimal.Decimal {
	total := decimal.Zero

	for _, r := range open {
		if r.State < types.StateEntryFilled || !sameDay(r.EntryTime, now) {
			continue
		}
		if pnl, ok := r.NetPnL(costRate); ok {
			total = total.Add(pnl)
		}
	}

	for _, r := range closed {
		if r.ExitTime.IsZero() || !sameDay(r.ExitTime, now) {
			continue
		}
		if pnl, ok := r.NetPnL(costRate); ok {
			total = total.Add(pnl)
		}
	}

	return total
}
