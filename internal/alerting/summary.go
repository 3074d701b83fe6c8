package alerting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"
)

// DailySummary contains daily trading statistics for the summary report.
type DailySummary struct {
	Date          time.Time
	NetPL         decimal.Decimal
	BestTrade     decimal.Decimal
	WorstTrade    decimal.Decimal
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	OpenPositions int
}

// NewDailySummary summarizes the closed trades exited on date. P&L is net of
// the round-trip cost rate.
func NewDailySummary(
	date time.Time,
	closed []*position.Record,
	openPositions int,
	costRate decimal.Decimal,
	sameDay func(a, b time.Time) bool,
) DailySummary {
	s := DailySummary{Date: date, OpenPositions: openPositions}

	first := true
	for _, r := range closed {
		if r.ExitTime.IsZero() || !sameDay(r.ExitTime, date) {
			continue
		}
		pnl, ok := r.NetPnL(costRate)
		if !ok {
			continue
		}

		s.TotalTrades++
		s.NetPL = s.NetPL.Add(pnl)
		if pnl.IsPositive() {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		if first || pnl.GreaterThan(s.BestTrade) {
			s.BestTrade = pnl
		}
		if first || pnl.LessThan(s.WorstTrade) {
			s.WorstTrade = pnl
		}
		first = false
	}

	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}

// Fields returns the summary as alert fields.
func (s DailySummary) Fields() []any {
	return []any{
		"date", s.Date.Format("2006-01-02"),
		"net_pl", s.NetPL.StringFixed(2),
		"trades", s.TotalTrades,
		"wins", s.WinningTrades,
		"losses", s.LosingTrades,
		"win_rate", s.WinRate.StringFixed(1) + "%",
		"best", s.BestTrade.StringFixed(2),
		"worst", s.WorstTrade.StringFixed(2),
		"open_positions", s.OpenPositions,
	}
}

// Headline is a one-line description of the day.
func (s DailySummary) Headline() string {
	return fmt.Sprintf("Daily summary %s: %d trades, net %s",
		s.Date.Format("2006-01-02"), s.TotalTrades, s.NetPL.StringFixed(2))
}
