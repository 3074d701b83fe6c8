// Package session models the venue's trading calendar: session hours,
// weekends, holidays and the trading-minute clock used to measure bars.
package session

import (
	"fmt"
	"time"

	"github.com/tathienbao/signal-executor/internal/types"
)

// BarMinutes is the number of trading minutes in one bar.
const BarMinutes = 10

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, types.ErrInvalidConfig)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustParseClock is ParseClock for literals.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// On returns the clock time on day's calendar date in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Before reports whether c is earlier in the day than o.
func (c Clock) Before(o Clock) bool {
	return c.Hour*60+c.Minute < o.Hour*60+o.Minute
}

// Config describes the trading calendar.
type Config struct {
	Location *time.Location
	Open     Clock
	Close    Clock
	// Holidays are YYYY-MM-DD dates with no session.
	Holidays []string
}

// Calendar answers trading-time questions.
type Calendar struct {
	loc      *time.Location
	open     Clock
	close    Clock
	holidays map[string]bool
}

// New creates a calendar.
func New(cfg Config) (*Calendar, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if !cfg.Open.Before(cfg.Close) {
		return nil, fmt.Errorf("session open %s not before close %s: %w", cfg.Open, cfg.Close, types.ErrInvalidConfig)
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, types.ErrInvalidConfig)
		}
		holidays[h] = true
	}

	return &Calendar{
		loc:      cfg.Location,
		open:     cfg.Open,
		close:    cfg.Close,
		holidays: holidays,
	}, nil
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether t's date has a session.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	d := t.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[d.Format("2006-01-02")]
}

// SessionBounds returns the open and close of t's date.
func (c *Calendar) SessionBounds(t time.Time) (time.Time, time.Time) {
	return c.open.On(t, c.loc), c.close.On(t, c.loc)
}

// InSession reports whether t falls within a trading session.
func (c *Calendar) InSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	open, closing := c.SessionBounds(t)
	return !t.Before(open) && t.Before(closing)
}

// Within reports whether t is on a trading day and inside [from, to).
func (c *Calendar) Within(t time.Time, from, to Clock) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return !t.Before(from.On(t, c.loc)) && t.Before(to.On(t, c.loc))
}

// TradingMinutes returns the trading time between from and to, counting
// only session hours on trading days. Returns zero when to is not after from.
func (c *Calendar) TradingMinutes(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}

	var total time.Duration
	day := from.In(c.loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	end := to.In(c.loc)

	for !day.After(end) {
		if c.IsTradingDay(day) {
			open, closing := c.SessionBounds(day)
			start := maxTime(open, from)
			stop := minTime(closing, to)
			if stop.After(start) {
				total += stop.Sub(start)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}

// ElapsedBars returns the number of whole bars of trading time between from
// and to. It never decreases as to advances.
func (c *Calendar) ElapsedBars(from, to time.Time) int {
	return int(c.TradingMinutes(from, to) / (BarMinutes * time.Minute))
}

// BarIndex returns the trading date and the bar number within that date's
// session for t. Times before the open map to bar 0; after the close to the
// last bar.
func (c *Calendar) BarIndex(t time.Time) (string, int) {
	d := t.In(c.loc)
	open, closing := c.SessionBounds(d)
	switch {
	case d.Before(open):
		d = open
	case !d.Before(closing):
		d = closing.Add(-time.Nanosecond)
	}
	return d.Format("2006-01-02"), int(d.Sub(open) / (BarMinutes * time.Minute))
}

// SameTradingDay reports whether a and b share a calendar date in the
// calendar's zone.
func (c *Calendar) SameTradingDay(a, b time.Time) bool {
	return a.In(c.loc).Format("2006-01-02") == b.In(c.loc).Format("2006-01-02")
}

// StartOfDay returns midnight of t's date.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	d := t.In(c.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
