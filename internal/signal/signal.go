// Package signal decodes the trade signals and operator commands consumed
// from the coordination store queues.
//
// All signals share one wire form: comma separated key=value pairs. Unknown
// keys are ignored and malformed numerics fall back to neutral values so a
// single bad field never drops a signal.
package signal

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the wire layout of the optional timestamp key.
const TimestampLayout = "2006-01-02 15:04:05"

// MaxAge is the oldest signal or command still acted upon.
const MaxAge = 5 * time.Minute

// Entry is a request to open a position.
type Entry struct {
	Instrument string
	LotSize    int64
	Primary    int
	Secondary  int
	HalfLife   decimal.Decimal
	State      int
	ZScore     decimal.Decimal
	Mean       decimal.Decimal
	StdDev     decimal.Decimal
	QScore     decimal.Decimal
	Spread     decimal.Decimal
	Timestamp  time.Time
}

// Quantity returns the signed order quantity: lot size in the primary
// signal's direction.
func (e Entry) Quantity() int64 {
	return int64(e.Primary) * e.LotSize
}

// Encode renders the entry in wire form.
func (e Entry) Encode(loc *time.Location) string {
	return join([]kv{
		{"instrument", e.Instrument},
		{"lotSize", strconv.FormatInt(e.LotSize, 10)},
		{"primary", strconv.Itoa(e.Primary)},
		{"secondary", strconv.Itoa(e.Secondary)},
		{"halfLife", e.HalfLife.String()},
		{"state", strconv.Itoa(e.State)},
		{"zScore", e.ZScore.String()},
		{"mean", e.Mean.String()},
		{"stdDev", e.StdDev.String()},
		{"qScore", e.QScore.String()},
		{"spread", e.Spread.String()},
		{"timestamp", e.Timestamp.In(loc).Format(TimestampLayout)},
	})
}

// EOD is an end-of-day indicator update for an instrument.
type EOD struct {
	Instrument string
	LotSize    int64
	Primary    int
	Secondary  int
	HalfLife   decimal.Decimal
	State      int
	ZScore     decimal.Decimal
	Mean       decimal.Decimal
	Return     decimal.Decimal
	QScore     decimal.Decimal
	Spread     decimal.Decimal
	Timestamp  time.Time
}

// AsEntry converts the EOD signal into an entry signal in the given
// direction, stamped now.
func (e EOD) AsEntry(direction int, now time.Time) Entry {
	return Entry{
		Instrument: e.Instrument,
		LotSize:    e.LotSize,
		Primary:    direction,
		Secondary:  e.Secondary,
		HalfLife:   e.HalfLife,
		State:      e.State,
		ZScore:     e.ZScore,
		Mean:       e.Mean,
		QScore:     e.QScore,
		Spread:     e.Spread,
		Timestamp:  now,
	}
}

// Defaults supplies neutral values for fields the wire form omits.
type Defaults struct {
	// LotSize per instrument, used when lotSize is absent or malformed.
	LotSize map[string]int64
	Now     func() time.Time
	Loc     *time.Location
}

func (d Defaults) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Defaults) loc() *time.Location {
	if d.Loc != nil {
		return d.Loc
	}
	return time.Local
}

// ParseEntry decodes an entry signal.
func ParseEntry(raw string, d Defaults) Entry {
	f := fields(raw)
	e := Entry{
		Instrument: f["instrument"],
		Primary:    direction(f["primary"]),
		Secondary:  direction(f["secondary"]),
		HalfLife:   number(f["halfLife"]),
		State:      integer(f["state"]),
		ZScore:     number(f["zScore"]),
		Mean:       number(f["mean"]),
		StdDev:     number(f["stdDev"]),
		QScore:     number(f["qScore"]),
		Spread:     number(f["spread"]),
	}
	e.LotSize = lotSize(f["lotSize"], d.LotSize[e.Instrument])
	e.Timestamp = timestamp(f["timestamp"], d)
	return e
}

// ParseEOD decodes an end-of-day signal.
func ParseEOD(raw string, d Defaults) EOD {
	f := fields(raw)
	e := EOD{
		Instrument: f["instrument"],
		Primary:    direction(f["primary"]),
		Secondary:  direction(f["secondary"]),
		HalfLife:   number(f["halfLife"]),
		State:      integer(f["state"]),
		ZScore:     number(f["zScore"]),
		Mean:       number(f["mean"]),
		Return:     number(f["return"]),
		QScore:     number(f["qScore"]),
		Spread:     number(f["spread"]),
	}
	e.LotSize = lotSize(f["lotSize"], d.LotSize[e.Instrument])
	e.Timestamp = timestamp(f["timestamp"], d)
	return e
}

type kv struct{ k, v string }

func join(pairs []kv) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	return b.String()
}

func fields(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func number(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func integer(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// direction clamps to -1, 0 or 1.
func direction(s string) int {
	return number(s).Sign()
}

func lotSize(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func timestamp(s string, d Defaults) time.Time {
	if s == "" {
		return d.now()
	}
	t, err := time.ParseInLocation(TimestampLayout, s, d.loc())
	if err != nil {
		return d.now()
	}
	return t
}

// Stale reports whether a signal stamped ts is older than MaxAge at now.
func Stale(ts, now time.Time) bool {
	return now.Sub(ts) > MaxAge
}
