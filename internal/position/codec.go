package position

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/types"
)

// CodecVersion identifies the positional layout below. Bump it when fields
// are added, and teach Decode the old layout.
const CodecVersion = 1

// FieldCount is the number of positional fields in a record.
const FieldCount = 23

const timeLayout = "2006-01-02 15:04:05"

// Positional field indexes.
const (
	fieldEntryTime = iota
	fieldCombo
	fieldQuantity
	fieldContract
	fieldEntryZScore
	fieldEntryMean
	fieldEntryHalfLife
	fieldEntryStdDev
	fieldEntryQuote
	fieldRegressionSlope
	fieldState
	fieldEntrySpread
	fieldExpiry
	fieldEntryOrderIDs
	fieldLowerBreach
	fieldUpperBreach
	fieldLastSpread
	fieldLastUpdated
	fieldExitSpread
	fieldExitTime
	fieldExitOrderIDs
	fieldExitQuote
	fieldExcursion
)

// ErrMalformedRecord is returned when a wire record cannot be decoded.
var ErrMalformedRecord = errors.New("malformed position record")

// Codec converts records to and from the comma separated wire form.
type Codec struct {
	loc *time.Location
}

// NewCodec creates a codec rendering wall-clock timestamps in loc.
func NewCodec(loc *time.Location) Codec {
	if loc == nil {
		loc = time.UTC
	}
	return Codec{loc: loc}
}

// Encode renders r as 23 comma separated fields. Unset fields are empty.
func (c Codec) Encode(r *Record) (string, error) {
	if strings.ContainsAny(r.Combo, ",|") {
		return "", fmt.Errorf("encode combo %q: %w", r.Combo, ErrMalformedRecord)
	}
	if strings.ContainsAny(r.Expiry, ",|") {
		return "", fmt.Errorf("encode expiry %q: %w", r.Expiry, ErrMalformedRecord)
	}

	f := make([]string, FieldCount)
	f[fieldEntryTime] = c.formatTime(r.EntryTime)
	f[fieldCombo] = r.Combo
	if r.Quantity != 0 {
		f[fieldQuantity] = strconv.FormatInt(r.Quantity, 10)
	}
	if r.Contract.Symbol != "" {
		f[fieldContract] = r.Contract.String()
	}
	f[fieldEntryZScore] = FormatDecimal(r.EntryZScore)
	f[fieldEntryMean] = FormatDecimal(r.EntryMean)
	f[fieldEntryHalfLife] = FormatDecimal(r.EntryHalfLife)
	f[fieldEntryStdDev] = FormatDecimal(r.EntryStdDev)
	f[fieldEntryQuote] = formatPair(r.EntryQuote.Bid, r.EntryQuote.Ask, r.EntryQuote.IsZero())
	f[fieldRegressionSlope] = FormatDecimal(r.RegressionSlope)
	if r.State != types.StateUnknown {
		f[fieldState] = r.State.String()
	}
	f[fieldEntrySpread] = formatNull(r.EntrySpread)
	f[fieldExpiry] = r.Expiry
	f[fieldEntryOrderIDs] = formatIDs(r.EntryOrderIDs)
	f[fieldLowerBreach] = formatNull(r.LowerBreach)
	f[fieldUpperBreach] = formatNull(r.UpperBreach)
	f[fieldLastSpread] = formatNull(r.LastSpread)
	if !r.LastUpdated.IsZero() {
		f[fieldLastUpdated] = strconv.FormatInt(r.LastUpdated.Unix(), 10)
	}
	f[fieldExitSpread] = formatNull(r.ExitSpread)
	f[fieldExitTime] = c.formatTime(r.ExitTime)
	f[fieldExitOrderIDs] = formatIDs(r.ExitOrderIDs)
	f[fieldExitQuote] = formatPair(r.ExitQuote.Bid, r.ExitQuote.Ask, r.ExitQuote.IsZero())
	f[fieldExcursion] = formatPair(r.Excursion.MFE, r.Excursion.MAE, r.Excursion.IsZero())

	return strings.Join(f, ","), nil
}

// Decode parses the wire form. Missing trailing fields decode as unset;
// more than FieldCount fields is an error.
func (c Codec) Decode(s string) (*Record, error) {
	f := strings.Split(s, ",")
	if len(f) > FieldCount {
		return nil, fmt.Errorf("decode: %d fields: %w", len(f), ErrMalformedRecord)
	}
	for len(f) < FieldCount {
		f = append(f, "")
	}

	r := &Record{
		Combo:  f[fieldCombo],
		Expiry: f[fieldExpiry],
	}

	var err error

	if r.EntryTime, err = c.parseTime(f[fieldEntryTime]); err != nil {
		return nil, malformed(fieldEntryTime, err)
	}
	if f[fieldQuantity] != "" {
		if r.Quantity, err = strconv.ParseInt(f[fieldQuantity], 10, 64); err != nil {
			return nil, malformed(fieldQuantity, err)
		}
	}
	if f[fieldContract] != "" {
		if r.Contract, err = broker.ParseContract(f[fieldContract]); err != nil {
			return nil, malformed(fieldContract, err)
		}
	}

	numbers := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{fieldEntryZScore, &r.EntryZScore},
		{fieldEntryMean, &r.EntryMean},
		{fieldEntryHalfLife, &r.EntryHalfLife},
		{fieldEntryStdDev, &r.EntryStdDev},
		{fieldRegressionSlope, &r.RegressionSlope},
	}
	for _, n := range numbers {
		if *n.dst, err = parseDecimal(f[n.idx]); err != nil {
			return nil, malformed(n.idx, err)
		}
	}

	nulls := []struct {
		idx int
		dst *decimal.NullDecimal
	}{
		{fieldEntrySpread, &r.EntrySpread},
		{fieldLowerBreach, &r.LowerBreach},
		{fieldUpperBreach, &r.UpperBreach},
		{fieldLastSpread, &r.LastSpread},
		{fieldExitSpread, &r.ExitSpread},
	}
	for _, n := range nulls {
		if *n.dst, err = parseNull(f[n.idx]); err != nil {
			return nil, malformed(n.idx, err)
		}
	}

	if r.EntryQuote.Bid, r.EntryQuote.Ask, err = parsePair(f[fieldEntryQuote]); err != nil {
		return nil, malformed(fieldEntryQuote, err)
	}
	if r.ExitQuote.Bid, r.ExitQuote.Ask, err = parsePair(f[fieldExitQuote]); err != nil {
		return nil, malformed(fieldExitQuote, err)
	}
	if r.Excursion.MFE, r.Excursion.MAE, err = parsePair(f[fieldExcursion]); err != nil {
		return nil, malformed(fieldExcursion, err)
	}

	if f[fieldState] != "" {
		if r.State, err = types.ParseOrderState(f[fieldState]); err != nil {
			return nil, malformed(fieldState, err)
		}
	}

	if r.EntryOrderIDs, err = parseIDs(f[fieldEntryOrderIDs]); err != nil {
		return nil, malformed(fieldEntryOrderIDs, err)
	}
	if r.ExitOrderIDs, err = parseIDs(f[fieldExitOrderIDs]); err != nil {
		return nil, malformed(fieldExitOrderIDs, err)
	}

	if f[fieldLastUpdated] != "" {
		secs, err := strconv.ParseInt(f[fieldLastUpdated], 10, 64)
		if err != nil {
			return nil, malformed(fieldLastUpdated, err)
		}
		// Negative means "not initialized".
		if secs > 0 {
			r.LastUpdated = time.Unix(secs, 0).In(c.loc)
		}
	}

	if r.ExitTime, err = c.parseTime(f[fieldExitTime]); err != nil {
		return nil, malformed(fieldExitTime, err)
	}

	return r, nil
}

func malformed(field int, err error) error {
	return fmt.Errorf("decode field %d: %v: %w", field, err, ErrMalformedRecord)
}

func (c Codec) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(c.loc).Format(timeLayout)
}

func (c Codec) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(timeLayout, s, c.loc)
}

// FormatDecimal prints d with exactly two decimals unless it carries more
// precision than that, in which case the shortest exact form is used.
func FormatDecimal(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return FormatDecimal(d.Decimal)
}

func formatPair(a, b decimal.Decimal, unset bool) string {
	if unset {
		return ""
	}
	return FormatDecimal(a) + "|" + FormatDecimal(b)
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "|")
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseNull(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return Dec(d), nil
}

func parsePair(s string) (decimal.Decimal, decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, decimal.Zero, nil
	}
	a, b, ok := strings.Cut(s, "|")
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("pair %q missing separator", s)
	}
	x, err := decimal.NewFromString(a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	y, err := decimal.NewFromString(b)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return x, y, nil
}

func parseIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "|")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
