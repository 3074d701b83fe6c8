package position

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/types"
)

var testLoc = time.FixedZone("IST", 5*3600+1800)

func sampleRecord() *Record {
	return &Record{
		EntryTime:       time.Date(2026, 3, 2, 10, 15, 0, 0, testLoc),
		Combo:           "NIFTY",
		Quantity:        -100,
		Contract:        broker.Contract{Symbol: "NIFTY", LotMultiplier: 50, SecType: "FUT"},
		EntryZScore:     decimal.RequireFromString("2.1"),
		EntryMean:       decimal.RequireFromString("15"),
		EntryHalfLife:   decimal.RequireFromString("20"),
		EntryStdDev:     decimal.RequireFromString("0.9"),
		EntryQuote:      Quote{Bid: decimal.RequireFromString("99.95"), Ask: decimal.RequireFromString("100.05")},
		RegressionSlope: decimal.RequireFromString("0.125"),
		State:           types.StateEntryFilled,
		EntrySpread:     Dec(decimal.RequireFromString("10000")),
		Expiry:          "20260326",
		EntryOrderIDs:   []int64{101, 102},
		LowerBreach:     Dec(decimal.RequireFromString("8000")),
		UpperBreach:     Dec(decimal.RequireFromString("12000")),
		LastSpread:      Dec(decimal.RequireFromString("10100.5")),
		LastUpdated:     time.Unix(1772426700, 0),
		Excursion:       Excursion{MFE: decimal.RequireFromString("150"), MAE: decimal.RequireFromString("-75.25")},
	}
}

func TestCodec_EncodeLayout(t *testing.T) {
	codec := NewCodec(testLoc)

	wire, err := codec.Encode(sampleRecord())
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	fields := strings.Split(wire, ",")
	if len(fields) != FieldCount {
		t.Fatalf("len(fields) = %d, want %d", len(fields), FieldCount)
	}

	want := map[int]string{
		0:  "2026-03-02 10:15:00",
		1:  "NIFTY",
		2:  "-100",
		3:  "NIFTY_50_FUT",
		4:  "2.10",
		8:  "99.95|100.05",
		9:  "0.125",
		10: "entry-filled",
		11: "10000.00",
		12: "20260326",
		13: "101|102",
		16: "10100.50",
		17: "1772426700",
		18: "",
		19: "",
		20: "",
		21: "",
		22: "150.00|-75.25",
	}
	for idx, v := range want {
		if fields[idx] != v {
			t.Errorf("field %d = %q, want %q", idx, fields[idx], v)
		}
	}
}

func TestCodec_RoundTripStable(t *testing.T) {
	codec := NewCodec(testLoc)

	records := []*Record{
		sampleRecord(),
		{Combo: "NIFTY", Quantity: 100, State: types.StateSlotBlocked},
		{},
	}

	closed := sampleRecord()
	closed.State = types.StateExitFilled
	closed.ExitSpread = Dec(decimal.RequireFromString("7900"))
	closed.ExitTime = time.Date(2026, 3, 2, 11, 0, 5, 0, testLoc)
	closed.ExitOrderIDs = []int64{140}
	closed.ExitQuote = Quote{Bid: decimal.RequireFromString("79"), Ask: decimal.RequireFromString("79.1")}
	records = append(records, closed)

	for i, r := range records {
		first, err := codec.Encode(r)
		if err != nil {
			t.Fatalf("record %d: failed to encode: %v", i, err)
		}
		decoded, err := codec.Decode(first)
		if err != nil {
			t.Fatalf("record %d: failed to decode %q: %v", i, first, err)
		}
		second, err := codec.Encode(decoded)
		if err != nil {
			t.Fatalf("record %d: failed to re-encode: %v", i, err)
		}
		if first != second {
			t.Errorf("record %d not stable:\n first  %s\n second %s", i, first, second)
		}
	}
}

func TestCodec_DecodeFields(t *testing.T) {
	codec := NewCodec(testLoc)
	wire, _ := codec.Encode(sampleRecord())

	r, err := codec.Decode(wire)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if r.Quantity != -100 || r.Side() != types.SideShort {
		t.Errorf("Quantity = %d, side %s", r.Quantity, r.Side())
	}
	if r.State != types.StateEntryFilled {
		t.Errorf("State = %s", r.State)
	}
	if !r.LowerBreach.Valid || !r.LowerBreach.Decimal.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("LowerBreach = %v", r.LowerBreach)
	}
	if r.ExitSpread.Valid {
		t.Error("ExitSpread should be unset")
	}
	if len(r.EntryOrderIDs) != 2 || r.EntryOrderIDs[1] != 102 {
		t.Errorf("EntryOrderIDs = %v", r.EntryOrderIDs)
	}
	if !r.Initialized() {
		t.Error("record with levels and last-updated should be initialized")
	}
	if !r.EntryTime.Equal(time.Date(2026, 3, 2, 10, 15, 0, 0, testLoc)) {
		t.Errorf("EntryTime = %v", r.EntryTime)
	}
}

func TestCodec_DecodeShortAndLong(t *testing.T) {
	codec := NewCodec(testLoc)

	r, err := codec.Decode("2026-03-02 10:15:00,NIFTY,100")
	if err != nil {
		t.Fatalf("short record should decode: %v", err)
	}
	if r.Combo != "NIFTY" || r.Quantity != 100 || r.State != types.StateUnknown {
		t.Errorf("unexpected record %+v", r)
	}

	long := strings.Repeat(",", FieldCount)
	if _, err := codec.Decode(long); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("expected ErrMalformedRecord for %d fields, got %v", FieldCount+1, err)
	}
}

func TestCodec_NegativeLastUpdatedIsUninitialized(t *testing.T) {
	codec := NewCodec(testLoc)
	fields := make([]string, FieldCount)
	fields[fieldLastUpdated] = "-1"
	fields[fieldLowerBreach] = "8000.00"
	fields[fieldUpperBreach] = "12000.00"

	r, err := codec.Decode(strings.Join(fields, ","))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !r.LastUpdated.IsZero() || r.Initialized() {
		t.Error("negative last-updated should decode as uninitialized")
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec := NewCodec(testLoc)

	tests := []struct {
		name  string
		field int
		value string
	}{
		{"bad time", fieldEntryTime, "yesterday"},
		{"bad quantity", fieldQuantity, "ten"},
		{"bad contract", fieldContract, "NIFTY"},
		{"bad number", fieldEntryZScore, "z"},
		{"bad state", fieldState, "done"},
		{"bad quote", fieldEntryQuote, "100"},
		{"bad ids", fieldEntryOrderIDs, "1|x"},
		{"bad spread", fieldEntrySpread, "lots"},
		{"bad last updated", fieldLastUpdated, "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := make([]string, FieldCount)
			fields[tt.field] = tt.value
			if _, err := codec.Decode(strings.Join(fields, ",")); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestCodec_EncodeRejectsSeparators(t *testing.T) {
	codec := NewCodec(nil)
	r := &Record{Combo: "A,B"}
	if _, err := codec.Encode(r); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100", "100.00"},
		{"1.5", "1.50"},
		{"1.25", "1.25"},
		{"-0.5", "-0.50"},
		{"0.125", "0.125"},
		{"1.2300", "1.23"},
		{"0", "0.00"},
	}

	for _, tt := range tests {
		got := FormatDecimal(decimal.RequireFromString(tt.in))
		if got != tt.want {
			t.Errorf("FormatDecimal(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
