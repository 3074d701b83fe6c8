package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testDefaults() Defaults {
	return Defaults{
		LotSize: map[string]int64{"NIFTY": 50},
		Now:     func() time.Time { return testNow },
		Loc:     time.UTC,
	}
}

func TestParseEntry(t *testing.T) {
	raw := "instrument=X,lotSize=100,primary=1,secondary=0,halfLife=20,state=2,zScore=2.1,mean=15.0,stdDev=0.9,qScore=1.0,spread=500"
	e := ParseEntry(raw, testDefaults())

	if e.Instrument != "X" {
		t.Errorf("Instrument = %q, want X", e.Instrument)
	}
	if e.LotSize != 100 {
		t.Errorf("LotSize = %d, want 100", e.LotSize)
	}
	if e.Primary != 1 || e.Secondary != 0 {
		t.Errorf("Primary/Secondary = %d/%d, want 1/0", e.Primary, e.Secondary)
	}
	if !e.ZScore.Equal(decimal.RequireFromString("2.1")) {
		t.Errorf("ZScore = %s, want 2.1", e.ZScore)
	}
	if !e.Spread.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Spread = %s, want 500", e.Spread)
	}
	if e.State != 2 {
		t.Errorf("State = %d, want 2", e.State)
	}
	if !e.Timestamp.Equal(testNow) {
		t.Errorf("missing timestamp should mean now, got %v", e.Timestamp)
	}
	if e.Quantity() != 100 {
		t.Errorf("Quantity() = %d, want 100", e.Quantity())
	}
}

func TestParseEntry_MalformedDefaults(t *testing.T) {
	raw := "instrument=NIFTY,lotSize=abc,primary=-3,zScore=oops,spread=,timestamp=yesterday,junk,extra=1"
	e := ParseEntry(raw, testDefaults())

	if e.LotSize != 50 {
		t.Errorf("LotSize = %d, want configured 50", e.LotSize)
	}
	if e.Primary != -1 {
		t.Errorf("Primary = %d, want -1", e.Primary)
	}
	if !e.ZScore.IsZero() || !e.Spread.IsZero() {
		t.Errorf("malformed numerics should be zero, got %s/%s", e.ZScore, e.Spread)
	}
	if !e.Timestamp.Equal(testNow) {
		t.Errorf("malformed timestamp should mean now, got %v", e.Timestamp)
	}
	if e.Quantity() != -50 {
		t.Errorf("Quantity() = %d, want -50", e.Quantity())
	}
}

func TestParseEntry_Timestamp(t *testing.T) {
	e := ParseEntry("instrument=X,timestamp=2026-03-02 09:57:30", testDefaults())
	want := time.Date(2026, 3, 2, 9, 57, 30, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, want)
	}
	if Stale(e.Timestamp, testNow) {
		t.Error("2.5 minute old signal should not be stale")
	}
	if !Stale(testNow.Add(-6*time.Minute), testNow) {
		t.Error("6 minute old signal should be stale")
	}
}

func TestEntry_EncodeParse(t *testing.T) {
	in := Entry{
		Instrument: "BANKNIFTY",
		LotSize:    15,
		Primary:    -1,
		Secondary:  1,
		HalfLife:   decimal.RequireFromString("12.5"),
		State:      3,
		ZScore:     decimal.RequireFromString("-2.4"),
		Mean:       decimal.RequireFromString("101.25"),
		StdDev:     decimal.RequireFromString("3.1"),
		QScore:     decimal.RequireFromString("0.7"),
		Spread:     decimal.RequireFromString("-250"),
		Timestamp:  time.Date(2026, 3, 2, 9, 59, 0, 0, time.UTC),
	}

	out := ParseEntry(in.Encode(time.UTC), testDefaults())
	if out.Instrument != in.Instrument || out.LotSize != in.LotSize || out.Primary != in.Primary {
		t.Errorf("identity fields differ: %+v", out)
	}
	if !out.ZScore.Equal(in.ZScore) || !out.Spread.Equal(in.Spread) || !out.HalfLife.Equal(in.HalfLife) {
		t.Errorf("numeric fields differ: %+v", out)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
}

func TestParseEOD(t *testing.T) {
	raw := "instrument=NIFTY,primary=-1,secondary=1,halfLife=8,return=0.012,spread=320"
	e := ParseEOD(raw, testDefaults())

	if e.LotSize != 50 {
		t.Errorf("LotSize = %d, want 50", e.LotSize)
	}
	if !e.Return.Equal(decimal.RequireFromString("0.012")) {
		t.Errorf("Return = %s, want 0.012", e.Return)
	}

	entry := e.AsEntry(-1, testNow)
	if entry.Quantity() != -50 {
		t.Errorf("AsEntry quantity = %d, want -50", entry.Quantity())
	}
	if !entry.Spread.Equal(e.Spread) || entry.Instrument != "NIFTY" {
		t.Errorf("AsEntry lost fields: %+v", entry)
	}
}

func TestParseIntervention(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantLevel Level
		wantAct   Action
		wantSlot  int
	}{
		{"trade", "level=trade,action=square-off,slot=3", LevelTrade, ActionSquareOff, 3},
		{"strategy", "level=strategy,action=set-max-spread,target=900", LevelStrategy, ActionSetMaxSpread, 0},
		{"inferred trade", "action=update-stop-loss,slot=7,target=8100", LevelTrade, ActionUpdateStopLoss, 7},
		{"inferred strategy", "action=square-off-all", LevelStrategy, ActionSquareOffAll, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := ParseIntervention(tt.raw, testDefaults())
			if i.Level != tt.wantLevel || i.Action != tt.wantAct || i.Slot != tt.wantSlot {
				t.Errorf("got %+v", i)
			}
		})
	}
}

func TestIntervention_TargetValue(t *testing.T) {
	i := ParseIntervention("action=update-take-profit,slot=2,target=12000.5", testDefaults())
	v, ok := i.TargetValue()
	if !ok || !v.Equal(decimal.RequireFromString("12000.5")) {
		t.Errorf("TargetValue() = %s, %v", v, ok)
	}

	i = ParseIntervention("action=update-take-profit,slot=2,target=abc", testDefaults())
	if _, ok := i.TargetValue(); ok {
		t.Error("malformed target should not parse")
	}
}

func TestIntervention_EncodeParse(t *testing.T) {
	in := Intervention{
		Level:     LevelTrade,
		Action:    ActionUpdateStopLoss,
		Slot:      4,
		Target:    "7500",
		Timestamp: testNow.Add(-time.Minute),
	}
	out := ParseIntervention(in.Encode(time.UTC), testDefaults())
	if out.Level != in.Level || out.Action != in.Action || out.Slot != in.Slot || out.Target != in.Target {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
}
