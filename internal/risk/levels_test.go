package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeLevels(t *testing.T) {
	tests := []struct {
		name      string
		cfg       LevelConfig
		side      types.Side
		entry     string
		stdDev    string
		qty       int64
		wantLower string
		wantUpper string
	}{
		{
			name:      "long fixed",
			cfg:       LevelConfig{StopLoss: Amount{ModeFixed, d("2000")}, TakeProfit: Amount{ModeFixed, d("3000")}},
			side:      types.SideLong,
			entry:     "10000",
			qty:       100,
			wantLower: "8000",
			wantUpper: "13000",
		},
		{
			name:      "short fixed",
			cfg:       LevelConfig{StopLoss: Amount{ModeFixed, d("2000")}, TakeProfit: Amount{ModeFixed, d("3000")}},
			side:      types.SideShort,
			entry:     "10000",
			qty:       100,
			wantLower: "7000",
			wantUpper: "12000",
		},
		{
			name:      "long stddev",
			cfg:       LevelConfig{StopLoss: Amount{ModeStdDev, d("2")}, TakeProfit: Amount{ModeStdDev, d("3")}},
			side:      types.SideLong,
			entry:     "10000",
			stdDev:    "0.9",
			qty:       100,
			wantLower: "9820",
			wantUpper: "10270",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			std := decimal.Zero
			if tt.stdDev != "" {
				std = d(tt.stdDev)
			}
			l, err := ComputeLevels(tt.cfg, tt.side, d(tt.entry), std, tt.qty)
			if err != nil {
				t.Fatalf("ComputeLevels() error = %v", err)
			}
			if !l.Lower.Equal(d(tt.wantLower)) || !l.Upper.Equal(d(tt.wantUpper)) {
				t.Errorf("levels = %s/%s, want %s/%s", l.Lower, l.Upper, tt.wantLower, tt.wantUpper)
			}
		})
	}
}

func TestComputeLevels_Invalid(t *testing.T) {
	cfg := LevelConfig{StopLoss: Amount{ModeStdDev, d("2")}, TakeProfit: Amount{ModeFixed, d("100")}}
	if _, err := ComputeLevels(cfg, types.SideLong, d("1000"), decimal.Zero, 10); err == nil {
		t.Error("zero std dev should yield a zero stop and fail")
	}
	cfg.StopLoss = Amount{ModeFixed, d("100")}
	if _, err := ComputeLevels(cfg, types.SideFlat, d("1000"), decimal.Zero, 10); err == nil {
		t.Error("flat side should fail")
	}
}

func TestClassify(t *testing.T) {
	band := Levels{Lower: d("8000"), Upper: d("13000")}

	tests := []struct {
		name       string
		side       types.Side
		spread     string
		wantBreach Breach
		wantDev    string
	}{
		{"long stop below", types.SideLong, "7900", BreachStopLoss, "-99"},
		{"long stop at lower", types.SideLong, "8000", BreachStopLoss, "-99"},
		{"long inside", types.SideLong, "10500", BreachNone, "50"},
		{"long at upper", types.SideLong, "13000", BreachNone, "100"},
		{"long take above", types.SideLong, "13001", BreachTakeProfit, "199"},
		{"short stop at upper", types.SideShort, "13000", BreachStopLoss, "199"},
		{"short stop above", types.SideShort, "14000", BreachStopLoss, "199"},
		{"short at lower", types.SideShort, "8000", BreachNone, "0"},
		{"short take below", types.SideShort, "7999", BreachTakeProfit, "-99"},
		{"short inside", types.SideShort, "9000", BreachNone, "20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.side, d(tt.spread), band)
			if c.Breach != tt.wantBreach {
				t.Errorf("Breach = %s, want %s", c.Breach, tt.wantBreach)
			}
			if !c.Deviation.Equal(d(tt.wantDev)) {
				t.Errorf("Deviation = %s, want %s", c.Deviation, tt.wantDev)
			}
		})
	}
}

func TestClassify_StopLossScenario(t *testing.T) {
	cfg := LevelConfig{StopLoss: Amount{ModeFixed, d("2000")}, TakeProfit: Amount{ModeFixed, d("2000")}}
	l, err := ComputeLevels(cfg, types.SideLong, d("10000"), decimal.Zero, 100)
	if err != nil {
		t.Fatalf("ComputeLevels() error = %v", err)
	}
	if !l.Lower.Equal(d("8000")) {
		t.Fatalf("Lower = %s, want 8000", l.Lower)
	}

	c := Classify(types.SideLong, d("7900"), l)
	if c.Breach != BreachStopLoss || !c.Deviation.Equal(DeviationBelow) {
		t.Errorf("got %s/%s, want stop-loss/-99", c.Breach, c.Deviation)
	}
}

func TestLevels_WithStopWithTake(t *testing.T) {
	band := Levels{Lower: d("8000"), Upper: d("13000")}

	if l, ok := band.WithStop(types.SideLong, d("9000")); !ok || !l.Lower.Equal(d("9000")) {
		t.Errorf("long WithStop = %+v, %v", l, ok)
	}
	if _, ok := band.WithStop(types.SideLong, d("13000")); ok {
		t.Error("long stop at upper should be refused")
	}
	if l, ok := band.WithStop(types.SideShort, d("12000")); !ok || !l.Upper.Equal(d("12000")) {
		t.Errorf("short WithStop = %+v, %v", l, ok)
	}
	if _, ok := band.WithStop(types.SideShort, d("7000")); ok {
		t.Error("short stop below lower should be refused")
	}

	if l, ok := band.WithTake(types.SideLong, d("15000")); !ok || !l.Upper.Equal(d("15000")) {
		t.Errorf("long WithTake = %+v, %v", l, ok)
	}
	if l, ok := band.WithTake(types.SideShort, d("6000")); !ok || !l.Lower.Equal(d("6000")) {
		t.Errorf("short WithTake = %+v, %v", l, ok)
	}
	if l, ok := band.WithTake(types.SideShort, d("14000")); ok || !l.Lower.Equal(band.Lower) {
		t.Errorf("short take above upper should be refused, got %+v", l)
	}
}
