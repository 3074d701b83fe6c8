package position

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

func TestRecord_Advance(t *testing.T) {
	r := &Record{State: types.StateSlotBlocked}

	steps := []types.OrderState{
		types.StateEntryInitiated,
		types.StateEntryFilled,
		types.StateExitInitiated,
		types.StateExitSentToExchange,
		types.StateExitFilled,
	}
	for _, next := range steps {
		if err := r.Advance(next); err != nil {
			t.Fatalf("failed to advance to %s: %v", next, err)
		}
	}

	if err := r.Advance(types.StateEntryFilled); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from terminal state, got %v", err)
	}
}

func TestRecord_AdvanceRejectsSkip(t *testing.T) {
	r := &Record{State: types.StateEntryFilled}
	if err := r.Advance(types.StateExitFilled); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if r.State != types.StateEntryFilled {
		t.Errorf("state changed on failed advance: %s", r.State)
	}
}

func TestRecord_Normalize(t *testing.T) {
	r := &Record{
		EntryZScore: decimal.RequireFromString("2.1234"),
		EntrySpread: Dec(decimal.RequireFromString("10000.456")),
		EntryQuote:  Quote{Bid: decimal.RequireFromString("99.951"), Ask: decimal.RequireFromString("100.049")},
	}
	r.Normalize()

	if !r.EntryZScore.Equal(decimal.RequireFromString("2.12")) {
		t.Errorf("EntryZScore = %s, want 2.12", r.EntryZScore)
	}
	if !r.EntrySpread.Decimal.Equal(decimal.RequireFromString("10000.46")) {
		t.Errorf("EntrySpread = %s, want 10000.46", r.EntrySpread.Decimal)
	}
	if r.LowerBreach.Valid {
		t.Error("unset fields must stay unset")
	}
	if FormatDecimal(r.EntryQuote.Bid) != "99.95" {
		t.Errorf("Bid = %s", FormatDecimal(r.EntryQuote.Bid))
	}
}

func TestRecord_ReferenceTime(t *testing.T) {
	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := &Record{EntryTime: entry}
	if !r.ReferenceTime().Equal(entry) {
		t.Error("entry time should be the fallback reference")
	}

	exit := entry.Add(time.Hour)
	r.ExitTime = exit
	if !r.ReferenceTime().Equal(exit) {
		t.Error("exit time should win over entry time")
	}

	updated := entry.Add(30 * time.Minute)
	r.LastUpdated = updated
	if !r.ReferenceTime().Equal(updated) {
		t.Error("last updated should win")
	}
}

func TestRecord_NetPnL(t *testing.T) {
	cost := decimal.RequireFromString("0.001")

	tests := []struct {
		name     string
		quantity int64
		entry    string
		exit     string
		last     string
		want     string
		ok       bool
	}{
		{"long profit", 100, "10000", "10500", "", "479.5", true},
		{"short profit", -100, "10000", "9500", "", "480.5", true},
		{"long marked on last", 100, "10000", "", "9900", "-119.9", true},
		{"no mark", 100, "10000", "", "", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{Quantity: tt.quantity, EntrySpread: Dec(decimal.RequireFromString(tt.entry))}
			if tt.exit != "" {
				r.ExitSpread = Dec(decimal.RequireFromString(tt.exit))
			}
			if tt.last != "" {
				r.LastSpread = Dec(decimal.RequireFromString(tt.last))
			}

			got, ok := r.NetPnL(cost)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("NetPnL() = %s, want %s", got, tt.want)
			}
		})
	}
}
