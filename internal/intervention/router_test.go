package intervention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

var testNow = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

type routerHarness struct {
	router   *Router
	flags    *FlagTable
	book     *store.Book
	tunables *store.Tunables
	alerter  *alerting.MockAlerter
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	st := store.NewMemory()
	keys := store.Keys{Prefix: "test"}
	book := store.NewBook(st, keys, position.NewCodec(time.UTC), nil)
	tunables := store.NewTunables(st, keys, store.TunableSet{MaxPositions: 8, MaxSpread: decimal.NewFromInt(1000)})
	flags := NewFlagTable()
	alerter := alerting.NewMockAlerter()
	notifier := alerting.NewNotifier(alerter, func(string) bool { return true }, nil)

	ctx := context.Background()
	for slot, state := range map[int]types.OrderState{
		1: types.StateEntryFilled,
		2: types.StateEntryFilled,
		3: types.StateEntryInitiated,
	} {
		rec := &position.Record{
			Combo:    "NIFTY",
			Quantity: 50,
			Contract: broker.Contract{Symbol: "NIFTY", LotMultiplier: 1, SecType: "FUT"},
			State:    state,
		}
		if err := book.Put(ctx, slot, rec); err != nil {
			t.Fatal(err)
		}
	}

	router := NewRouter(book, flags, tunables, notifier, signal.Defaults{
		Now: func() time.Time { return testNow },
		Loc: time.UTC,
	}, time.Second, nil)

	return &routerHarness{router: router, flags: flags, book: book, tunables: tunables, alerter: alerter}
}

func cmd(level signal.Level, action signal.Action, slot int, target string) signal.Intervention {
	return signal.Intervention{
		Level:     level,
		Action:    action,
		Slot:      slot,
		Target:    target,
		Timestamp: testNow.Add(-time.Minute),
	}
}

func TestRouter_TradeCommands(t *testing.T) {
	tests := []struct {
		name    string
		cmd     signal.Intervention
		wantErr error
		check   func(t *testing.T, f Flags)
	}{
		{
			name:  "square off",
			cmd:   cmd(signal.LevelTrade, signal.ActionSquareOff, 1, ""),
			check: func(t *testing.T, f Flags) { assertTrue(t, f.SquareOff, "SquareOff") },
		},
		{
			name:  "stop monitor",
			cmd:   cmd(signal.LevelTrade, signal.ActionStopMonitor, 1, ""),
			check: func(t *testing.T, f Flags) { assertTrue(t, f.Stop, "Stop") },
		},
		{
			name: "update stop loss",
			cmd:  cmd(signal.LevelTrade, signal.ActionUpdateStopLoss, 1, "4750.5"),
			check: func(t *testing.T, f Flags) {
				assertTrue(t, f.UpdateStopLoss, "UpdateStopLoss")
				assertTrue(t, f.StopLossTarget.Equal(decimal.RequireFromString("4750.5")), "StopLossTarget")
			},
		},
		{
			name: "update take profit",
			cmd:  cmd(signal.LevelTrade, signal.ActionUpdateTakeProfit, 1, "5300"),
			check: func(t *testing.T, f Flags) {
				assertTrue(t, f.UpdateTakeProfit, "UpdateTakeProfit")
			},
		},
		{
			name:    "malformed target",
			cmd:     cmd(signal.LevelTrade, signal.ActionUpdateStopLoss, 1, "abc"),
			wantErr: ErrInvalidTarget,
		},
		{
			name: "stale command",
			cmd: func() signal.Intervention {
				c := cmd(signal.LevelTrade, signal.ActionSquareOff, 1, "")
				c.Timestamp = testNow.Add(-6 * time.Minute)
				return c
			}(),
			wantErr: ErrStaleCommand,
		},
		{
			name:    "free slot",
			cmd:     cmd(signal.LevelTrade, signal.ActionSquareOff, 9, ""),
			wantErr: ErrSlotNotOpen,
		},
		{
			name:    "entry not filled",
			cmd:     cmd(signal.LevelTrade, signal.ActionSquareOff, 3, ""),
			wantErr: ErrSlotNotOpen,
		},
		{
			name:    "unknown action",
			cmd:     cmd(signal.LevelTrade, "double-down", 1, ""),
			wantErr: ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouterHarness(t)
			err := h.router.Apply(context.Background(), tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
				}
				if h.flags.Get(tt.cmd.Slot).Any() {
					t.Error("flags raised by ignored command")
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			tt.check(t, h.flags.Get(tt.cmd.Slot))
			if h.flags.Get(2).Any() {
				t.Error("command leaked to another slot")
			}
		})
	}
}

func TestRouter_SquareOffAll(t *testing.T) {
	h := newRouterHarness(t)

	if err := h.router.Apply(context.Background(), cmd(signal.LevelStrategy, signal.ActionSquareOffAll, 0, "")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	for _, slot := range []int{1, 2} {
		if !h.flags.Get(slot).SquareOff {
			t.Errorf("slot %d not squared off", slot)
		}
	}
	if h.flags.Get(3).SquareOff {
		t.Error("unfilled entry flagged")
	}
	if !h.alerter.HasEvent(alerting.EventSquareOffAll) {
		t.Error("square off all not alerted")
	}
}

func TestRouter_SetTunables(t *testing.T) {
	h := newRouterHarness(t)
	ctx := context.Background()

	if err := h.router.Apply(ctx, cmd(signal.LevelStrategy, signal.ActionSetMaxPositions, 0, "3")); err != nil {
		t.Fatalf("Apply(set-max-positions) error = %v", err)
	}
	if err := h.router.Apply(ctx, cmd(signal.LevelStrategy, signal.ActionSetMaxSpread, 0, "2500.5")); err != nil {
		t.Fatalf("Apply(set-max-spread) error = %v", err)
	}

	snap := h.tunables.Snapshot(ctx)
	if snap.MaxPositions != 3 {
		t.Errorf("MaxPositions = %d, want 3", snap.MaxPositions)
	}
	if !snap.MaxSpread.Equal(decimal.RequireFromString("2500.5")) {
		t.Errorf("MaxSpread = %s, want 2500.5", snap.MaxSpread)
	}

	for _, target := range []string{"-1", "x", ""} {
		err := h.router.Apply(ctx, cmd(signal.LevelStrategy, signal.ActionSetMinZScore, 0, target))
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("Apply(target %q) error = %v, want ErrInvalidTarget", target, err)
		}
	}
}

func TestRouter_HandleRaw(t *testing.T) {
	h := newRouterHarness(t)

	raw := cmd(signal.LevelTrade, signal.ActionSquareOff, 2, "").Encode(time.UTC)
	if err := h.router.Handle(context.Background(), raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !h.flags.Get(2).SquareOff {
		t.Error("slot 2 not squared off")
	}
}

func TestRouter_RunConsumesQueue(t *testing.T) {
	h := newRouterHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := cmd(signal.LevelTrade, signal.ActionStopMonitor, 1, "").Encode(time.UTC)
	if err := h.book.Store().RPush(ctx, h.book.Keys().ManualSignals(), raw); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !h.flags.Get(1).Stop {
		select {
		case <-deadline:
			t.Fatal("command not applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func assertTrue(t *testing.T, ok bool, what string) {
	t.Helper()
	if !ok {
		t.Errorf("%s not set", what)
	}
}
