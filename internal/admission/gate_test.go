package admission

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/execution"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// Monday 2026-03-02 10:00 IST.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, ist)

func testCalendar(t *testing.T) *session.Calendar {
	t.Helper()
	cal, err := session.New(session.Config{
		Location: ist,
		Open:     session.MustParseClock("09:15"),
		Close:    session.MustParseClock("15:30"),
	})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return cal
}

func testRules() Rules {
	return Rules{
		EntryStart:       session.MustParseClock("09:30"),
		EntryEnd:         session.MustParseClock("15:00"),
		MaxAge:           5 * time.Minute,
		MaxEntriesPerDay: 10,
		AllowLong:        true,
		AllowShort:       true,
		MoratoriumBars:   3,
		Limits: risk.DailyLimits{
			StopLoss:   decimal.NewFromInt(5000),
			TakeProfit: decimal.NewFromInt(10000),
		},
	}
}

func testTunables() store.TunableSet {
	return store.TunableSet{
		MaxPositions: 3,
		MinZScore:    decimal.NewFromInt(1),
		MaxZScore:    decimal.NewFromInt(4),
		MinHalfLife:  decimal.NewFromInt(5),
		MaxHalfLife:  decimal.NewFromInt(100),
		MaxSpread:    decimal.NewFromInt(50000),
	}
}

func testSignal(instrument string, primary int) signal.Entry {
	return signal.Entry{
		Instrument: instrument,
		LotSize:    50,
		Primary:    primary,
		HalfLife:   decimal.NewFromInt(20),
		ZScore:     decimal.NewFromFloat(-2.5),
		Mean:       decimal.NewFromInt(100),
		StdDev:     decimal.NewFromInt(3),
		Spread:     decimal.NewFromInt(5000),
		Timestamp:  testNow.Add(-time.Minute),
	}
}

func filled(combo string, qty int64, entry, last float64, entered time.Time) *position.Record {
	return &position.Record{
		EntryTime:   entered,
		Combo:       combo,
		Quantity:    qty,
		Contract:    broker.Contract{Symbol: combo, LotMultiplier: 1, SecType: "FUT"},
		State:       types.StateEntryFilled,
		EntrySpread: position.Dec(decimal.NewFromFloat(entry)),
		LastSpread:  position.Dec(decimal.NewFromFloat(last)),
	}
}

func closedAt(combo string, exit time.Time) *position.Record {
	r := filled(combo, 50, 5000, 5000, exit.Add(-time.Hour))
	r.State = types.StateExitFilled
	r.ExitSpread = r.LastSpread
	r.ExitTime = exit
	return r
}

func TestChecks(t *testing.T) {
	cal := testCalendar(t)

	tests := []struct {
		name   string
		now    time.Time
		modify func(v *view, sig *signal.Entry)
		want   RejectReason
	}{
		{name: "admitted", want: ReasonNone},
		{name: "before entry window", now: time.Date(2026, 3, 2, 9, 20, 0, 0, ist), want: ReasonOutsideWindow},
		{name: "after entry window", now: time.Date(2026, 3, 2, 15, 0, 0, 0, ist), want: ReasonOutsideWindow},
		{name: "weekend", now: time.Date(2026, 3, 7, 10, 0, 0, 0, ist), want: ReasonOutsideWindow},
		{
			name:   "stale signal",
			modify: func(v *view, sig *signal.Entry) { sig.Timestamp = testNow.Add(-6 * time.Minute) },
			want:   ReasonStale,
		},
		{
			name:   "spread above max",
			modify: func(v *view, sig *signal.Entry) { sig.Spread = decimal.NewFromInt(-60000) },
			want:   ReasonSpread,
		},
		{
			name:   "zscore too small",
			modify: func(v *view, sig *signal.Entry) { sig.ZScore = decimal.NewFromFloat(0.5) },
			want:   ReasonZScore,
		},
		{
			name:   "zscore too large",
			modify: func(v *view, sig *signal.Entry) { sig.ZScore = decimal.NewFromInt(-5) },
			want:   ReasonZScore,
		},
		{
			name:   "half life out of range",
			modify: func(v *view, sig *signal.Entry) { sig.HalfLife = decimal.NewFromInt(200) },
			want:   ReasonHalfLife,
		},
		{
			name: "pool full",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{
					1: filled("A", 50, 1, 1, testNow),
					2: filled("B", 50, 1, 1, testNow),
					3: {Combo: "C", State: types.StateSlotBlocked},
				}
			},
			want: ReasonCapacity,
		},
		{
			name: "duplicate combo",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{1: filled("NIFTY", 50, 1, 1, testNow)}
			},
			want: ReasonDuplicate,
		},
		{
			name: "duplicate underlying leg",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{1: filled("NIFTY", 50, 1, 1, testNow)}
				sig.Instrument = "NIFTY-OPT"
				v.symbol = func(s string) string { return "NIFTY" }
			},
			want: ReasonDuplicate,
		},
		{
			name: "other leg symbol",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{1: filled("BANKNIFTY", 50, 1, 1, testNow)}
				v.symbol = func(s string) string { return "NIFTY" }
			},
			want: ReasonNone,
		},
		{
			name: "unreadable slots count toward capacity",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{1: filled("A", 50, 1, 1, testNow)}
				v.occupied = map[int]bool{1: true, 2: true, 3: true}
			},
			want: ReasonCapacity,
		},
		{
			name: "duplicate allowed",
			modify: func(v *view, sig *signal.Entry) {
				v.rules.AllowDuplicates = true
				v.open = map[int]*position.Record{1: filled("NIFTY", 50, 1, 1, testNow)}
			},
			want: ReasonNone,
		},
		{
			name: "moratorium after recent exit",
			modify: func(v *view, sig *signal.Entry) {
				v.closed = []*position.Record{closedAt("NIFTY", testNow.Add(-20*time.Minute))}
			},
			want: ReasonMoratorium,
		},
		{
			name: "moratorium elapsed",
			modify: func(v *view, sig *signal.Entry) {
				v.closed = []*position.Record{closedAt("NIFTY", testNow.Add(-30*time.Minute))}
			},
			want: ReasonNone,
		},
		{
			name: "moratorium ignores other combos",
			modify: func(v *view, sig *signal.Entry) {
				v.closed = []*position.Record{closedAt("BANKNIFTY", testNow.Add(-5*time.Minute))}
			},
			want: ReasonNone,
		},
		{
			name:   "blacklisted",
			modify: func(v *view, sig *signal.Entry) { v.rules.Blacklist = []string{"NIFTY"} },
			want:   ReasonBlacklisted,
		},
		{
			name:   "unknown instrument",
			modify: func(v *view, sig *signal.Entry) { sig.Instrument = "GOLD" },
			want:   ReasonUnknownInstrument,
		},
		{
			name:   "no direction",
			modify: func(v *view, sig *signal.Entry) { sig.Primary = 0 },
			want:   ReasonNoDirection,
		},
		{
			name:   "short disabled",
			modify: func(v *view, sig *signal.Entry) { v.rules.AllowShort = false; sig.Primary = -1 },
			want:   ReasonSideDisabled,
		},
		{
			name: "daily loss reached",
			modify: func(v *view, sig *signal.Entry) {
				v.open = map[int]*position.Record{1: filled("BANKNIFTY", 50, 20000, 14000, testNow.Add(-time.Hour))}
			},
			want: ReasonDailyLimit,
		},
		{
			name: "std dev cannot place levels",
			modify: func(v *view, sig *signal.Entry) {
				v.rules.Levels = risk.LevelConfig{
					StopLoss:   risk.Amount{Mode: risk.ModeStdDev, Value: decimal.NewFromInt(2)},
					TakeProfit: risk.Amount{Mode: risk.ModeFixed, Value: decimal.NewFromInt(3000)},
				}
				sig.StdDev = decimal.Zero
			},
			want: ReasonNoLevels,
		},
		{
			name: "std dev levels resolve",
			modify: func(v *view, sig *signal.Entry) {
				v.rules.Levels = risk.LevelConfig{
					StopLoss:   risk.Amount{Mode: risk.ModeStdDev, Value: decimal.NewFromInt(2)},
					TakeProfit: risk.Amount{Mode: risk.ModeStdDev, Value: decimal.NewFromInt(3)},
				}
			},
			want: ReasonNone,
		},
		{
			name: "yesterday's loss ignored",
			modify: func(v *view, sig *signal.Entry) {
				v.closed = []*position.Record{closedAt("BANKNIFTY", testNow.AddDate(0, 0, -3))}
				v.closed[0].ExitSpread = position.Dec(decimal.NewFromInt(-100000))
			},
			want: ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			if now.IsZero() {
				now = testNow
			}
			v := &view{
				rules:    testRules(),
				cal:      cal,
				now:      now,
				tunables: testTunables(),
				open:     map[int]*position.Record{},
				known:    func(s string) bool { return s == "NIFTY" || s == "BANKNIFTY" },
			}
			sig := testSignal("NIFTY", 1)
			sig.Timestamp = now.Add(-time.Minute)
			if tt.modify != nil {
				tt.modify(v, &sig)
			}

			if got := evaluate(v, sig); got != tt.want {
				t.Errorf("evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeExecutor struct {
	mu   sync.Mutex
	jobs []execution.Job
	got  chan execution.Job
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{got: make(chan execution.Job, 64)}
}

func (f *fakeExecutor) Execute(ctx context.Context, job execution.Job) (execution.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	f.got <- job
	return execution.Result{}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type gateHarness struct {
	gate *Gate
	book *store.Book
	st   *store.Memory
	exec *fakeExecutor
}

func newGateHarness(t *testing.T, modify func(*Config, *store.TunableSet)) *gateHarness {
	t.Helper()

	cfg := Config{
		Rules:      testRules(),
		PoolSize:   24,
		PopTimeout: 50 * time.Millisecond,
		Contracts: map[string]broker.Contract{
			"NIFTY":     {Symbol: "NIFTY", LotMultiplier: 1, SecType: "FUT", Exchange: "NSE", Currency: "INR"},
			"BANKNIFTY": {Symbol: "BANKNIFTY", LotMultiplier: 1, SecType: "FUT", Expiry: "20260326", Exchange: "NSE", Currency: "INR"},
		},
		EntryStyle: types.OrderStyleMarket,
	}
	tun := testTunables()
	if modify != nil {
		modify(&cfg, &tun)
	}

	st := store.NewMemory()
	keys := store.Keys{Prefix: "test"}
	book := store.NewBook(st, keys, position.NewCodec(ist), nil)
	exec := newFakeExecutor()
	defaults := signal.Defaults{
		LotSize: map[string]int64{"NIFTY": 50, "BANKNIFTY": 15},
		Now:     func() time.Time { return testNow },
		Loc:     ist,
	}

	gate := NewGate(cfg, testCalendar(t), book, store.NewTunables(st, keys, tun), &execution.Lock{}, exec, defaults, nil)
	return &gateHarness{gate: gate, book: book, st: st, exec: exec}
}

func TestGate_AdmitReservesSlot(t *testing.T) {
	h := newGateHarness(t, nil)
	ctx := context.Background()

	d := h.gate.Evaluate(ctx, testSignal("NIFTY", -1))
	if !d.Admitted {
		t.Fatalf("Evaluate() rejected: %s", d.Reason)
	}
	if d.Slot != 1 {
		t.Errorf("Slot = %d, want 1", d.Slot)
	}
	h.gate.Wait()

	rec, err := h.book.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.State != types.StateSlotBlocked {
		t.Errorf("State = %s, want slot-blocked", rec.State)
	}
	if rec.Quantity != -50 {
		t.Errorf("Quantity = %d, want -50", rec.Quantity)
	}
	if rec.Expiry != "20260320" {
		t.Errorf("Expiry = %q, want front month 20260320", rec.Expiry)
	}

	job := <-h.exec.got
	if job.Kind != types.OrderKindEntry || job.Slot != 1 || job.Quantity != -50 {
		t.Errorf("job = %+v", job)
	}

	last, err := h.st.Get(ctx, h.book.Keys().LastSlot())
	if err != nil || last != "1" {
		t.Errorf("last slot = %q, %v; want 1", last, err)
	}

	d = h.gate.Evaluate(ctx, testSignal("BANKNIFTY", 1))
	if !d.Admitted || d.Slot != 2 {
		t.Errorf("second Evaluate() = %+v, want slot 2", d)
	}
	h.gate.Wait()
}

func TestGate_SlotScanWraps(t *testing.T) {
	h := newGateHarness(t, nil)
	ctx := context.Background()

	if err := h.st.Set(ctx, h.book.Keys().LastSlot(), "24"); err != nil {
		t.Fatal(err)
	}
	for _, slot := range []int{24, 1} {
		if err := h.book.Put(ctx, slot, filled("OTHER", 1, 1, 1, testNow)); err != nil {
			t.Fatal(err)
		}
	}

	d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1))
	if !d.Admitted {
		t.Fatalf("Evaluate() rejected: %s", d.Reason)
	}
	if d.Slot != 2 {
		t.Errorf("Slot = %d, want 2", d.Slot)
	}
	h.gate.Wait()
}

func TestGate_ReusesFreedLastSlot(t *testing.T) {
	h := newGateHarness(t, nil)
	ctx := context.Background()

	if err := h.st.Set(ctx, h.book.Keys().LastSlot(), "5"); err != nil {
		t.Fatal(err)
	}
	if err := h.book.Put(ctx, 2, filled("OTHER", 1, 1, 1, testNow)); err != nil {
		t.Fatal(err)
	}

	d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1))
	if !d.Admitted || d.Slot != 5 {
		t.Errorf("Evaluate() = %+v, want slot 5", d)
	}
	h.gate.Wait()
}

func TestGate_MalformedRecordKeepsSlot(t *testing.T) {
	h := newGateHarness(t, func(cfg *Config, tun *store.TunableSet) {
		tun.MaxPositions = 2
	})
	ctx := context.Background()

	bad := "garbage" + strings.Repeat(",", position.FieldCount-1)
	if err := h.st.HSet(ctx, h.book.Keys().Open(), "1", bad); err != nil {
		t.Fatal(err)
	}

	d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1))
	if !d.Admitted {
		t.Fatalf("Evaluate() rejected: %s", d.Reason)
	}
	if d.Slot == 1 {
		t.Fatal("admission overwrote the unreadable record in slot 1")
	}
	h.gate.Wait()

	raw, err := h.st.HGet(ctx, h.book.Keys().Open(), "1")
	if err != nil || raw != bad {
		t.Errorf("slot 1 = %q, %v; want the original record", raw, err)
	}

	if d := h.gate.Evaluate(ctx, testSignal("BANKNIFTY", 1)); d.Reason != ReasonCapacity {
		t.Errorf("Evaluate() = %+v, want %s", d, ReasonCapacity)
	}
}

func TestGate_DailyEntryCap(t *testing.T) {
	h := newGateHarness(t, func(cfg *Config, tun *store.TunableSet) {
		cfg.MaxEntriesPerDay = 1
		cfg.AllowDuplicates = true
	})
	ctx := context.Background()

	if d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1)); !d.Admitted {
		t.Fatalf("first Evaluate() rejected: %s", d.Reason)
	}
	if d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1)); d.Reason != ReasonDailyEntries {
		t.Errorf("second Evaluate() = %+v, want %s", d, ReasonDailyEntries)
	}
	h.gate.Wait()

	if n := h.exec.count(); n != 1 {
		t.Errorf("submitted jobs = %d, want 1", n)
	}
}

func TestGate_TunablesFromStore(t *testing.T) {
	h := newGateHarness(t, nil)
	ctx := context.Background()

	tun := store.NewTunables(h.st, h.book.Keys(), testTunables())
	if err := tun.Set(ctx, store.TunableMaxSpread, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1)); d.Reason != ReasonSpread {
		t.Errorf("Evaluate() = %+v, want %s", d, ReasonSpread)
	}
}

func TestGate_ConcurrentAdmissionNeverOverfills(t *testing.T) {
	h := newGateHarness(t, func(cfg *Config, tun *store.TunableSet) {
		cfg.AllowDuplicates = true
		cfg.MaxEntriesPerDay = 100
		tun.MaxPositions = 2
	})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := h.gate.Evaluate(ctx, testSignal("NIFTY", 1)); d.Admitted {
				mu.Lock()
				admitted = append(admitted, d.Slot)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	h.gate.Wait()

	if len(admitted) != 2 {
		t.Fatalf("admitted %d signals, want 2", len(admitted))
	}
	if admitted[0] == admitted[1] {
		t.Errorf("two admissions share slot %d", admitted[0])
	}
	slots, err := h.book.OccupiedSlots(ctx)
	if err != nil {
		t.Fatalf("OccupiedSlots() error = %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("occupied slots = %v, want 2", slots)
	}
}

func TestGate_ConcurrentSameComboAdmitsOnce(t *testing.T) {
	h := newGateHarness(t, func(cfg *Config, tun *store.TunableSet) {
		cfg.MaxEntriesPerDay = 100
		cfg.Contracts["NIFTY-OPT"] = broker.Contract{Symbol: "NIFTY", LotMultiplier: 1, SecType: "FUT"}
		tun.MaxPositions = 10
	})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []int
	)
	for i := 0; i < 20; i++ {
		instrument := "NIFTY"
		if i%2 == 1 {
			instrument = "NIFTY-OPT"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := h.gate.Evaluate(ctx, testSignal(instrument, 1)); d.Admitted {
				mu.Lock()
				admitted = append(admitted, d.Slot)
				mu.Unlock()
			} else if d.Reason != ReasonDuplicate {
				t.Errorf("rejected with %s, want %s", d.Reason, ReasonDuplicate)
			}
		}()
	}
	wg.Wait()
	h.gate.Wait()

	if len(admitted) != 1 {
		t.Fatalf("admitted %d signals, want 1", len(admitted))
	}
	slots, err := h.book.OccupiedSlots(ctx)
	if err != nil {
		t.Fatalf("OccupiedSlots() error = %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("occupied slots = %v, want 1", slots)
	}
}

func TestGate_RunConsumesQueue(t *testing.T) {
	h := newGateHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := testSignal("NIFTY", 1).Encode(ist)
	if err := h.st.RPush(ctx, h.book.Keys().EntrySignals(), raw); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- h.gate.Run(ctx) }()

	select {
	case job := <-h.exec.got:
		if job.Quantity != 50 {
			t.Errorf("Quantity = %d, want 50", job.Quantity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("entry not submitted")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestGate_HandleMalformedSignal(t *testing.T) {
	h := newGateHarness(t, nil)

	// No primary direction after parsing defaults.
	d := h.gate.Handle(context.Background(), "instrument=NIFTY,primary=abc,zScore=2,halfLife=10,spread=100")
	if d.Admitted || d.Reason != ReasonNoDirection {
		t.Errorf("Handle() = %+v, want %s", d, ReasonNoDirection)
	}
}

func TestGate_HandleBuySignal(t *testing.T) {
	h := newGateHarness(t, func(cfg *Config, tun *store.TunableSet) {
		cfg.Contracts["X"] = broker.Contract{Symbol: "X", LotMultiplier: 1, SecType: "FUT", Exchange: "NSE", Currency: "INR"}
	})
	ctx := context.Background()

	raw := "instrument=X,lotSize=100,primary=1,secondary=0,halfLife=20,state=2,zScore=2.1,mean=15.0,stdDev=0.9,qScore=1.0,spread=500"
	d := h.gate.Handle(ctx, raw)
	if !d.Admitted || d.Slot != 1 {
		t.Fatalf("Handle() = %+v, want admitted in slot 1", d)
	}
	h.gate.Wait()

	job := <-h.exec.got
	if job.Kind != types.OrderKindEntry || job.Quantity != 100 || job.Contract.Symbol != "X" {
		t.Errorf("job = %+v, want entry BUY 100 X", job)
	}
}

func TestGate_FreeSlotFull(t *testing.T) {
	h := newGateHarness(t, nil)
	open := make(map[int]bool)
	for i := 1; i <= 24; i++ {
		open[i] = true
	}
	if got := h.gate.freeSlot(context.Background(), open); got != 0 {
		t.Errorf("freeSlot() = %d, want 0", got)
	}
	delete(open, 17)
	if got := h.gate.freeSlot(context.Background(), open); got != 17 {
		t.Errorf("freeSlot() = %d, want 17", got)
	}
}
