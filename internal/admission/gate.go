// Package admission decides which entry signals open a position and reserves
// a slot for each admitted one.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/execution"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Executor runs an order job.
type Executor interface {
	Execute(ctx context.Context, job execution.Job) (execution.Result, error)
}

// Config holds gate configuration.
type Config struct {
	Rules
	PoolSize   int
	PopTimeout time.Duration
	// Contracts maps instrument names to their venue contract.
	Contracts      map[string]broker.Contract
	EntryStyle     types.OrderStyle
	RelativeOffset decimal.Decimal
}

// Decision is the outcome of evaluating one entry signal.
type Decision struct {
	Admitted bool
	Reason   RejectReason
	Slot     int
}

// Gate admits entry signals.
type Gate struct {
	cfg      Config
	cal      *session.Calendar
	book     *store.Book
	tunables *store.Tunables
	lock     *execution.Lock
	exec     Executor
	defaults signal.Defaults
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewGate creates an admission gate.
func NewGate(
	cfg Config,
	cal *session.Calendar,
	book *store.Book,
	tunables *store.Tunables,
	lock *execution.Lock,
	exec Executor,
	defaults signal.Defaults,
	logger *slog.Logger,
) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 60 * time.Second
	}
	g := &Gate{
		cfg:      cfg,
		cal:      cal,
		book:     book,
		tunables: tunables,
		lock:     lock,
		exec:     exec,
		defaults: defaults,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
	}
	if defaults.Now != nil {
		g.now = defaults.Now
	}
	return g
}

// Run consumes the entry queue until ctx is done, then waits for submitted
// entries to return.
func (g *Gate) Run(ctx context.Context) error {
	key := g.book.Keys().EntrySignals()
	g.logger.Info("admission gate started", "queue", key, "pool_size", g.cfg.PoolSize)
	defer g.wg.Wait()

	for {
		raw, err := g.book.Store().BLPop(ctx, g.cfg.PopTimeout, key)
		if err != nil {
			if ctx.Err() != nil {
				g.logger.Info("admission gate stopped")
				return nil
			}
			if errors.Is(err, store.ErrTimeout) {
				continue
			}
			g.logger.Warn("entry queue pop failed", "err", err)
			g.recorder.RecordStoreUnavailable("blpop")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		g.Handle(ctx, raw)
	}
}

// Handle decodes and evaluates one raw entry signal.
func (g *Gate) Handle(ctx context.Context, raw string) Decision {
	g.recorder.RecordSignal("entry")
	sig := signal.ParseEntry(raw, g.defaults)
	return g.Evaluate(ctx, sig)
}

// Evaluate runs the admission checks and, on admit, reserves a slot and
// submits the entry. Signals are never retried.
func (g *Gate) Evaluate(ctx context.Context, sig signal.Entry) Decision {
	log := g.logger.With("combo", sig.Instrument, "primary", sig.Primary)

	v, err := g.view(ctx)
	if err != nil {
		log.Warn("admission state unavailable", "err", err)
		return g.reject(log, ReasonStore)
	}
	if reason := evaluate(v, sig); reason != ReasonNone {
		return g.reject(log, reason)
	}

	slot, reason, err := g.reserve(ctx, sig, v)
	if err != nil {
		log.Warn("slot reservation failed", "err", err)
		return g.reject(log, ReasonStore)
	}
	if reason != ReasonNone {
		return g.reject(log, reason)
	}

	side := types.SideOf(sig.Quantity())
	g.recorder.RecordAdmitted(sig.Instrument, side.String())
	log.Info("entry admitted", "slot", slot, "quantity", sig.Quantity(), "zscore", sig.ZScore, "spread", sig.Spread)

	g.submit(ctx, slot, sig)
	return Decision{Admitted: true, Slot: slot}
}

// Wait blocks until submitted entries return.
func (g *Gate) Wait() {
	g.wg.Wait()
}

func (g *Gate) reject(log *slog.Logger, reason RejectReason) Decision {
	g.recorder.RecordSignalRejected(string(reason))
	log.Info("entry rejected", "reason", reason)
	return Decision{Reason: reason}
}

func (g *Gate) view(ctx context.Context) (*view, error) {
	open, err := g.book.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("read open positions: %w", err)
	}
	occupied, err := g.occupied(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := g.book.Closed(ctx)
	if err != nil {
		return nil, fmt.Errorf("read closed positions: %w", err)
	}
	return &view{
		rules:    g.cfg.Rules,
		cal:      g.cal,
		now:      g.now(),
		tunables: g.tunables.Snapshot(ctx),
		open:     open,
		occupied: occupied,
		closed:   closed,
		known:    g.known,
		symbol:   g.symbol,
	}, nil
}

func (g *Gate) occupied(ctx context.Context) (map[int]bool, error) {
	slots, err := g.book.OccupiedSlots(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(slots))
	for _, s := range slots {
		out[s] = true
	}
	return out, nil
}

func (g *Gate) known(instrument string) bool {
	_, ok := g.cfg.Contracts[instrument]
	return ok
}

func (g *Gate) symbol(instrument string) string {
	return g.cfg.Contracts[instrument].Symbol
}

// reserve re-checks capacity against a fresh read, counts the day's entry and
// writes the slot-blocked placeholder, all under the order lock.
func (g *Gate) reserve(ctx context.Context, sig signal.Entry, v *view) (int, RejectReason, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	open, err := g.book.Open(ctx)
	if err != nil {
		return 0, ReasonNone, err
	}
	occupied, err := g.occupied(ctx)
	if err != nil {
		return 0, ReasonNone, err
	}
	fresh := *v
	fresh.open = open
	fresh.occupied = occupied
	if reason := checkCapacity(&fresh, sig); reason != ReasonNone {
		return 0, reason, nil
	}

	st := g.book.Store()
	keys := g.book.Keys()

	slot := g.freeSlot(ctx, occupied)
	if slot == 0 {
		return 0, ReasonNoFreeSlot, nil
	}

	n, err := st.Incr(ctx, keys.Entries(v.now))
	if err != nil {
		return 0, ReasonNone, err
	}
	if g.cfg.MaxEntriesPerDay > 0 && n > int64(g.cfg.MaxEntriesPerDay) {
		return 0, ReasonDailyEntries, nil
	}

	rec := g.placeholder(sig, v.now)
	if err := g.book.Put(ctx, slot, rec); err != nil {
		return 0, ReasonNone, err
	}
	if err := st.Set(ctx, keys.LastSlot(), strconv.Itoa(slot)); err != nil {
		g.logger.Warn("failed to record last slot", "slot", slot, "err", err)
	}
	return slot, ReasonNone, nil
}

// freeSlot returns the lowest free slot at or above the last one allocated,
// wrapping around to 1. Returns 0 when every slot is taken.
func (g *Gate) freeSlot(ctx context.Context, occupied map[int]bool) int {
	n := g.cfg.PoolSize
	if n <= 0 {
		return 0
	}

	start := 1
	if raw, err := g.book.Store().Get(ctx, g.book.Keys().LastSlot()); err == nil {
		if v, err := strconv.Atoi(raw); err == nil && v >= 1 && v <= n {
			start = v
		}
	}

	for i := 0; i < n; i++ {
		slot := (start-1+i)%n + 1
		if !occupied[slot] {
			return slot
		}
	}
	return 0
}

func (g *Gate) contract(instrument string, now time.Time) broker.Contract {
	c := g.cfg.Contracts[instrument]
	if c.Expiry == "" && c.SecType == "FUT" {
		c.Expiry = broker.FrontMonthExpiry(now)
	}
	return c
}

func (g *Gate) placeholder(sig signal.Entry, now time.Time) *position.Record {
	c := g.contract(sig.Instrument, now)
	rec := &position.Record{
		EntryTime:     now,
		Combo:         sig.Instrument,
		Quantity:      sig.Quantity(),
		Contract:      c,
		EntryZScore:   sig.ZScore,
		EntryMean:     sig.Mean,
		EntryHalfLife: sig.HalfLife,
		EntryStdDev:   sig.StdDev,
		State:         types.StateSlotBlocked,
		Expiry:        c.Expiry,
	}
	rec.Normalize()
	return rec
}

func (g *Gate) submit(ctx context.Context, slot int, sig signal.Entry) {
	job := execution.Job{
		Kind:     types.OrderKindEntry,
		Slot:     slot,
		Contract: g.contract(sig.Instrument, g.now()),
		Quantity: sig.Quantity(),
		Style:    g.cfg.EntryStyle,
		Offset:   g.cfg.RelativeOffset,
		Tag:      fmt.Sprintf("entry-%s-%d", sig.Instrument, slot),
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if _, err := g.exec.Execute(ctx, job); err != nil {
			g.logger.Warn("entry did not complete", "slot", slot, "combo", sig.Instrument, "err", err)
		}
	}()
}
