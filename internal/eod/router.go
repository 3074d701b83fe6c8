// Package eod routes end-of-day signals: it squares off positions the new
// signal contradicts and forwards fresh directions to the entry queue.
package eod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tathienbao/signal-executor/internal/intervention"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Slot matching modes.
const (
	MatchAny     = "any"
	MatchSameDay = "same_day"
	MatchSameBar = "same_bar"
)

// SlotMatcher reports whether a position entered at entry belongs to the
// decision slot of now.
type SlotMatcher func(entry, now time.Time) bool

// NewSlotMatcher returns the matcher for mode.
func NewSlotMatcher(mode string, cal *session.Calendar) (SlotMatcher, error) {
	switch mode {
	case MatchAny, "":
		return func(time.Time, time.Time) bool { return true }, nil
	case MatchSameDay:
		return cal.SameTradingDay, nil
	case MatchSameBar:
		return func(entry, now time.Time) bool {
			d1, b1 := cal.BarIndex(entry)
			d2, b2 := cal.BarIndex(now)
			return d1 == d2 && b1 == b2
		}, nil
	default:
		return nil, fmt.Errorf("slot match %q: %w", mode, types.ErrInvalidConfig)
	}
}

// Decision is what the router did with one signal.
type Decision struct {
	// Slot is the matched position, 0 when none.
	Slot      int
	SquareOff bool
	// Forwarded is the direction pushed to the entry queue, 0 when none.
	Forwarded int
	// Deferred is set when the forward waits for the squared-off slot to
	// be retired.
	Deferred bool
}

// Router consumes the end-of-day queue.
type Router struct {
	book       *store.Book
	flags      *intervention.FlagTable
	match      SlotMatcher
	defaults   signal.Defaults
	popTimeout time.Duration
	recorder   *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time

	reversalWait time.Duration
	reversalPoll time.Duration
	wg           sync.WaitGroup
}

// NewRouter creates an end-of-day router.
func NewRouter(book *store.Book, flags *intervention.FlagTable, match SlotMatcher, defaults signal.Defaults, popTimeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if popTimeout <= 0 {
		popTimeout = 60 * time.Second
	}
	r := &Router{
		book:       book,
		flags:      flags,
		match:      match,
		defaults:   defaults,
		popTimeout: popTimeout,
		recorder:   metrics.NewRecorder(),
		logger:     logger,
		now:        time.Now,

		reversalWait: 15 * time.Minute,
		reversalPoll: time.Second,
	}
	if defaults.Now != nil {
		r.now = defaults.Now
	}
	return r
}

// SetReversalWait bounds how long a reversal entry waits for the old
// position's slot to be retired, checking every poll.
func (r *Router) SetReversalWait(wait, poll time.Duration) {
	if wait > 0 {
		r.reversalWait = wait
	}
	if poll > 0 {
		r.reversalPoll = poll
	}
}

// Wait blocks until held reversal entries are forwarded or dropped.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Run consumes the end-of-day queue until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	key := r.book.Keys().EODSignals()
	r.logger.Info("eod router started", "queue", key)
	defer r.wg.Wait()

	for {
		raw, err := r.book.Store().BLPop(ctx, r.popTimeout, key)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("eod router stopped")
				return nil
			}
			if !errors.Is(err, store.ErrTimeout) {
				r.logger.Warn("eod queue pop failed", "err", err)
				r.recorder.RecordStoreUnavailable("blpop")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
			continue
		}

		if _, err := r.Handle(ctx, raw); err != nil {
			r.logger.Warn("eod signal not routed", "err", err)
		}
	}
}

// Handle decodes and routes one raw signal.
func (r *Router) Handle(ctx context.Context, raw string) (Decision, error) {
	r.recorder.RecordSignal("eod")
	return r.Route(ctx, signal.ParseEOD(raw, r.defaults))
}

// Route applies the decision table:
//
//	no position, primary != 0        forward primary
//	long, primary < 0 or secondary < 0   square off; forward short if primary < 0
//	short, primary > 0 or secondary > 0  square off; forward long if primary > 0
//
// A reversal is forwarded only once the squared-off slot has been retired.
func (r *Router) Route(ctx context.Context, sig signal.EOD) (Decision, error) {
	now := r.now()
	log := r.logger.With("combo", sig.Instrument, "primary", sig.Primary, "secondary", sig.Secondary)

	slot, rec, err := r.find(ctx, sig.Instrument, now)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	if rec == nil {
		if sig.Primary != 0 {
			d.Forwarded = sig.Primary
		}
	} else {
		d.Slot = slot
		side := rec.Side()
		against := types.SideOf(int64(sig.Primary)) == side.Opposite()
		if against || types.SideOf(int64(sig.Secondary)) == side.Opposite() {
			d.SquareOff = side != types.SideFlat
		}
		if d.SquareOff && against {
			d.Forwarded = int(side.Opposite().Sign())
			d.Deferred = true
		}
	}

	if d.SquareOff {
		r.flags.RaiseSquareOff(slot)
		log.Info("eod square off raised", "slot", slot, "side", rec.Side())
	}
	switch {
	case d.Deferred:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.forwardAfterRetire(ctx, slot, sig, d.Forwarded, log)
		}()
		log.Info("eod reversal held until slot retires", "slot", slot, "direction", d.Forwarded)
	case d.Forwarded != 0:
		if err := r.forward(ctx, sig, d.Forwarded, now); err != nil {
			return d, err
		}
		log.Info("eod entry forwarded", "direction", d.Forwarded)
	}
	if !d.SquareOff && d.Forwarded == 0 {
		log.Debug("eod signal needs no action", "slot", d.Slot)
	}
	return d, nil
}

func (r *Router) forward(ctx context.Context, sig signal.EOD, direction int, at time.Time) error {
	entry := sig.AsEntry(direction, at)
	if err := r.book.Store().RPush(ctx, r.book.Keys().EntrySignals(), entry.Encode(r.loc())); err != nil {
		return fmt.Errorf("forward entry: %w", err)
	}
	return nil
}

// forwardAfterRetire polls slot until the squared-off position leaves it,
// then forwards the reversal stamped with the current time. The entry is
// dropped when the wait runs out.
func (r *Router) forwardAfterRetire(ctx context.Context, slot int, sig signal.EOD, direction int, log *slog.Logger) {
	ticker := time.NewTicker(r.reversalPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(r.reversalWait)
	defer deadline.Stop()

	for {
		exists, err := r.book.Exists(ctx, slot)
		switch {
		case err != nil:
			log.Warn("could not check squared-off slot", "slot", slot, "err", err)
		case !exists:
			if err := r.forward(ctx, sig, direction, r.now()); err != nil {
				log.Warn("eod reversal not forwarded", "err", err)
				return
			}
			log.Info("eod reversal forwarded", "slot", slot, "direction", direction)
			return
		}

		select {
		case <-ctx.Done():
			log.Info("eod reversal dropped on shutdown", "slot", slot)
			return
		case <-deadline.C:
			log.Warn("eod reversal dropped, slot not retired in time", "slot", slot, "waited", r.reversalWait)
			return
		case <-ticker.C:
		}
	}
}

// find returns the most recently entered filled position of instrument in
// the decision slot of now.
func (r *Router) find(ctx context.Context, instrument string, now time.Time) (int, *position.Record, error) {
	open, err := r.book.Open(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("read open positions: %w", err)
	}

	var (
		slot int
		best *position.Record
	)
	for s, rec := range open {
		if rec.Combo != instrument || rec.State != types.StateEntryFilled {
			continue
		}
		if !r.match(rec.EntryTime, now) {
			continue
		}
		if best == nil || rec.EntryTime.After(best.EntryTime) || (rec.EntryTime.Equal(best.EntryTime) && s < slot) {
			slot, best = s, rec
		}
	}
	return slot, best, nil
}

func (r *Router) loc() *time.Location {
	if r.defaults.Loc != nil {
		return r.defaults.Loc
	}
	return time.Local
}
