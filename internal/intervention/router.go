package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
)

// Router errors.
var (
	ErrStaleCommand  = errors.New("command is stale")
	ErrSlotNotOpen   = errors.New("slot holds no open position")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidTarget = errors.New("invalid target value")
)

// tunableFor maps strategy setters to store tunables.
var tunableFor = map[signal.Action]string{
	signal.ActionSetMaxPositions: store.TunableMaxPositions,
	signal.ActionSetMinZScore:    store.TunableMinZScore,
	signal.ActionSetMaxZScore:    store.TunableMaxZScore,
	signal.ActionSetMinHalfLife:  store.TunableMinHalfLife,
	signal.ActionSetMaxHalfLife:  store.TunableMaxHalfLife,
	signal.ActionSetMaxSpread:    store.TunableMaxSpread,
}

// Router consumes operator commands.
type Router struct {
	book       *store.Book
	flags      *FlagTable
	tunables   *store.Tunables
	notifier   *alerting.Notifier
	defaults   signal.Defaults
	popTimeout time.Duration
	recorder   *metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewRouter creates an intervention router. notifier may be nil.
func NewRouter(
	book *store.Book,
	flags *FlagTable,
	tunables *store.Tunables,
	notifier *alerting.Notifier,
	defaults signal.Defaults,
	popTimeout time.Duration,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if popTimeout <= 0 {
		popTimeout = 60 * time.Second
	}
	r := &Router{
		book:       book,
		flags:      flags,
		tunables:   tunables,
		notifier:   notifier,
		defaults:   defaults,
		popTimeout: popTimeout,
		recorder:   metrics.NewRecorder(),
		logger:     logger,
		now:        time.Now,
	}
	if defaults.Now != nil {
		r.now = defaults.Now
	}
	return r
}

// Run consumes the manual intervention queue until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	key := r.book.Keys().ManualSignals()
	r.logger.Info("intervention router started", "queue", key)

	for {
		raw, err := r.book.Store().BLPop(ctx, r.popTimeout, key)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("intervention router stopped")
				return nil
			}
			if !errors.Is(err, store.ErrTimeout) {
				r.logger.Warn("manual queue pop failed", "err", err)
				r.recorder.RecordStoreUnavailable("blpop")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
			continue
		}

		if err := r.Handle(ctx, raw); err != nil {
			r.logger.Warn("command ignored", "raw", raw, "err", err)
		}
	}
}

// Handle decodes and applies one raw command.
func (r *Router) Handle(ctx context.Context, raw string) error {
	r.recorder.RecordSignal("manual")
	return r.Apply(ctx, signal.ParseIntervention(raw, r.defaults))
}

// Apply applies a command. Commands older than signal.MaxAge are ignored.
func (r *Router) Apply(ctx context.Context, cmd signal.Intervention) error {
	err := r.apply(ctx, cmd)
	result := "applied"
	if err != nil {
		result = "ignored"
	}
	r.recorder.RecordIntervention(string(cmd.Action), result)
	return err
}

func (r *Router) apply(ctx context.Context, cmd signal.Intervention) error {
	if signal.Stale(cmd.Timestamp, r.now()) {
		return fmt.Errorf("%s from %s: %w", cmd.Action, cmd.Timestamp.Format(signal.TimestampLayout), ErrStaleCommand)
	}

	if cmd.Level == signal.LevelTrade {
		return r.applyTrade(ctx, cmd)
	}
	return r.applyStrategy(ctx, cmd)
}

func (r *Router) applyTrade(ctx context.Context, cmd signal.Intervention) error {
	rec, err := r.book.Get(ctx, cmd.Slot)
	if err != nil {
		if errors.Is(err, store.ErrNil) {
			return fmt.Errorf("slot %d: %w", cmd.Slot, ErrSlotNotOpen)
		}
		return fmt.Errorf("slot %d: %w", cmd.Slot, err)
	}
	if !rec.State.IsOpen() {
		return fmt.Errorf("slot %d is %s: %w", cmd.Slot, rec.State, ErrSlotNotOpen)
	}

	log := r.logger.With("slot", cmd.Slot, "combo", rec.Combo, "action", cmd.Action)

	switch cmd.Action {
	case signal.ActionSquareOff:
		r.flags.RaiseSquareOff(cmd.Slot)
	case signal.ActionStopMonitor:
		r.flags.RaiseStop(cmd.Slot)
	case signal.ActionUpdateStopLoss, signal.ActionUpdateTakeProfit:
		v, ok := cmd.TargetValue()
		if !ok {
			return fmt.Errorf("%s target %q: %w", cmd.Action, cmd.Target, ErrInvalidTarget)
		}
		if cmd.Action == signal.ActionUpdateStopLoss {
			r.flags.SetStopLoss(cmd.Slot, v)
		} else {
			r.flags.SetTakeProfit(cmd.Slot, v)
		}
		log = log.With("target", v)
	default:
		return fmt.Errorf("trade level %q: %w", cmd.Action, ErrUnknownAction)
	}

	log.Info("trade command applied")
	return nil
}

func (r *Router) applyStrategy(ctx context.Context, cmd signal.Intervention) error {
	if cmd.Action == signal.ActionSquareOffAll {
		return r.squareOffAll(ctx)
	}

	name, ok := tunableFor[cmd.Action]
	if !ok {
		return fmt.Errorf("strategy level %q: %w", cmd.Action, ErrUnknownAction)
	}
	v, ok := cmd.TargetValue()
	if !ok || v.IsNegative() {
		return fmt.Errorf("%s target %q: %w", cmd.Action, cmd.Target, ErrInvalidTarget)
	}
	if err := r.tunables.Set(ctx, name, v); err != nil {
		return err
	}
	r.logger.Info("tunable updated", "tunable", name, "value", v)
	return nil
}

func (r *Router) squareOffAll(ctx context.Context) error {
	open, err := r.book.Open(ctx)
	if err != nil {
		return fmt.Errorf("square off all: %w", err)
	}

	var slots []int
	for slot, rec := range open {
		if rec.State.IsOpen() {
			r.flags.RaiseSquareOff(slot)
			slots = append(slots, slot)
		}
	}

	r.logger.Warn("square off all raised", "slots", slots)
	r.notifier.Notify(ctx, alerting.EventSquareOffAll, "square off all requested", "positions", len(slots))
	return nil
}
