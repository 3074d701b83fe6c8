// Package monitor runs the per-position exit monitor: it watches the
// position's spread against its breach band and exits on a crossing, at the
// end of the session, or on operator request.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/execution"
	"github.com/tathienbao/signal-executor/internal/intervention"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Phase is the monitor's lifecycle stage.
type Phase int32

const (
	PhaseSubscribing Phase = iota
	PhaseMonitoring
	PhaseBreachInitiated
	PhaseSquaredOff
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseSubscribing:
		return "subscribing"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseBreachInitiated:
		return "breach-initiated"
	case PhaseSquaredOff:
		return "squared-off"
	default:
		return "terminated"
	}
}

// Outcome is why a monitor terminated.
type Outcome string

const (
	OutcomeClosed          Outcome = "closed"
	OutcomeStopped         Outcome = "stopped"
	OutcomeDisconnected    Outcome = "disconnected"
	OutcomeStale           Outcome = "stale"
	OutcomeExitUnconfirmed Outcome = "exit-unconfirmed"
	OutcomeNotOpen         Outcome = "not-open"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeFailed          Outcome = "failed"
)

// abnormal outcomes leave a position needing attention.
func (o Outcome) abnormal() bool {
	switch o {
	case OutcomeDisconnected, OutcomeStale, OutcomeExitUnconfirmed, OutcomeFailed:
		return true
	}
	return false
}

// Config holds monitor timing and exit settings.
type Config struct {
	Interval         time.Duration
	ConnectWait      time.Duration
	ResubscribeAfter time.Duration
	StaleAfter       time.Duration
	PersistInterval  time.Duration
	LastExitTime     session.Clock
	// ReqBase + slot is the standing market data request id.
	ReqBase        int64
	Levels         risk.LevelConfig
	ExitStyle      types.OrderStyle
	RelativeOffset decimal.Decimal
}

// DefaultConfig returns default monitor config.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		ConnectWait:      180 * time.Second,
		ResubscribeAfter: 35 * time.Second,
		StaleAfter:       300 * time.Second,
		PersistInterval:  10 * time.Second,
		LastExitTime:     session.Clock{Hour: 15, Minute: 20},
		ReqBase:          2000,
		ExitStyle:        types.OrderStyleMarket,
	}
}

// Exiter places exit orders and retires closed positions.
type Exiter interface {
	Execute(ctx context.Context, job execution.Job) (execution.Result, error)
	Retire(ctx context.Context, slot int, rec *position.Record) error
}

// Deps are the collaborators shared by every monitor.
type Deps struct {
	Gateway  broker.Gateway
	Events   *bus.Bus
	Book     *store.Book
	Exec     Exiter
	Flags    *intervention.FlagTable
	Calendar *session.Calendar
	Notifier *alerting.Notifier
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor watches one slot.
type Monitor struct {
	cfg      Config
	slot     int
	reqID    int64
	deps     Deps
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	phase atomic.Int32

	rec    *position.Record
	side   types.Side
	levels risk.Levels
	// hasLevels is false when the band could not be derived; breach
	// evaluation is skipped until an operator sets both sides.
	hasLevels   bool
	pendingStop decimal.NullDecimal
	pendingTake decimal.NullDecimal
	tracker     *risk.ExcursionTracker
	contract    broker.Contract

	startedAt      time.Time
	subscribed     bool
	subscribedAt   time.Time
	lastTick       time.Time
	lastQuoteAt    time.Time
	disconnectedAt time.Time
	lastPersist    time.Time
	dirty          bool
}

// New creates a monitor for slot.
func New(cfg Config, slot int, deps Deps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Monitor{
		cfg:      cfg,
		slot:     slot,
		reqID:    cfg.ReqBase + int64(slot),
		deps:     deps,
		logger:   logger.With("slot", slot),
		recorder: metrics.NewRecorder(),
		now:      now,
	}
}

// Slot returns the monitored slot.
func (m *Monitor) Slot() int { return m.slot }

// Phase returns the current lifecycle stage.
func (m *Monitor) Phase() Phase { return Phase(m.phase.Load()) }

func (m *Monitor) setPhase(p Phase) {
	if old := Phase(m.phase.Swap(int32(p))); old != p {
		m.logger.Debug("monitor phase", "from", old, "to", p)
	}
}

// Run monitors the slot until the position closes or the monitor has to
// give up. It never cancels an order.
func (m *Monitor) Run(ctx context.Context) Outcome {
	m.recorder.RecordMonitorStarted()

	outcome, err := m.start(ctx)
	if err == nil {
		outcome = m.loop(ctx)
	} else {
		m.logger.Warn("monitor could not start", "err", err)
	}

	m.terminate(outcome)
	return outcome
}

func (m *Monitor) start(ctx context.Context) (Outcome, error) {
	m.setPhase(PhaseSubscribing)
	m.startedAt = m.now()

	rec, err := m.deps.Book.Get(ctx, m.slot)
	if err != nil {
		if errors.Is(err, store.ErrNil) {
			return OutcomeNotOpen, err
		}
		return OutcomeFailed, err
	}
	if rec.State != types.StateEntryFilled || !rec.EntrySpread.Valid {
		return OutcomeNotOpen, fmt.Errorf("slot %d is %s", m.slot, rec.State)
	}

	m.rec = rec
	m.side = rec.Side()
	m.contract = rec.ContractWithExpiry()
	m.logger = m.logger.With("combo", rec.Combo, "quantity", rec.Quantity)

	if rec.Initialized() && rec.LowerBreach.Valid && rec.UpperBreach.Valid {
		m.levels = risk.Levels{Lower: rec.LowerBreach.Decimal, Upper: rec.UpperBreach.Decimal}
		m.hasLevels = true
		m.logger.Info("monitor resumed", "lower", m.levels.Lower, "upper", m.levels.Upper)
	} else if levels, err := risk.ComputeLevels(m.cfg.Levels, m.side, rec.EntrySpread.Decimal, rec.EntryStdDev, rec.AbsQuantity()); err != nil {
		// Forced exits still apply without a band.
		m.logger.Error("no breach levels, watching for forced exits only", "err", err, "std_dev", rec.EntryStdDev)
		m.deps.Notifier.Notify(ctx, alerting.EventNoBreachLevels, "position has no breach levels",
			"slot", m.slot, "combo", rec.Combo, "err", err.Error())
	} else {
		m.hasLevels = true
		rec.LowerBreach = position.Dec(levels.Lower)
		rec.UpperBreach = position.Dec(levels.Upper)
		rec.LastUpdated = m.now()
		rec.Normalize()
		m.levels = risk.Levels{Lower: rec.LowerBreach.Decimal, Upper: rec.UpperBreach.Decimal}
		if err := m.deps.Book.Put(ctx, m.slot, rec); err != nil {
			m.logger.Warn("failed to persist levels", "err", err)
		}
		m.logger.Info("monitor started", "entry_spread", rec.EntrySpread.Decimal, "lower", m.levels.Lower, "upper", m.levels.Upper)
	}

	m.tracker = risk.NewExcursionTracker(m.side, rec.EntrySpread.Decimal, rec.Excursion.MFE, rec.Excursion.MAE)
	m.lastPersist = m.now()
	return "", nil
}

func (m *Monitor) loop(ctx context.Context) Outcome {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if outcome, done := m.step(ctx); done {
			return outcome
		}
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-ticker.C:
		}
	}
}

// step runs one monitoring iteration. done is true when the monitor should
// terminate with outcome.
func (m *Monitor) step(ctx context.Context) (Outcome, bool) {
	if ctx.Err() != nil {
		return OutcomeCancelled, true
	}
	now := m.now()

	flags := m.deps.Flags.Take(m.slot)
	if flags.Stop {
		m.logger.Info("monitor stopped by operator")
		return OutcomeStopped, true
	}
	m.applyLevelUpdates(ctx, flags)

	if !m.deps.Gateway.IsConnected() {
		if m.disconnectedAt.IsZero() {
			m.disconnectedAt = now
			m.logger.Warn("gateway disconnected, waiting")
		}
		m.subscribed = false
		if now.Sub(m.disconnectedAt) > m.cfg.ConnectWait {
			m.logger.Error("gateway still disconnected, leaving position for reconciliation", "waited", now.Sub(m.disconnectedAt))
			return OutcomeDisconnected, true
		}
		return "", false
	}
	if !m.disconnectedAt.IsZero() {
		m.logger.Info("gateway reconnected", "after", now.Sub(m.disconnectedAt))
		m.disconnectedAt = time.Time{}
	}

	if reason := m.forcedExit(now, flags); reason != "" {
		return m.exit(ctx, reason, types.OrderStyleMarket)
	}

	m.ensureSubscription(ctx, now)

	spread, ok := m.currentSpread(now)
	if m.stale(now) {
		return OutcomeStale, true
	}
	if !ok {
		return "", false
	}
	m.setPhase(PhaseMonitoring)

	m.rec.LastSpread = position.Dec(spread)
	m.dirty = true
	m.tracker.Update(spread)

	if outcome, done := m.evaluate(ctx, spread); done {
		return outcome, true
	}

	if now.Sub(m.lastPersist) >= m.cfg.PersistInterval {
		m.persist(ctx)
	}
	return "", false
}

// evaluate classifies spread against the band and exits on a breach.
func (m *Monitor) evaluate(ctx context.Context, spread decimal.Decimal) (Outcome, bool) {
	if !m.hasLevels {
		return "", false
	}
	c := risk.Classify(m.side, spread, m.levels)
	m.logger.Debug("spread", "value", spread, "deviation", c.Deviation)
	if c.Breach != risk.BreachNone {
		m.recorder.RecordBreach(c.Breach.String())
		m.logger.Warn("breach",
			"kind", c.Breach.String(),
			"spread", spread,
			"lower", m.levels.Lower,
			"upper", m.levels.Upper,
		)
		m.deps.Notifier.Notify(ctx, alerting.EventBreach, "breach level crossed",
			"slot", m.slot, "combo", m.rec.Combo, "kind", c.Breach.String(), "spread", spread.StringFixed(2))
		return m.exit(ctx, c.Breach.String(), m.cfg.ExitStyle)
	}
	return "", false
}

func (m *Monitor) applyLevelUpdates(ctx context.Context, f intervention.Flags) {
	if !m.hasLevels {
		m.collectLevels(ctx, f)
		return
	}
	changed := false
	if f.UpdateStopLoss {
		if l, ok := m.levels.WithStop(m.side, f.StopLossTarget); ok {
			m.levels = l
			changed = true
			m.logger.Info("stop level updated", "target", f.StopLossTarget)
		} else {
			m.logger.Warn("stop level update refused", "target", f.StopLossTarget, "lower", m.levels.Lower, "upper", m.levels.Upper)
		}
	}
	if f.UpdateTakeProfit {
		if l, ok := m.levels.WithTake(m.side, f.TakeProfitTarget); ok {
			m.levels = l
			changed = true
			m.logger.Info("take level updated", "target", f.TakeProfitTarget)
		} else {
			m.logger.Warn("take level update refused", "target", f.TakeProfitTarget, "lower", m.levels.Lower, "upper", m.levels.Upper)
		}
	}
	if changed {
		m.persist(ctx)
	}
}

// collectLevels builds a band from operator targets when none could be
// derived. Both sides are needed; an inverted pair is discarded.
func (m *Monitor) collectLevels(ctx context.Context, f intervention.Flags) {
	if f.UpdateStopLoss {
		m.pendingStop = position.Dec(f.StopLossTarget)
	}
	if f.UpdateTakeProfit {
		m.pendingTake = position.Dec(f.TakeProfitTarget)
	}
	if !m.pendingStop.Valid || !m.pendingTake.Valid {
		return
	}

	stop, take := m.pendingStop.Decimal, m.pendingTake.Decimal
	m.pendingStop, m.pendingTake = decimal.NullDecimal{}, decimal.NullDecimal{}

	l := risk.Levels{Lower: stop, Upper: take}
	if m.side == types.SideShort {
		l = risk.Levels{Lower: take, Upper: stop}
	}
	if !l.Lower.LessThan(l.Upper) {
		m.logger.Warn("operator levels refused", "stop", stop, "take", take)
		return
	}
	m.levels = l
	m.hasLevels = true
	m.logger.Info("operator levels applied", "lower", l.Lower, "upper", l.Upper)
	m.persist(ctx)
}

// forcedExit returns the reason for an exit regardless of price, or "".
func (m *Monitor) forcedExit(now time.Time, f intervention.Flags) string {
	if f.SquareOff {
		return "manual"
	}
	loc := m.deps.Calendar.Location()
	if !now.Before(m.cfg.LastExitTime.On(now, loc)) {
		return "end-of-day"
	}
	if broker.ExpiresOn(m.rec.Expiry, now.In(loc)) {
		return "expiry"
	}
	return ""
}

func (m *Monitor) ensureSubscription(ctx context.Context, now time.Time) {
	if m.subscribed && m.lastTick.Before(m.subscribedAt) && now.Sub(m.subscribedAt) > m.cfg.ResubscribeAfter {
		m.logger.Warn("no market data since subscribing, resubscribing", "since", m.subscribedAt)
		if err := m.deps.Gateway.UnsubscribeQuote(m.reqID); err != nil {
			m.logger.Debug("unsubscribe failed", "err", err)
		}
		m.subscribed = false
		return
	}
	if m.subscribed {
		return
	}
	if err := m.deps.Gateway.SubscribeQuote(ctx, m.reqID, m.contract); err != nil {
		m.logger.Warn("market data subscription failed", "err", err)
		return
	}
	m.subscribed = true
	m.subscribedAt = now
}

// currentSpread prices the position at its exit side: bid for a long, ask
// for a short, falling back to the last trade.
func (m *Monitor) currentSpread(now time.Time) (decimal.Decimal, bool) {
	q, ok := m.deps.Events.Quote(m.reqID)
	if !ok {
		return decimal.Zero, false
	}
	if q.UpdatedAt.After(m.lastQuoteAt) {
		m.lastQuoteAt = q.UpdatedAt
		m.lastTick = now
	}

	price := q.Bid
	if m.side == types.SideShort {
		price = q.Ask
	}
	if !price.IsPositive() {
		price = q.Last
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	return price.Mul(decimal.NewFromInt(m.rec.AbsQuantity())), true
}

// stale reports whether prices stopped arriving. Before the first tick the
// monitor's start time is the reference.
func (m *Monitor) stale(now time.Time) bool {
	ref := m.lastTick
	if ref.IsZero() {
		ref = m.startedAt
	}
	if now.Sub(ref) <= m.cfg.StaleAfter {
		return false
	}
	m.logger.Error("market data stale, stopping monitor", "last_tick", m.lastTick, "limit", m.cfg.StaleAfter)
	return true
}

// exit squares the position off. A failed placement keeps monitoring so the
// next iteration retries.
func (m *Monitor) exit(ctx context.Context, reason string, style types.OrderStyle) (Outcome, bool) {
	m.setPhase(PhaseBreachInitiated)
	m.logger.Info("exiting position", "reason", reason, "style", style)

	// The orchestrator works from the stored record.
	m.persist(ctx)

	res, err := m.deps.Exec.Execute(ctx, execution.Job{
		Kind:     types.OrderKindExit,
		Slot:     m.slot,
		Contract: m.contract,
		Quantity: -m.rec.Quantity,
		Style:    style,
		Offset:   m.cfg.RelativeOffset,
		Tag:      fmt.Sprintf("exit-%s-%d", reason, m.slot),
	})
	if res.Record != nil {
		m.rec = res.Record
	}
	switch {
	case err == nil:
	case errors.Is(err, types.ErrOrderTimeout):
		m.logger.Error("exit fill unconfirmed", "order_id", res.OrderID, "err", err)
		return OutcomeExitUnconfirmed, true
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, store.ErrNil):
		m.logger.Error("slot changed under monitor", "err", err)
		return OutcomeFailed, true
	case ctx.Err() != nil:
		return OutcomeCancelled, true
	default:
		m.logger.Warn("exit not placed, retrying next iteration", "err", err)
		m.setPhase(PhaseMonitoring)
		return "", false
	}

	m.setPhase(PhaseSquaredOff)
	if err := m.deps.Exec.Retire(ctx, m.slot, res.Record); err != nil {
		m.logger.Error("failed to retire closed position", "err", err)
		return OutcomeFailed, true
	}
	m.logger.Info("position closed", "reason", reason, "exit_spread", res.Spread)
	return OutcomeClosed, true
}

// persist writes levels, last spread, excursion and the update time.
func (m *Monitor) persist(ctx context.Context) {
	if m.rec == nil || m.rec.State != types.StateEntryFilled {
		return
	}
	mfe, mae := m.tracker.Snapshot()
	if m.hasLevels {
		m.rec.LowerBreach = position.Dec(m.levels.Lower)
		m.rec.UpperBreach = position.Dec(m.levels.Upper)
	}
	m.rec.Excursion = position.Excursion{MFE: mfe, MAE: mae}
	m.rec.LastUpdated = m.now()
	m.rec.Normalize()

	if err := m.deps.Book.Put(context.WithoutCancel(ctx), m.slot, m.rec); err != nil {
		m.logger.Warn("failed to persist monitor status", "err", err)
		return
	}
	m.lastPersist = m.rec.LastUpdated
	m.dirty = false
}

func (m *Monitor) terminate(outcome Outcome) {
	ctx := context.Background()
	if m.dirty && outcome != OutcomeClosed {
		m.persist(ctx)
	}
	if m.subscribed {
		if err := m.deps.Gateway.UnsubscribeQuote(m.reqID); err != nil {
			m.logger.Debug("unsubscribe failed", "err", err)
		}
		m.subscribed = false
	}
	if outcome != OutcomeCancelled {
		m.deps.Flags.Clear(m.slot)
	}
	m.setPhase(PhaseTerminated)
	m.recorder.RecordMonitorExit(string(outcome))

	if outcome.abnormal() {
		combo := ""
		if m.rec != nil {
			combo = m.rec.Combo
		}
		m.deps.Notifier.Notify(ctx, alerting.EventMonitorTerminated, "monitor terminated",
			"slot", m.slot, "combo", combo, "outcome", string(outcome))
	}
	m.logger.Info("monitor terminated", "outcome", outcome)
}
