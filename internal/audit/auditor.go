// Package audit finds positions stuck in a pending order state and
// reconciles them against the venue's execution reports.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/persistence"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Resolutions recorded on a finding.
const (
	ResolutionReconciled = "reconciled"
	ResolutionStuck      = "stuck"
	ResolutionChanged    = "changed"
	ResolutionError      = "error"
)

// Config holds auditor settings.
type Config struct {
	Interval time.Duration
	// StuckAfter is the age past which a pending record is a finding.
	StuckAfter time.Duration
	// Grace is how long replayed executions are collected.
	Grace time.Duration
	// ReqBase + slot is the execution request id.
	ReqBase int64
}

// DefaultConfig returns default auditor config.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		StuckAfter: 15 * time.Minute,
		Grace:      30 * time.Second,
		ReqBase:    3000,
	}
}

// Retirer moves an exit-filled record to the closed list.
type Retirer interface {
	Retire(ctx context.Context, slot int, rec *position.Record) error
}

// Journal stores sweep findings.
type Journal interface {
	SaveAuditFinding(ctx context.Context, f persistence.AuditFinding) error
}

// Deps are the collaborators of an Auditor. Journal and Notifier may be nil.
type Deps struct {
	Gateway  broker.Gateway
	Events   *bus.Bus
	Book     *store.Book
	Retirer  Retirer
	Journal  Journal
	Notifier *alerting.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Auditor periodically sweeps open slots for stuck orders.
type Auditor struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	mu            sync.RWMutex
	onEntryFilled func(slot int)
}

// New creates an auditor.
func New(cfg Config, deps Deps) *Auditor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Auditor{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		now:      now,
	}
}

// SetEntryFilledHandler registers a callback for entries reconciled to
// entry-filled.
func (a *Auditor) SetEntryFilledHandler(fn func(slot int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEntryFilled = fn
}

// Run sweeps every Interval until ctx is done.
func (a *Auditor) Run(ctx context.Context) error {
	a.logger.Info("auditor started", "interval", a.cfg.Interval, "stuck_after", a.cfg.StuckAfter)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("auditor stopped")
			return nil
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Warn("audit sweep failed", "err", err)
			}
		}
	}
}

// Sweep inspects every open slot once and returns the findings.
func (a *Auditor) Sweep(ctx context.Context) ([]persistence.AuditFinding, error) {
	open, err := a.deps.Book.Open(ctx)
	if err != nil {
		a.recorder.RecordStoreUnavailable("audit")
		return nil, fmt.Errorf("load open slots: %w", err)
	}

	slots := make([]int, 0, len(open))
	for slot := range open {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	sweepID := uuid.NewString()
	log := a.logger.With("sweep_id", sweepID)
	now := a.now()

	var findings []persistence.AuditFinding
	stuck := 0
	for _, slot := range slots {
		rec := open[slot]
		if !rec.State.IsPending() {
			continue
		}
		age := now.Sub(rec.ReferenceTime())
		if age < a.cfg.StuckAfter {
			continue
		}

		f := a.reconcile(ctx, slot, rec, log)
		f.SweepID = sweepID
		f.Age = age
		f.ReferenceTime = rec.ReferenceTime()
		f.CreatedAt = now
		if f.Resolution == ResolutionStuck || f.Resolution == ResolutionError {
			stuck++
		}
		findings = append(findings, f)

		if a.deps.Journal != nil {
			if err := a.deps.Journal.SaveAuditFinding(ctx, f); err != nil {
				log.Warn("failed to journal audit finding", "slot", slot, "err", err)
			}
		}
	}

	a.recorder.RecordAudit(stuck)
	if len(findings) > 0 {
		log.Info("audit sweep complete", "findings", len(findings), "stuck", stuck)
	}
	return findings, nil
}

func (a *Auditor) reconcile(ctx context.Context, slot int, rec *position.Record, log *slog.Logger) persistence.AuditFinding {
	log = log.With("slot", slot, "combo", rec.Combo, "state", rec.State)
	f := persistence.AuditFinding{Slot: slot, Combo: rec.Combo, State: rec.State.String()}

	ids := rec.ExitOrderIDs
	if rec.State == types.StateEntryInitiated {
		ids = rec.EntryOrderIDs
	}
	if len(ids) == 0 {
		return a.report(ctx, f, "no order ids recorded", log)
	}

	filled, vwap, last := a.collect(ctx, slot, ids, rec.EntryTime.Add(-time.Minute), rec.AbsQuantity(), log)

	fresh, err := a.deps.Book.Get(ctx, slot)
	if err != nil {
		f.Resolution = ResolutionError
		f.Detail = err.Error()
		log.Warn("failed to re-read record", "err", err)
		return f
	}
	if fresh.State != rec.State {
		f.Resolution = ResolutionChanged
		f.Detail = "state moved to " + fresh.State.String()
		log.Info("record changed during audit", "now", fresh.State)
		return f
	}

	if filled < rec.AbsQuantity() {
		return a.report(ctx, f, fmt.Sprintf("filled %d of %d", filled, rec.AbsQuantity()), log)
	}

	spread := vwap.Mul(decimal.NewFromInt(rec.AbsQuantity()))
	if last.IsZero() {
		last = a.now()
	}
	if err := a.apply(ctx, slot, fresh, spread, last); err != nil {
		f.Resolution = ResolutionError
		f.Detail = err.Error()
		log.Error("failed to apply reconciled fill", "err", err)
		return f
	}

	kind := types.OrderKindExit
	if rec.State == types.StateEntryInitiated {
		kind = types.OrderKindEntry
	}
	a.recorder.RecordReconciled(kind.String())
	a.deps.Notifier.Notify(ctx, alerting.EventReconciled, "stuck order reconciled",
		"slot", slot, "combo", rec.Combo, "kind", kind.String(), "spread", spread.StringFixed(2))
	log.Info("stuck order reconciled", "kind", kind, "spread", spread)

	f.Resolution = ResolutionReconciled
	f.Detail = fmt.Sprintf("%s filled %d at %s", kind, filled, vwap.StringFixed(2))

	if kind == types.OrderKindEntry {
		a.deps.Events.Forget(ids...)
		a.mu.RLock()
		fn := a.onEntryFilled
		a.mu.RUnlock()
		if fn != nil {
			fn(slot)
		}
	}
	return f
}

func (a *Auditor) report(ctx context.Context, f persistence.AuditFinding, detail string, log *slog.Logger) persistence.AuditFinding {
	f.Resolution = ResolutionStuck
	f.Detail = detail
	log.Warn("stuck order needs manual action", "detail", detail)
	a.deps.Notifier.Notify(ctx, alerting.EventStuckOrder, "stuck order needs manual action",
		"slot", f.Slot, "combo", f.Combo, "state", f.State, "detail", detail)
	return f
}

// collect asks the venue to replay executions and waits up to Grace for
// fills of ids to cover absQty.
func (a *Auditor) collect(ctx context.Context, slot int, ids []int64, since time.Time, absQty int64, log *slog.Logger) (int64, decimal.Decimal, time.Time) {
	done := make(chan struct{})
	defer close(done)

	notify := make(chan struct{}, 1)
	for _, id := range ids {
		ch, unsub := a.deps.Events.Subscribe(bus.Topic{Kind: bus.KindExecution, Key: id}, 8)
		defer unsub()
		go func() {
			for {
				select {
				case <-done:
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	reqID := a.cfg.ReqBase + int64(slot)
	if err := a.deps.Gateway.RequestExecutions(ctx, reqID, since); err != nil {
		log.Warn("execution replay request failed", "err", err)
	}

	grace := time.NewTimer(a.cfg.Grace)
	defer grace.Stop()

	for {
		filled, vwap, last := a.fills(ids)
		if filled >= absQty {
			return filled, vwap, last
		}
		select {
		case <-ctx.Done():
			return filled, vwap, last
		case <-grace.C:
			return a.fills(ids)
		case <-notify:
		}
	}
}

func (a *Auditor) fills(ids []int64) (int64, decimal.Decimal, time.Time) {
	var execs []bus.Execution
	for _, id := range ids {
		execs = append(execs, a.deps.Events.Executions(id)...)
	}
	var last time.Time
	for _, e := range execs {
		if e.Time.After(last) {
			last = e.Time
		}
	}
	filled, vwap := bus.FilledFromExecutions(execs)
	return filled, vwap, last
}

func (a *Auditor) apply(ctx context.Context, slot int, rec *position.Record, spread decimal.Decimal, at time.Time) error {
	if rec.State == types.StateEntryInitiated {
		if err := rec.Advance(types.StateEntryFilled); err != nil {
			return err
		}
		rec.EntrySpread = position.Dec(spread)
		rec.Normalize()
		return a.deps.Book.Put(ctx, slot, rec)
	}

	if rec.State == types.StateExitInitiated {
		if err := rec.Advance(types.StateExitSentToExchange); err != nil {
			return err
		}
	}
	if err := rec.Advance(types.StateExitFilled); err != nil {
		return err
	}
	rec.ExitSpread = position.Dec(spread)
	rec.LastSpread = position.Dec(spread)
	rec.ExitTime = at
	rec.LastUpdated = at
	rec.Normalize()
	if err := a.deps.Book.Put(ctx, slot, rec); err != nil {
		return err
	}
	if a.deps.Retirer == nil {
		return nil
	}
	return a.deps.Retirer.Retire(ctx, slot, rec)
}
