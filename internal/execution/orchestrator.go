// Package execution places and tracks orders for entries and exits.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Lock serializes order id acquisition with placement, and admission
// placeholder writes. The venue requires non-decreasing order ids within a
// session, so every order-placing call site shares one Lock.
type Lock struct {
	sync.Mutex
}

// Config holds orchestrator timing and retry settings.
type Config struct {
	EntryTimeout time.Duration
	ExitTimeout  time.Duration
	GracePeriod  time.Duration
	QuoteWait    time.Duration
	PollInitial  time.Duration
	PollMax      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	// QuoteReqBase + slot is the one-shot quote request id.
	QuoteReqBase int64
	// CostRate is applied to closed trade P&L.
	CostRate decimal.Decimal
}

// DefaultConfig returns default orchestrator config.
func DefaultConfig() Config {
	return Config{
		EntryTimeout: 750 * time.Second,
		ExitTimeout:  750 * time.Second,
		GracePeriod:  30 * time.Second,
		QuoteWait:    3 * time.Second,
		PollInitial:  time.Second,
		PollMax:      30 * time.Second,
		MaxRetries:   2,
		RetryDelay:   500 * time.Millisecond,
		QuoteReqBase: 1000,
	}
}

// Job is a single directional order for a slot.
type Job struct {
	Kind     types.OrderKind
	Slot     int
	Contract broker.Contract
	// Quantity is signed: positive buys, negative sells.
	Quantity int64
	Style    types.OrderStyle
	Limit    decimal.Decimal
	Offset   decimal.Decimal
	Tag      string
}

// Result describes a completed or abandoned order.
type Result struct {
	OrderID  int64
	Filled   int64
	AvgPrice decimal.Decimal
	// Spread is the average fill price times the absolute quantity.
	Spread   decimal.Decimal
	Quote    position.Quote
	FilledAt time.Time
	// Record is the slot's record as last persisted.
	Record *position.Record
}

// Journal records closed trades.
type Journal interface {
	SaveClosedTrade(ctx context.Context, slot int, r *position.Record) error
}

// Orchestrator places orders and follows them to a fill.
type Orchestrator struct {
	cfg      Config
	gw       broker.Gateway
	events   *bus.Bus
	book     *store.Book
	lock     *Lock
	journal  Journal
	notifier *alerting.Notifier
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.RWMutex
	onEntryFilled func(slot int)
}

// NewOrchestrator creates an orchestrator. journal and notifier may be nil.
func NewOrchestrator(
	cfg Config,
	gw broker.Gateway,
	events *bus.Bus,
	book *store.Book,
	lock *Lock,
	journal Journal,
	notifier *alerting.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = time.Second
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = cfg.PollInitial
	}
	return &Orchestrator{
		cfg:      cfg,
		gw:       gw,
		events:   events,
		book:     book,
		lock:     lock,
		journal:  journal,
		notifier: notifier,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetEntryFilledHandler sets the callback invoked after an entry fill is
// persisted.
func (o *Orchestrator) SetEntryFilledHandler(fn func(slot int)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEntryFilled = fn
}

// Lock returns the shared order lock.
func (o *Orchestrator) Lock() *Lock { return o.lock }

// Execute places job and waits for it to fill. An entry whose order never
// reaches the venue frees its slot. An order unfilled at its ceiling returns
// types.ErrOrderTimeout and is left for the auditor; it is never cancelled.
func (o *Orchestrator) Execute(ctx context.Context, job Job) (Result, error) {
	if job.Quantity == 0 {
		return Result{}, fmt.Errorf("slot %d: %w", job.Slot, types.ErrInvalidOrderSize)
	}

	log := o.logger.With("slot", job.Slot, "kind", job.Kind.String(), "contract", job.Contract.String())

	rec, err := o.book.Get(ctx, job.Slot)
	if err != nil {
		return Result{}, fmt.Errorf("load slot %d: %w", job.Slot, err)
	}
	want := types.StateSlotBlocked
	if job.Kind == types.OrderKindExit {
		want = types.StateEntryFilled
	}
	if rec.State != want {
		return Result{Record: rec}, fmt.Errorf("slot %d is %s, expected %s: %w", job.Slot, rec.State, want, types.ErrInvalidTransition)
	}

	quoteReq := o.cfg.QuoteReqBase + int64(job.Slot)
	quote := o.snapshotQuote(ctx, quoteReq, job.Contract, log)
	defer func() {
		if err := o.gw.UnsubscribeQuote(quoteReq); err != nil {
			log.Debug("unsubscribe one-shot quote failed", "err", err)
		}
	}()

	timer := metrics.NewTimer()
	orderID, err := o.place(ctx, job, log)
	if err != nil {
		o.recorder.RecordOrder(job.Kind.String(), string(broker.ActionFor(job.Quantity)), "rejected")
		o.notifier.Notify(ctx, alerting.EventOrderRejected, "order could not be placed",
			"slot", job.Slot, "kind", job.Kind.String(), "err", err)
		if job.Kind == types.OrderKindEntry {
			o.releasePlaceholder(ctx, job.Slot, log)
		}
		return Result{Record: rec}, err
	}
	placedAt := o.now()
	log = log.With("order_id", orderID)

	if err := o.markInitiated(rec, job.Kind, orderID, quote, placedAt); err != nil {
		return Result{OrderID: orderID, Record: rec}, err
	}
	if err := o.book.Put(ctx, job.Slot, rec); err != nil {
		log.Error("failed to persist initiated state", "err", err)
	}

	ceiling := o.cfg.EntryTimeout
	if job.Kind == types.OrderKindExit {
		ceiling = o.cfg.ExitTimeout
	}

	absQty := abs(job.Quantity)
	onAck := func() {
		if job.Kind != types.OrderKindExit || rec.State != types.StateExitInitiated {
			return
		}
		if err := rec.Advance(types.StateExitSentToExchange); err == nil {
			rec.LastUpdated = o.now()
			if err := o.book.Put(ctx, job.Slot, rec); err != nil {
				log.Warn("failed to persist sent state", "err", err)
			}
		}
	}

	filled, avg, done := o.waitFill(ctx, orderID, absQty, ceiling, onAck)
	if !done && ctx.Err() == nil {
		log.Warn("order unfilled at ceiling, requesting executions", "filled", filled, "ceiling", ceiling)
		if err := o.gw.RequestExecutions(ctx, quoteReq, placedAt.Add(-time.Minute)); err != nil {
			log.Warn("request executions failed", "err", err)
		}
		filled, avg, done = o.waitFill(ctx, orderID, absQty, o.cfg.GracePeriod, onAck)
	}

	res := Result{OrderID: orderID, Filled: filled, AvgPrice: avg, Quote: quote, Record: rec}

	if !done {
		onAck()
		rec.LastUpdated = o.now()
		if err := o.book.Put(context.WithoutCancel(ctx), job.Slot, rec); err != nil {
			log.Error("failed to persist unfilled order state", "err", err)
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		o.recorder.RecordOrder(job.Kind.String(), string(broker.ActionFor(job.Quantity)), "timeout")
		o.notifier.Notify(ctx, alerting.EventOrderTimeout, "order unfilled at ceiling",
			"slot", job.Slot, "order_id", orderID, "filled", filled, "quantity", absQty, "state", rec.State.String())
		log.Error("order unfilled, left for reconciliation", "filled", filled, "state", rec.State)
		return res, fmt.Errorf("order %d: %w", orderID, types.ErrOrderTimeout)
	}

	res.FilledAt = o.now()
	res.Spread = avg.Mul(decimal.NewFromInt(absQty))
	if quote.IsZero() {
		if q, ok := o.events.Quote(quoteReq); ok {
			res.Quote = position.Quote{Bid: q.Bid, Ask: q.Ask}
		}
	}

	if err := o.markFilled(rec, job.Kind, res); err != nil {
		return res, err
	}
	if err := o.book.Put(context.WithoutCancel(ctx), job.Slot, rec); err != nil {
		log.Error("failed to persist fill", "err", err)
	}

	timer.ObserveFill(job.Kind.String())
	o.recorder.RecordOrder(job.Kind.String(), string(broker.ActionFor(job.Quantity)), "filled")
	log.Info("order filled", "avg_price", avg, "spread", res.Spread)

	if job.Kind == types.OrderKindEntry {
		o.notifier.Notify(ctx, alerting.EventPositionOpened, "entry filled",
			"slot", job.Slot, "combo", rec.Combo, "quantity", rec.Quantity, "spread", res.Spread.StringFixed(2))
		o.mu.RLock()
		fn := o.onEntryFilled
		o.mu.RUnlock()
		if fn != nil {
			fn(job.Slot)
		}
	}

	return res, nil
}

// snapshotQuote subscribes the one-shot quote and waits for bid and ask.
// A missing quote is logged and an empty snapshot returned.
func (o *Orchestrator) snapshotQuote(ctx context.Context, reqID int64, contract broker.Contract, log *slog.Logger) position.Quote {
	ticks, unsub := o.events.Subscribe(bus.Topic{Kind: bus.KindTick, Key: reqID}, 16)
	defer unsub()

	if err := o.gw.SubscribeQuote(ctx, reqID, contract); err != nil {
		log.Warn("one-shot quote subscription failed", "err", err)
		return position.Quote{}
	}

	timeout := time.NewTimer(o.cfg.QuoteWait)
	defer timeout.Stop()

	for {
		if q, ok := o.events.Quote(reqID); ok && q.HasBidAsk() {
			return position.Quote{Bid: q.Bid, Ask: q.Ask}
		}
		select {
		case <-ctx.Done():
			return position.Quote{}
		case <-timeout.C:
			log.Warn("no quote before placement", "wait", o.cfg.QuoteWait)
			return position.Quote{}
		case <-ticks:
		}
	}
}

// place acquires an order id and sends the order under the shared lock,
// retrying placement failures.
func (o *Orchestrator) place(ctx context.Context, job Job, log *slog.Logger) (int64, error) {
	ref := job.Tag
	if ref == "" {
		ref = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			o.recorder.RecordOrderRetry(job.Kind.String())
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(o.cfg.RetryDelay):
			}
		}

		id, err := o.placeOnce(ctx, job, ref)
		if err == nil {
			log.Info("order placed", "order_id", id, "attempt", attempt+1, "quantity", job.Quantity, "style", job.Style)
			return id, nil
		}
		lastErr = err
		log.Warn("order placement failed", "attempt", attempt+1, "err", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
	}

	return 0, fmt.Errorf("slot %d after %d attempts: %w: %v", job.Slot, o.cfg.MaxRetries+1, types.ErrOrderRejected, lastErr)
}

func (o *Orchestrator) placeOnce(ctx context.Context, job Job, ref string) (int64, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	id, err := o.nextOrderID(ctx)
	if err != nil {
		return 0, err
	}

	req := broker.OrderRequest{
		OrderID:    id,
		Contract:   job.Contract,
		Action:     broker.ActionFor(job.Quantity),
		Quantity:   abs(job.Quantity),
		Style:      job.Style,
		LimitPrice: job.Limit,
		Offset:     job.Offset,
		Ref:        ref,
	}
	if err := o.gw.PlaceOrder(ctx, req); err != nil {
		return 0, err
	}
	return id, nil
}

// nextOrderID takes the next id from the store counter, lifting the counter
// to the venue's next valid id when it lags behind. Callers hold the lock.
func (o *Orchestrator) nextOrderID(ctx context.Context) (int64, error) {
	key := o.book.Keys().OrderID()
	st := o.book.Store()

	id, err := st.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	if seed := o.gw.NextValidOrderID(); id < seed {
		if err := st.Set(ctx, key, strconv.FormatInt(seed, 10)); err != nil {
			return 0, fmt.Errorf("seed order id: %w", err)
		}
		id = seed
	}
	return id, nil
}

func (o *Orchestrator) releasePlaceholder(ctx context.Context, slot int, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	rec, err := o.book.Get(ctx, slot)
	if err != nil {
		log.Warn("could not reload placeholder", "err", err)
		return
	}
	if rec.State != types.StateSlotBlocked {
		return
	}
	if err := o.book.Delete(ctx, slot); err != nil {
		log.Error("failed to free slot after rejected entry", "err", err)
		return
	}
	o.events.Forget(rec.EntryOrderIDs...)
	log.Info("slot freed after rejected entry")
}

func (o *Orchestrator) markInitiated(rec *position.Record, kind types.OrderKind, orderID int64, quote position.Quote, at time.Time) error {
	if kind == types.OrderKindEntry {
		if err := rec.Advance(types.StateEntryInitiated); err != nil {
			return err
		}
		rec.EntryTime = at
		rec.EntryOrderIDs = append(rec.EntryOrderIDs, orderID)
		rec.EntryQuote = quote
		return nil
	}

	if err := rec.Advance(types.StateExitInitiated); err != nil {
		return err
	}
	rec.ExitOrderIDs = append(rec.ExitOrderIDs, orderID)
	rec.ExitQuote = quote
	rec.LastUpdated = at
	return nil
}

func (o *Orchestrator) markFilled(rec *position.Record, kind types.OrderKind, res Result) error {
	if kind == types.OrderKindEntry {
		if err := rec.Advance(types.StateEntryFilled); err != nil {
			return err
		}
		rec.EntrySpread = position.Dec(res.Spread)
		rec.EntryQuote = res.Quote
		rec.Normalize()
		return nil
	}

	if rec.State == types.StateExitInitiated {
		if err := rec.Advance(types.StateExitSentToExchange); err != nil {
			return err
		}
	}
	if err := rec.Advance(types.StateExitFilled); err != nil {
		return err
	}
	rec.ExitSpread = position.Dec(res.Spread)
	rec.ExitTime = res.FilledAt
	rec.ExitQuote = res.Quote
	rec.LastSpread = position.Dec(res.Spread)
	rec.LastUpdated = res.FilledAt
	rec.Normalize()
	return nil
}

// waitFill follows an order until absQty is filled or the wait elapses. The
// latest status snapshot is polled with a doubling interval, and any status
// or execution event for the order triggers an early check. onAck runs on
// every check once the venue has acknowledged the order.
func (o *Orchestrator) waitFill(ctx context.Context, orderID, absQty int64, wait time.Duration, onAck func()) (int64, decimal.Decimal, bool) {
	statusCh, unsubStatus := o.events.Subscribe(bus.Topic{Kind: bus.KindOrderStatus, Key: orderID}, 8)
	defer unsubStatus()
	execCh, unsubExec := o.events.Subscribe(bus.Topic{Kind: bus.KindExecution, Key: orderID}, 8)
	defer unsubExec()

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	interval := o.cfg.PollInitial
	for {
		filled, avg, acked := o.fillState(orderID)
		if acked {
			onAck()
		}
		if filled >= absQty {
			return filled, avg, true
		}

		poll := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return filled, avg, false
		case <-deadline.C:
			poll.Stop()
			filled, avg, _ = o.fillState(orderID)
			return filled, avg, filled >= absQty
		case <-statusCh:
		case <-execCh:
		case <-poll.C:
			interval *= 2
			if interval > o.cfg.PollMax {
				interval = o.cfg.PollMax
			}
		}
		poll.Stop()
	}
}

// fillState combines the status snapshot with reported executions. Status
// carries the cumulative filled quantity; executions cover fills replayed
// after the status stream was missed.
func (o *Orchestrator) fillState(orderID int64) (int64, decimal.Decimal, bool) {
	status, hasStatus := o.events.Order(orderID)
	execShares, vwap := bus.FilledFromExecutions(o.events.Executions(orderID))

	acked := (hasStatus && status.Acknowledged()) || execShares > 0
	if hasStatus && status.Filled >= execShares && status.AvgPrice.IsPositive() {
		return status.Filled, status.AvgPrice, acked
	}
	return execShares, vwap, acked
}

// Retire moves an exit-filled record from its slot to the closed list and
// journals it.
func (o *Orchestrator) Retire(ctx context.Context, slot int, rec *position.Record) error {
	if rec.State != types.StateExitFilled {
		return fmt.Errorf("retire slot %d in %s: %w", slot, rec.State, types.ErrInvalidTransition)
	}
	ctx = context.WithoutCancel(ctx)
	if err := o.book.Retire(ctx, slot, rec); err != nil {
		return err
	}
	o.events.Forget(rec.EntryOrderIDs...)
	o.events.Forget(rec.ExitOrderIDs...)

	pnl, _ := rec.NetPnL(o.cfg.CostRate)
	o.recorder.RecordTrade(rec.Combo, rec.Side().String(), pnl)
	o.notifier.Notify(ctx, alerting.EventPositionClosed, "position closed",
		"slot", slot, "combo", rec.Combo, "net_pnl", pnl.StringFixed(2))

	if o.journal != nil {
		if err := o.journal.SaveClosedTrade(ctx, slot, rec); err != nil {
			o.logger.Warn("failed to journal closed trade", "slot", slot, "err", err)
		}
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
