// Package supervisor runs the executor's long-lived workers and keeps one
// exit monitor alive per filled slot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/metrics"
	"github.com/tathienbao/signal-executor/internal/monitor"
	"github.com/tathienbao/signal-executor/internal/persistence"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("supervisor already running")

// Config holds supervisor configuration.
type Config struct {
	SweepInterval time.Duration
	// PoolSize bounds the slot numbers a monitor may be started for.
	PoolSize int
	CostRate decimal.Decimal
}

// DefaultConfig returns default supervisor config.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 2 * time.Minute,
		PoolSize:      24,
	}
}

// Worker is a long-lived consumer run under the supervisor.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Watcher follows one slot until its position closes.
type Watcher interface {
	Run(ctx context.Context) monitor.Outcome
}

// Retirer moves an exit-filled record to the closed list.
type Retirer interface {
	Retire(ctx context.Context, slot int, rec *position.Record) error
}

// StateStore persists small markers across restarts.
type StateStore interface {
	SetState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (string, bool, error)
}

// Deps are the collaborators of a Supervisor. Gateway, Events, State and
// Notifier may be nil.
type Deps struct {
	Book       *store.Book
	Calendar   *session.Calendar
	Gateway    broker.Gateway
	Events     *bus.Bus
	Retirer    Retirer
	NewWatcher func(slot int) Watcher
	State      StateStore
	Notifier   *alerting.Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the slot registry and the worker group.
type Supervisor struct {
	cfg      Config
	deps     Deps
	workers  []Worker
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	monitors map[int]*running
	wg       sync.WaitGroup
}

// New creates a supervisor for workers.
func New(cfg Config, deps Deps, workers ...Worker) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Supervisor{
		cfg:      cfg,
		deps:     deps,
		workers:  workers,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		now:      now,
		monitors: make(map[int]*running),
	}
}

// Run starts every worker, the connection watcher and the sweep loop, and
// blocks until ctx is done or a worker fails. Monitors are drained before
// returning.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.ctx = gctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ctx = nil
		s.mu.Unlock()
	}()

	s.logger.Info("supervisor started", "workers", len(s.workers), "sweep_interval", s.cfg.SweepInterval)
	s.deps.Notifier.Notify(ctx, alerting.EventExecutorStarted, "executor started", "workers", len(s.workers))

	for _, w := range s.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
	if s.deps.Events != nil {
		g.Go(func() error {
			s.watchConnection(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.wg.Wait()

	s.logger.Info("supervisor stopped")
	s.deps.Notifier.Notify(context.WithoutCancel(ctx), alerting.EventExecutorStopped, "executor stopped")
	return err
}

// Ensure starts a monitor for slot unless one is already running. It
// reports whether a monitor was started.
func (s *Supervisor) Ensure(slot int) bool {
	if slot < 1 || (s.cfg.PoolSize > 0 && slot > s.cfg.PoolSize) {
		s.logger.Warn("slot outside pool", "slot", slot, "pool_size", s.cfg.PoolSize)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return false
	}
	if _, ok := s.monitors[slot]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	s.monitors[slot] = r
	w := s.deps.NewWatcher(slot)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()

		outcome := w.Run(ctx)
		s.logger.Info("monitor finished", "slot", slot, "outcome", outcome)

		s.mu.Lock()
		if s.monitors[slot] == r {
			delete(s.monitors, slot)
		}
		s.mu.Unlock()
	}()

	s.logger.Info("monitor started", "slot", slot)
	return true
}

// Lookup reports whether a monitor is running for slot.
func (s *Supervisor) Lookup(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[slot]
	return ok
}

// Active returns the monitored slots in ascending order.
func (s *Supervisor) Active() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]int, 0, len(s.monitors))
	for slot := range s.monitors {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

// Stop cancels the monitor of slot and waits for it to finish.
func (s *Supervisor) Stop(slot int) {
	s.mu.Lock()
	r, ok := s.monitors[slot]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

func (s *Supervisor) sweepLoop(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep starts missing monitors, retires lingering exit-filled records and
// refreshes position metrics.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.recorder.RecordHeartbeat()
	if s.deps.Gateway != nil {
		s.recorder.RecordBrokerStatus(s.deps.Gateway.IsConnected())
	}

	open, err := s.deps.Book.Open(ctx)
	if err != nil {
		s.recorder.RecordStoreUnavailable("sweep")
		s.logger.Warn("sweep failed to load open slots", "err", err)
		return
	}

	slots := make([]int, 0, len(open))
	for slot := range open {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	records := make([]*position.Record, 0, len(open))
	positions := 0
	for _, slot := range slots {
		rec := open[slot]
		records = append(records, rec)

		switch rec.State {
		case types.StateEntryFilled:
			s.Ensure(slot)
		case types.StateExitFilled:
			if s.Lookup(slot) || s.deps.Retirer == nil {
				break
			}
			if err := s.deps.Retirer.Retire(ctx, slot, rec); err != nil {
				s.logger.Warn("failed to retire exit-filled slot", "slot", slot, "err", err)
			} else {
				s.logger.Info("retired lingering exit-filled slot", "slot", slot)
				continue
			}
		}
		if rec.State.IsOpen() {
			positions++
		}
	}
	s.recorder.RecordPositionsOpen(positions)

	closed, err := s.deps.Book.Closed(ctx)
	if err != nil {
		s.logger.Warn("sweep failed to load closed positions", "err", err)
		return
	}

	now := s.now()
	if s.deps.Calendar == nil {
		return
	}
	pnl := risk.DailyPnL(records, closed, now, s.cfg.CostRate, s.deps.Calendar.SameTradingDay)
	s.recorder.RecordDailyPL(pnl)

	s.maybeSummarize(ctx, now, closed, positions)
}

// maybeSummarize sends the daily summary once per trading day after the
// session closes.
func (s *Supervisor) maybeSummarize(ctx context.Context, now time.Time, closed []*position.Record, openPositions int) {
	cal := s.deps.Calendar
	if s.deps.State == nil || !cal.IsTradingDay(now) {
		return
	}
	if _, end := cal.SessionBounds(now); now.Before(end) {
		return
	}

	today := now.In(cal.Location()).Format("2006-01-02")
	last, _, err := s.deps.State.GetState(ctx, persistence.StateLastSummaryDate)
	if err != nil {
		s.logger.Warn("failed to read summary marker", "err", err)
		return
	}
	if last == today {
		return
	}

	summary := alerting.NewDailySummary(now, closed, openPositions, s.cfg.CostRate, cal.SameTradingDay)
	s.deps.Notifier.Notify(ctx, alerting.EventDailySummary, summary.Headline(), summary.Fields()...)
	s.logger.Info("daily summary", summary.Fields()...)

	if err := s.deps.State.SetState(ctx, persistence.StateLastSummaryDate, today); err != nil {
		s.logger.Warn("failed to store summary marker", "err", err)
	}
}

func (s *Supervisor) watchConnection(ctx context.Context) {
	ch, unsub := s.deps.Events.Subscribe(bus.Topic{Kind: bus.KindConnection}, 4)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c, isConn := ev.(bus.Connection)
			if !isConn {
				continue
			}
			s.recorder.RecordBrokerStatus(c.Connected)
			if c.Connected {
				s.logger.Info("gateway connection restored")
				s.deps.Notifier.Notify(ctx, alerting.EventConnectionRestored, "gateway connection restored")
			} else {
				s.logger.Warn("gateway connection lost")
				s.deps.Notifier.Notify(ctx, alerting.EventConnectionLost, "gateway connection lost")
			}
		}
	}
}

// RegisterHealthChecks exposes supervisor state on the metrics server.
func (s *Supervisor) RegisterHealthChecks(srv *metrics.Server) {
	if s.deps.Gateway != nil {
		gw := s.deps.Gateway
		srv.RegisterReadinessCheck("gateway", func() metrics.Check {
			if gw.IsConnected() {
				return metrics.Healthy(gw.State().String())
			}
			return metrics.Unhealthy(gw.State().String())
		})
	}

	st := s.deps.Book.Store()
	srv.RegisterHealthCheck("store", func() metrics.Check {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			return metrics.Unhealthy(err.Error())
		}
		return metrics.Healthy("ok")
	})

	srv.RegisterHealthCheck("monitors", func() metrics.Check {
		return metrics.Healthy(fmt.Sprintf("%d running", len(s.Active())))
	})
}
