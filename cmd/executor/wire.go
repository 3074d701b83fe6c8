package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/admission"
	"github.com/tathienbao/signal-executor/internal/alerting"
	"github.com/tathienbao/signal-executor/internal/audit"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/broker/ibkr"
	"github.com/tathienbao/signal-executor/internal/broker/paper"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/config"
	"github.com/tathienbao/signal-executor/internal/eod"
	"github.com/tathienbao/signal-executor/internal/execution"
	"github.com/tathienbao/signal-executor/internal/intervention"
	"github.com/tathienbao/signal-executor/internal/monitor"
	"github.com/tathienbao/signal-executor/internal/persistence"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/signal"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/supervisor"
)

// app is the fully wired executor.
type app struct {
	store      store.Store
	gateway    broker.Gateway
	paper      *paper.Gateway
	journal    *persistence.SQLiteRepository
	supervisor *supervisor.Supervisor
}

func newStore(cfg *config.Config, logger *slog.Logger) store.Store {
	var st store.Store
	switch cfg.Store.Type {
	case "redis":
		st = store.NewRedis(store.RedisConfig{
			Addr:     cfg.Store.Addr,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		})
	default:
		st = store.NewMemory()
	}
	return store.NewRetrying(st, cfg.StoreRetry(), logger)
}

func newGateway(cfg *config.Config, events *bus.Bus, paperMode bool, logger *slog.Logger) (broker.Gateway, *paper.Gateway) {
	if paperMode || cfg.Broker.Type != "ibkr" {
		gw := paper.NewGateway(paper.DefaultConfig(), events, logger.With("component", "paper"))
		for _, inst := range cfg.Instruments {
			if inst.PaperPrice > 0 {
				gw.SetPrice(cfg.Contract(inst).Symbol, decimal.NewFromFloat(inst.PaperPrice))
			}
		}
		return gw, gw
	}

	icfg := ibkr.DefaultConfig()
	icfg.Host = cfg.Broker.Host
	icfg.Port = cfg.Broker.Port
	icfg.ClientID = cfg.Broker.ClientID
	icfg.Account = cfg.Broker.Account
	icfg.Exchange = cfg.Broker.Exchange
	icfg.Currency = cfg.Broker.Currency
	if cfg.Execution.RateLimitPerSecond > 0 {
		icfg.MaxRequestsPerSecond = cfg.Execution.RateLimitPerSecond
	}
	icfg.PaperTrading = false
	return ibkr.NewClient(icfg, events, logger.With("component", "ibkr")), nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) *alerting.Notifier {
	if !cfg.Alerting.Enabled {
		return nil
	}
	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		var a alerting.Alerter
		switch ch.Type {
		case "telegram":
			a = alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			})
		case "console":
			a = alerting.NewConsoleAlerter(logger)
		default:
			continue
		}
		// Validated at load.
		minSev, _ := alerting.ParseSeverity(ch.MinSeverity)
		multi.AddRoute(alerting.Route{Alerter: a, MinSeverity: minSev})
	}
	if len(cfg.Alerting.Channels) == 0 {
		multi.AddAlerter(alerting.NewConsoleAlerter(logger))
	}
	return alerting.NewNotifier(multi, cfg.IsAlertEventEnabled, logger)
}

// build wires every component from cfg.
func build(cfg *config.Config, paperMode bool, logger *slog.Logger) (*app, error) {
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	entryStart, err := session.ParseClock(cfg.Admission.EntryStart)
	if err != nil {
		return nil, err
	}
	entryEnd, err := session.ParseClock(cfg.Admission.EntryEnd)
	if err != nil {
		return nil, err
	}
	lastExit, err := session.ParseClock(cfg.Monitor.LastExitTime)
	if err != nil {
		return nil, err
	}

	a := &app{}
	loc := cfg.Location()
	codec := position.NewCodec(loc)
	keys := store.Keys{Prefix: cfg.Strategy.Name}
	costRate := decimal.NewFromFloat(cfg.Risk.CostRate)

	a.store = newStore(cfg, logger.With("component", "store"))
	book := store.NewBook(a.store, keys, codec, logger.With("component", "book"))
	tunables := store.NewTunables(a.store, keys, cfg.Tunables())

	events := bus.New()
	a.gateway, a.paper = newGateway(cfg, events, paperMode, logger)
	notifier := newNotifier(cfg, logger.With("component", "alerting"))

	var journal execution.Journal
	var findings audit.Journal
	var state supervisor.StateStore
	if cfg.Persistence.Enabled {
		a.journal, err = persistence.NewSQLiteRepository(cfg.Persistence.Path, codec, costRate)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		journal, findings, state = a.journal, a.journal, a.journal
	}

	lock := &execution.Lock{}
	orch := execution.NewOrchestrator(execution.Config{
		EntryTimeout: cfg.EntryTimeout(),
		ExitTimeout:  cfg.ExitTimeout(),
		GracePeriod:  cfg.GracePeriod(),
		QuoteWait:    cfg.QuoteWait(),
		PollInitial:  execution.DefaultConfig().PollInitial,
		PollMax:      cfg.MaxPollInterval(),
		MaxRetries:   cfg.Execution.MaxRetries,
		RetryDelay:   cfg.RetryDelay(),
		QuoteReqBase: cfg.Execution.QuoteReqBase,
		CostRate:     costRate,
	}, a.gateway, events, book, lock, journal, notifier, logger.With("component", "execution"))

	defaults := signal.Defaults{LotSize: cfg.LotSizes(), Loc: loc}

	contracts := make(map[string]broker.Contract, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		contracts[inst.Name] = cfg.Contract(inst)
	}
	offset := decimal.NewFromFloat(cfg.Execution.RelativeOffset)

	gate := admission.NewGate(admission.Config{
		Rules: admission.Rules{
			EntryStart:       entryStart,
			EntryEnd:         entryEnd,
			MaxAge:           cfg.SignalMaxAge(),
			MaxEntriesPerDay: cfg.Admission.MaxEntriesPerDay,
			AllowDuplicates:  cfg.Admission.AllowDuplicates,
			AllowLong:        cfg.Admission.AllowLong,
			AllowShort:       cfg.Admission.AllowShort,
			Blacklist:        cfg.Admission.Blacklist,
			MoratoriumBars:   cfg.Admission.MoratoriumBars,
			Limits:           cfg.ToDailyLimits(),
			Levels:           cfg.ToLevelConfig(),
		},
		PoolSize:       cfg.PoolSize(),
		PopTimeout:     cfg.PopTimeout(),
		Contracts:      contracts,
		EntryStyle:     config.OrderStyle(cfg.Execution.EntryStyle),
		RelativeOffset: offset,
	}, cal, book, tunables, lock, orch, defaults, logger.With("component", "admission"))

	flags := intervention.NewFlagTable()
	manual := intervention.NewRouter(book, flags, tunables, notifier, defaults, cfg.PopTimeout(),
		logger.With("component", "intervention"))

	matcher, err := eod.NewSlotMatcher(cfg.Supervisor.EODSlotMatch, cal)
	if err != nil {
		return nil, err
	}
	eodRouter := eod.NewRouter(book, flags, matcher, defaults, cfg.PopTimeout(), logger.With("component", "eod"))
	eodRouter.SetReversalWait(cfg.ExitTimeout()+cfg.GracePeriod()+time.Minute, time.Second)

	auditor := audit.New(audit.Config{
		Interval:   cfg.AuditInterval(),
		StuckAfter: cfg.AuditStaleAfter(),
		Grace:      cfg.AuditGrace(),
		ReqBase:    cfg.Audit.ReqBase,
	}, audit.Deps{
		Gateway:  a.gateway,
		Events:   events,
		Book:     book,
		Retirer:  orch,
		Journal:  findings,
		Notifier: notifier,
		Logger:   logger.With("component", "audit"),
	})

	mcfg := monitor.Config{
		Interval:         cfg.MonitorInterval(),
		ConnectWait:      cfg.ConnectWait(),
		ResubscribeAfter: cfg.ResubscribeAfter(),
		StaleAfter:       cfg.StaleAfter(),
		PersistInterval:  cfg.PersistInterval(),
		LastExitTime:     lastExit,
		ReqBase:          cfg.Monitor.ReqBase,
		Levels:           cfg.ToLevelConfig(),
		ExitStyle:        config.OrderStyle(cfg.Execution.ExitStyle),
		RelativeOffset:   offset,
	}
	mdeps := monitor.Deps{
		Gateway:  a.gateway,
		Events:   events,
		Book:     book,
		Exec:     orch,
		Flags:    flags,
		Calendar: cal,
		Notifier: notifier,
		Logger:   logger.With("component", "monitor"),
	}

	workers := []supervisor.Worker{
		{Name: "admission", Run: gate.Run},
		{Name: "eod", Run: eodRouter.Run},
		{Name: "intervention", Run: manual.Run},
		{Name: "audit", Run: auditor.Run},
	}
	if a.paper != nil {
		gw := a.paper
		workers = append(workers, supervisor.Worker{Name: "price-walk", Run: func(ctx context.Context) error {
			gw.RunPriceWalk(ctx)
			return nil
		}})
	}

	a.supervisor = supervisor.New(supervisor.Config{
		SweepInterval: cfg.SweepInterval(),
		PoolSize:      cfg.PoolSize(),
		CostRate:      costRate,
	}, supervisor.Deps{
		Book:     book,
		Calendar: cal,
		Gateway:  a.gateway,
		Events:   events,
		Retirer:  orch,
		NewWatcher: func(slot int) supervisor.Watcher {
			return monitor.New(mcfg, slot, mdeps)
		},
		State:    state,
		Notifier: notifier,
		Logger:   logger.With("component", "supervisor"),
	}, workers...)

	orch.SetEntryFilledHandler(func(slot int) { a.supervisor.Ensure(slot) })
	auditor.SetEntryFilledHandler(func(slot int) { a.supervisor.Ensure(slot) })

	return a, nil
}

func (a *app) close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	_ = a.store.Close()
}
