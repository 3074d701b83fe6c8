package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-executor/internal/config"
	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/ui"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	watch := fs.Duration("watch", 0, "Redraw at this interval until interrupted")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cal, err := cfg.Calendar()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Calendar error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st := newStore(cfg, logger)
	defer st.Close()

	loc := cfg.Location()
	book := store.NewBook(st, store.Keys{Prefix: cfg.Strategy.Name}, position.NewCodec(loc), logger)
	costRate := decimal.NewFromFloat(cfg.Risk.CostRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board := ui.NewBoard(os.Stdout, costRate, loc)
	draw := func() error {
		open, err := book.Open(ctx)
		if err != nil {
			return fmt.Errorf("load open slots: %w", err)
		}
		closed, err := book.Closed(ctx)
		if err != nil {
			return fmt.Errorf("load closed positions: %w", err)
		}

		now := time.Now()
		rows := make([]ui.Row, 0, len(open))
		records := make([]*position.Record, 0, len(open))
		for slot, rec := range open {
			rows = append(rows, ui.Row{Slot: slot, Record: rec})
			records = append(records, rec)
		}
		board.Render(rows, risk.DailyPnL(records, closed, now, costRate, cal.SameTradingDay), now)
		return nil
	}

	if *watch <= 0 {
		if err := draw(); err != nil {
			fmt.Fprintf(os.Stderr, "Status error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	board.Start()
	defer board.Stop()

	ticker := time.NewTicker(*watch)
	defer ticker.Stop()
	for {
		if err := draw(); err != nil {
			fmt.Fprintf(os.Stderr, "Status error: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
