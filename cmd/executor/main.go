// Package main is the entry point for the signal executor.
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
	_ "time/tzdata"

	"github.com/tathienbao/signal-executor/internal/config"
	"github.com/tathienbao/signal-executor/internal/metrics"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Signal Executor - store-queue driven order execution

Usage:
  executor <command> [options]

Commands:
  run        Start the executor (live or paper)
  validate   Validate configuration file
  status     Show open slots and the day's P&L
  version    Show version information
  help       Show this help message

Examples:
  executor run --config config.yaml --paper
  executor validate --config config.yaml
  executor status --config config.yaml --watch 5s

Use "executor <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("executor version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Strategy: %s\n", cfg.Strategy.Name)
	fmt.Printf("  Instruments: %d\n", len(cfg.Instruments))
	fmt.Printf("  Max positions: %d (pool %d)\n", cfg.Admission.MaxPositions, cfg.PoolSize())
	fmt.Printf("  Store: %s, broker: %s\n", cfg.Store.Type, cfg.Broker.Type)
	fmt.Printf("  Daily stop/take: %.2f / %.2f\n", cfg.Risk.DailyStopLoss, cfg.Risk.DailyTakeProfit)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	paperMode := fs.Bool("paper", false, "Force the simulated gateway")
	debug := fs.Bool("debug", false, "Debug logging in text format")
	_ = fs.Parse(args)

	// Setup structured logging
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	if *debug {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "live"
	if *paperMode || cfg.Broker.Type != "ibkr" {
		mode = "paper"
	}
	slog.Info("executor starting",
		"version", Version,
		"mode", mode,
		"strategy", cfg.Strategy.Name,
		"store", cfg.Store.Type,
		"pool_size", cfg.PoolSize(),
	)

	a, err := build(cfg, *paperMode, logger)
	if err != nil {
		slog.Error("failed to build executor", "err", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.store.Ping(ctx); err != nil {
		slog.Error("store unreachable", "err", err)
		os.Exit(1)
	}

	var server *metrics.Server
	if cfg.Metrics.Enabled {
		scfg := metrics.DefaultServerConfig()
		scfg.Port = cfg.Metrics.Port
		if cfg.Metrics.Path != "" {
			scfg.MetricsPath = cfg.Metrics.Path
		}
		server = metrics.NewServer(scfg, logger.With("component", "metrics"))
		a.supervisor.RegisterHealthChecks(server)
		if err := server.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	if err := a.gateway.Connect(ctx); err != nil {
		slog.Error("failed to connect gateway", "err", err)
		os.Exit(1)
	}

	runErr := a.supervisor.Run(ctx)
	if runErr != nil {
		slog.Error("executor stopped with error", "err", runErr)
	} else {
		slog.Info("shutdown signal received")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := shutdown(shutdownCtx, a, server); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("executor shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}

func shutdown(ctx context.Context, a *app, server *metrics.Server) error {
	slog.Info("starting graceful shutdown")

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"close gateway", func() error {
			return a.gateway.Shutdown(ctx)
		}},
		{"stop metrics server", func() error {
			if server == nil {
				return nil
			}
			return server.Shutdown(ctx)
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	// Small delay to allow final log messages
	time.Sleep(100 * time.Millisecond)

	return nil
}
