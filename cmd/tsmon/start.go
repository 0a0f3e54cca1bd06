package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/tsmon/internal/api"
	"github.com/mattjoyce/tsmon/internal/auth"
	"github.com/mattjoyce/tsmon/internal/boot"
	"github.com/mattjoyce/tsmon/internal/config"
	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/journal"
	"github.com/mattjoyce/tsmon/internal/lock"
	"github.com/mattjoyce/tsmon/internal/log"
	"github.com/mattjoyce/tsmon/internal/platform"
	"github.com/mattjoyce/tsmon/internal/scheduler"
	"github.com/mattjoyce/tsmon/internal/storage"
)

const pruneInterval = time.Hour

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Monitor.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("tsmon starting", "version", version, "config", path)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	calls := journal.New(db)

	sched, err := scheduler.New(ctx, cfg.Scheduler.NormalPrio, cfg.Scheduler.HighPrio)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}
	hub := events.NewHub(cfg.Events.Buffer)

	// The non-secure world is the gateway. It needs the prepared engine, so
	// it is bound after Prepare and before Enter.
	var world func(ctx context.Context, entry uint64) error
	boundary := platform.NewSimulator(func(ctx context.Context, entry uint64) error {
		return world(ctx, entry)
	})

	m, err := boot.Prepare(boot.Options{
		Config:    cfg,
		Boundary:  boundary,
		Scheduler: sched,
		Hub:       hub,
	})
	if err != nil {
		// DefaultHalt has already exited; this is reached only in tests.
		return 1
	}
	world = gatewayWorld(cfg, m, calls, hub)

	bootID, err := calls.BootStarted(ctx, cfg.Monitor.Name, m.Table.Len(), m.Entry)
	if err != nil {
		logger.Warn("failed to record boot", "error", err)
	}

	go pruneLoop(ctx, calls, cfg.State.JournalRetention, logger)

	logger.Info("tsmon running (press Ctrl+C to stop)")
	err = m.Enter(ctx)
	stop()
	sched.Wait()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if bootID != "" {
		if rerr := calls.BootStopped(context.Background(), bootID, err); rerr != nil {
			logger.Warn("failed to record boot stop", "error", rerr)
		}
	}
	if err != nil {
		logger.Error("non-secure world failed", "error", err)
		return 1
	}

	logger.Info("tsmon stopped")
	return 0
}

// gatewayWorld returns the lower-trust world: the API gateway when enabled,
// otherwise an idle world that waits for shutdown.
func gatewayWorld(cfg *config.Config, m *boot.Monitor, calls *journal.Journal, hub *events.Hub) func(context.Context, uint64) error {
	if !cfg.API.Enabled {
		return func(ctx context.Context, _ uint64) error {
			log.WithComponent("main").Info("API disabled; non-secure world idle")
			<-ctx.Done()
			return ctx.Err()
		}
	}

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	srv := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, m.Engine, m.Region, calls, hub, log.WithComponent("api"))

	return func(ctx context.Context, _ uint64) error {
		return srv.Start(ctx)
	}
}

func pruneLoop(ctx context.Context, calls *journal.Journal, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := calls.Prune(ctx, retention)
			if err != nil {
				logger.Warn("journal prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("journal pruned", "removed", n, "retention", retention.String())
			}
		}
	}
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	b, err := journal.New(db).LastBoot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}

	pid, running := lock.Probe(lock.PathFor(cfg.State.Path))

	if *jsonOut {
		out := map[string]any{"running": running, "last_boot": b}
		if running {
			out["pid"] = pid
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if b == nil {
		fmt.Println("No boot recorded.")
		return 0
	}
	fmt.Printf("Monitor:   %s\n", b.Monitor)
	fmt.Printf("Boot:      %s\n", b.ID)
	fmt.Printf("Booted at: %s\n", b.BootedAt.Local().Format(time.RFC3339))
	fmt.Printf("Services:  %d\n", b.Services)
	fmt.Printf("Entry:     %#x\n", b.Entry)
	switch {
	case running:
		fmt.Printf("State:     running (pid %d)\n", pid)
	case b.StoppedAt != nil:
		fmt.Printf("State:     stopped at %s\n", b.StoppedAt.Local().Format(time.RFC3339))
	default:
		fmt.Println("State:     not running (no clean stop recorded)")
	}
	if b.LastError != nil {
		fmt.Printf("Error:     %s\n", *b.LastError)
	}
	return 0
}
