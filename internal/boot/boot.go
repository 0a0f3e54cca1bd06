// Package boot brings the monitor up: partition memory, verify the service
// table, start one worker per service, and finally hand control to the
// lower-trust world.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattjoyce/tsmon/internal/config"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/log"
	"github.com/mattjoyce/tsmon/internal/memory"
	"github.com/mattjoyce/tsmon/internal/platform"
	"github.com/mattjoyce/tsmon/internal/scheduler"
	"github.com/mattjoyce/tsmon/internal/services"
)

// HaltFunc stops the system on an unrecoverable configuration fault. The
// default logs and exits; tests substitute a recorder.
type HaltFunc func(err error)

// DefaultHalt logs err and exits the process.
func DefaultHalt(err error) {
	log.Error("monitor halted", "error", err)
	os.Exit(1)
}

// Options are the collaborators of a boot.
type Options struct {
	Config    *config.Config
	Boundary  platform.Boundary
	Scheduler scheduler.Scheduler
	Hub       *events.Hub
	Halt      HaltFunc
	// ParkTimeout bounds how long boot waits for every worker to park.
	// Zero uses DefaultParkTimeout.
	ParkTimeout time.Duration
}

// DefaultParkTimeout is how long boot waits for the workers to park before
// halting.
const DefaultParkTimeout = 5 * time.Second

// Monitor is a prepared monitor waiting to enter the lower-trust world.
type Monitor struct {
	Engine *dispatch.Engine
	Table  *dispatch.Table
	Region *memory.Region
	Hub    *events.Hub
	Map    platform.MemoryMap
	Entry  uint64

	boundary platform.Boundary
	logger   *slog.Logger
}

// MemoryMap derives the physical layout from configuration. The secure
// region is omitted when its size is zero.
func MemoryMap(m config.MemoryConfig) platform.MemoryMap {
	var regions []platform.Region
	if m.SecureSize > 0 {
		regions = append(regions, platform.Region{Name: "secure", Start: m.SecureStart, Size: m.SecureSize, Secure: true})
	}
	regions = append(regions, platform.Region{Name: "nonsecure", Start: m.NonSecureStart, Size: m.NonSecureSize})
	return platform.MemoryMap{Regions: regions, ExecOffset: m.ExecOffset}
}

// SlotConfigs maps the configured services onto table slots.
func SlotConfigs(svcs []config.ServiceConfig) []dispatch.SlotConfig {
	out := make([]dispatch.SlotConfig, len(svcs))
	for i, s := range svcs {
		out[i] = dispatch.SlotConfig{Name: s.Name, Priority: s.Priority, Binding: s.Binding(i)}
	}
	return out
}

// Prepare runs every boot step except the final world entry. Any failure is
// passed to the halt func and also returned, for halt funcs that return.
func Prepare(opts Options) (*Monitor, error) {
	halt := opts.Halt
	if halt == nil {
		halt = DefaultHalt
	}
	fail := func(err error) (*Monitor, error) {
		halt(err)
		return nil, err
	}

	cfg := opts.Config
	logger := log.WithComponent("boot")
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub(cfg.Events.Buffer)
	}

	mm := MemoryMap(cfg.Memory)
	if err := opts.Boundary.Partition(mm); err != nil {
		return fail(fmt.Errorf("partition memory: %w", err))
	}
	entry, err := mm.Entry()
	if err != nil {
		return fail(fmt.Errorf("entry point: %w", err))
	}
	ns, err := mm.NonSecure()
	if err != nil {
		return fail(err)
	}

	table, err := dispatch.NewTable(SlotConfigs(cfg.Services))
	if err != nil {
		return fail(fmt.Errorf("service table: %w", err))
	}
	sched := opts.Scheduler
	if err := table.Verify(sched.NormalPrio(), sched.HighPrio()); err != nil {
		return fail(fmt.Errorf("service table: %w", err))
	}

	region, err := memory.NewRegion(ns.Start, ns.Size)
	if err != nil {
		return fail(fmt.Errorf("non-secure region: %w", err))
	}

	workers := make([]dispatch.Worker, table.Len())
	for i, svc := range cfg.Services {
		w, err := services.Build(svc.Kind, services.Env{
			Name:   svc.Name,
			Region: region,
			Hub:    hub,
			Params: svc.Options,
			Logger: log.WithService(svc.Name),
		})
		if err != nil {
			return fail(err)
		}
		workers[i] = w
	}

	engine := dispatch.New(table, region, nil, cfg.Monitor.MaxTimeout)

	sched.SetPriority(sched.NormalPrio())
	for i, w := range workers {
		h := table.Handle(i)
		name, _ := table.Name(h)
		prio, _ := table.Priority(h)
		err := sched.Spawn(fmt.Sprintf("%s@%s", name, h), prio, func(ctx context.Context) {
			if err := engine.Serve(ctx, h, w); err != nil {
				logger.Error("service worker exited", "service", name, "handle", h.String(), "error", err)
			}
		})
		if err != nil {
			return fail(fmt.Errorf("spawn %s: %w", name, err))
		}
	}

	parkTimeout := opts.ParkTimeout
	if parkTimeout <= 0 {
		parkTimeout = DefaultParkTimeout
	}
	parkCtx, cancel := context.WithTimeout(context.Background(), parkTimeout)
	err = engine.WaitParked(parkCtx)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("start workers: %w", err))
	}
	engine.Attach(hub.Listen(events.AllFlags))
	sched.SetPriority(sched.HighPrio())

	logger.Info("monitor prepared",
		"services", table.Len(),
		"window", region.Window.String(),
		"entry", fmt.Sprintf("%#x", entry),
		"max_timeout", cfg.Monitor.MaxTimeout.String(),
	)

	return &Monitor{
		Engine:   engine,
		Table:    table,
		Region:   region,
		Hub:      hub,
		Map:      mm,
		Entry:    entry,
		boundary: opts.Boundary,
		logger:   logger,
	}, nil
}

// Enter transfers control to the lower-trust world. It returns when that
// world ends.
func (m *Monitor) Enter(ctx context.Context) error {
	m.logger.Info("entering non-secure world", "entry", fmt.Sprintf("%#x", m.Entry))
	return m.boundary.Enter(ctx, m.Entry)
}

// Run prepares the monitor and enters the lower-trust world.
func Run(ctx context.Context, opts Options) error {
	m, err := Prepare(opts)
	if err != nil {
		return err
	}
	return m.Enter(ctx)
}
