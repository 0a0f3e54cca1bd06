package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/tsmon/internal/api"
	"github.com/mattjoyce/tsmon/internal/boot"
	"github.com/mattjoyce/tsmon/internal/config"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/inspect"
	"github.com/mattjoyce/tsmon/internal/journal"
	"github.com/mattjoyce/tsmon/internal/log"
	"github.com/mattjoyce/tsmon/internal/platform"
	"github.com/mattjoyce/tsmon/internal/scheduler"
	"github.com/mattjoyce/tsmon/internal/storage"
)

const token = "e2e-key"

type gateway struct {
	t    *testing.T
	url  string
	db   *sql.DB
	done chan error
}

// bootMonitor runs a full boot through the simulator. The non-secure world is
// an httptest gateway that lives until the test ends.
func bootMonitor(t *testing.T) (*gateway, func() error) {
	t.Helper()
	log.Setup("ERROR")

	cfg := config.Defaults()
	cfg.Monitor.MaxTimeout = time.Second
	cfg.Services = []config.ServiceConfig{
		{Name: "echo", Kind: "echo", Priority: 130},
		{Name: "alarm", Kind: "daemon", Priority: 140, Options: map[string]any{"flags": 0x5}},
		{Name: "slow", Kind: "stall", Priority: 150, Options: map[string]any{"delay": "150ms"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	calls := journal.New(db)

	sched, err := scheduler.New(ctx, cfg.Scheduler.NormalPrio, cfg.Scheduler.HighPrio)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	g := &gateway{t: t, db: db, done: make(chan error, 1)}
	ready := make(chan struct{})

	var m *boot.Monitor
	sim := platform.NewSimulator(func(ctx context.Context, entry uint64) error {
		srv := api.New(api.Config{APIKey: token}, m.Engine, m.Region, calls, m.Hub, log.WithComponent("api"))
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()
		g.url = ts.URL
		close(ready)
		<-ctx.Done()
		return ctx.Err()
	})

	m, err = boot.Prepare(boot.Options{
		Config:    cfg,
		Boundary:  sim,
		Scheduler: sched,
		Halt:      func(err error) { t.Errorf("halt: %v", err) },
	})
	if err != nil {
		t.Fatalf("boot.Prepare: %v", err)
	}
	if _, err := calls.BootStarted(ctx, cfg.Monitor.Name, len(cfg.Services), m.Entry); err != nil {
		t.Fatalf("BootStarted: %v", err)
	}

	go func() { g.done <- m.Enter(ctx) }()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("gateway never came up")
	}

	stop := func() error {
		cancel()
		err := <-g.done
		sched.Wait()
		_ = db.Close()
		return err
	}
	t.Cleanup(func() {
		select {
		case <-ctx.Done():
		default:
			_ = stop()
		}
	})
	return g, stop
}

func (g *gateway) do(method, path string, body []byte, out any) {
	g.t.Helper()
	req, err := http.NewRequest(method, g.url+path, bytes.NewReader(body))
	if err != nil {
		g.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		g.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.t.Fatalf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			g.t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func (g *gateway) smc(handle uint32, addr, n uint64, timeoutUS uint32) api.SMCResponse {
	g.t.Helper()
	body, _ := json.Marshal(api.SMCRequest{Handle: handle, Addr: addr, Len: n, TimeoutUS: timeoutUS})
	var resp api.SMCResponse
	g.do(http.MethodPost, "/smc", body, &resp)
	return resp
}

// discover stages name in the non-secure window and traps DISCOVERY.
func (g *gateway) discover(name string) uint32 {
	g.t.Helper()
	const stage = 0x8000_0000
	g.do(http.MethodPut, fmt.Sprintf("/mem/%#x", stage), append([]byte(name), 0), nil)
	resp := g.smc(uint32(dispatch.HandleDiscovery), stage, uint64(len(name)+1), 0)
	if resp.Low <= 0 {
		g.t.Fatalf("discover %q: low = %d (%s)", name, resp.Low, resp.Status)
	}
	return uint32(resp.Low)
}

func (g *gateway) slotState(handle uint32) dispatch.SlotState {
	g.t.Helper()
	var services api.ServicesResponse
	g.do(http.MethodGet, "/services", nil, &services)
	for _, s := range services.Services {
		if s.Handle == handle {
			return s.State
		}
	}
	g.t.Fatalf("slot %#x not listed", handle)
	return dispatch.SlotStopped
}

func TestMonitorEndToEnd(t *testing.T) {
	g, stop := bootMonitor(t)

	version := g.smc(uint32(dispatch.HandleVersion), 0, 0, 0)
	if version.Low != int32(dispatch.Version) {
		t.Fatalf("version low = %#x", version.Low)
	}

	echo := g.discover("echo")
	if echo != uint32(dispatch.HandleBase) {
		t.Fatalf("echo handle = %#x, want %#x", echo, dispatch.HandleBase)
	}
	alarm := g.discover("alarm")
	slow := g.discover("slow")
	// Boot only hands control over once every worker is parked.
	for _, h := range []uint32{echo, alarm, slow} {
		if st := g.slotState(h); st != dispatch.SlotIdle {
			t.Fatalf("slot %#x is %s before its first call", h, st)
		}
	}

	if got := g.smc(uint32(dispatch.HandleDiscovery), 0x8000_0000, 0, 0); got.Status != "not_found" {
		t.Fatalf("zero-length discovery status = %s", got.Status)
	}

	resp := g.smc(echo, 0x8000_0000, 7, 100_000)
	if resp.Low != 7 || resp.Flags != 0 {
		t.Fatalf("echo = low %d flags %#x", resp.Low, resp.Flags)
	}

	// A daemon's flags ride back in the high word of the call that woke the
	// caller.
	resp = g.smc(alarm, 0x8000_0000, 0, 100_000)
	if resp.Status != "ok" || resp.Flags != 0x5 {
		t.Fatalf("daemon = %s flags %#x", resp.Status, resp.Flags)
	}
	if resp.Result != uint64(0x5)<<32 {
		t.Fatalf("packed result = %#x", resp.Result)
	}

	if got := g.smc(0x1001, 0x8000_0000, 1, 0); got.Status != "bad_handle" {
		t.Fatalf("interior handle status = %s", got.Status)
	}
	if got := g.smc(echo, 0x7fff_ffff, 2, 0); got.Status != "invalid_argument" {
		t.Fatalf("straddling buffer status = %s", got.Status)
	}

	// The stall service outlives a short timeout and stays busy.
	slowCall := g.smc(slow, 0x8000_0000, 0, 1_000)
	if slowCall.Status != "interrupted" {
		t.Fatalf("stall with short timeout = %s", slowCall.Status)
	}
	if got := g.smc(slow, 0x8000_0000, 0, 0); got.Status != "busy" {
		t.Fatalf("second stall call = %s, want busy", got.Status)
	}
	// QUERY on a busy slot waits for the next completion.
	query := g.smc(uint32(dispatch.HandleQuery), uint64(slow), 0, 1_000_000)
	if query.Status != "ok" {
		t.Fatalf("query on busy stall = %s", query.Status)
	}
	if st := g.slotState(slow); st != dispatch.SlotIdle {
		t.Fatalf("stall slot is %s after acknowledging", st)
	}
	if got := g.smc(uint32(dispatch.HandleQuery), uint64(slow), 0, 0); got.Status != "ok" {
		t.Fatalf("query on idle stall = %s", got.Status)
	}

	var listed []journal.Entry
	g.do(http.MethodGet, "/calls?limit=100", nil, &listed)
	if len(listed) < 10 {
		t.Fatalf("journal has %d calls", len(listed))
	}

	if slowCall.CallID == "" {
		t.Fatal("stall call has no journal id")
	}
	report, err := inspect.BuildReport(context.Background(), g.db, slowCall.CallID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{"Service     : slow", "Status      : interrupted (-1)", "Boot "} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}

	if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Enter returned %v", err)
	}
}
