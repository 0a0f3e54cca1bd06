package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/memory"
)

const (
	testWindowStart = 0x2000_0000
	testWindowSize  = 0x1000
)

type harness struct {
	engine *Engine
	hub    *events.Hub
	region *memory.Region
	ctx    context.Context
	cancel context.CancelFunc
}

func newHarness(t *testing.T, maxTimeout time.Duration, names ...string) *harness {
	t.Helper()

	cfgs := make([]SlotConfig, len(names))
	for i, n := range names {
		cfgs[i] = SlotConfig{Name: n, Priority: 130, Binding: i}
	}
	table, err := NewTable(cfgs)
	require.NoError(t, err)

	region, err := memory.NewRegion(testWindowStart, testWindowSize)
	require.NoError(t, err)

	hub := events.NewHub(16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &harness{
		engine: New(table, region, hub.Listen(events.AllFlags), maxTimeout),
		hub:    hub,
		region: region,
		ctx:    ctx,
		cancel: cancel,
	}
}

// start runs w on slot i and waits for the worker to park.
func (h *harness) start(t *testing.T, i int, w Worker) Handle {
	t.Helper()
	handle := h.engine.Table().Handle(i)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Serve(h.ctx, handle, w)
	}()
	t.Cleanup(func() {
		h.cancel()
		<-done
	})
	h.waitState(t, i, SlotIdle)
	return handle
}

func (h *harness) waitState(t *testing.T, i int, want SlotState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.engine.Slots()[i].State == want
	}, 2*time.Second, time.Millisecond, "slot %d never reached %s", i, want)
}

// blocked returns a worker that waits on release before acknowledging status.
func blocked(release <-chan struct{}, status int32) Worker {
	return func(ctx context.Context, _ Request) int32 {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return status
	}
}

func constant(status int32) Worker {
	return func(context.Context, Request) int32 { return status }
}

// callAsync runs c on another goroutine.
func (h *harness) callAsync(c Call) <-chan Result {
	out := make(chan Result, 1)
	go func() { out <- h.engine.Call(c) }()
	return out
}

func (h *harness) waitCaller(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.engine.CallerPending, 2*time.Second, time.Millisecond, "caller never parked")
}

func recv(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return")
		return 0
	}
}
