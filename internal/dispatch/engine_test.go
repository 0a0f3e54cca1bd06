package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionNeverBlocks(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, "echo")

	for _, timeout := range []uint32{0, 1, 50_000, 1 << 31} {
		start := time.Now()
		r := h.engine.Call(Call{Handle: HandleVersion, Addr: 0xdead, Len: 1 << 40, TimeoutUS: timeout})
		assert.Less(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, Version, r.Status())
		assert.Zero(t, r.Flags())
	}
}

func TestDiscovery(t *testing.T) {
	h := newHarness(t, 0, "echo", "rng", "digest")
	addr := uint64(testWindowStart + 0x100)

	discover := func(name string) Result {
		b := append([]byte(name), 0)
		require.NoError(t, h.region.Write(addr, b))
		return h.engine.Call(Call{Handle: HandleDiscovery, Addr: addr, Len: uint64(len(b))})
	}

	assert.Equal(t, int32(h.engine.Table().Handle(1)), discover("rng").Low())
	assert.Equal(t, int32(h.engine.Table().Handle(2)), discover("digest").Low())
	assert.Equal(t, StatusNotFound, discover("Digest").Status())
	assert.Equal(t, StatusNotFound, discover("dig").Status())
	assert.Equal(t, StatusNotFound, discover("").Status())
}

func TestDiscoveryForcesTerminator(t *testing.T) {
	h := newHarness(t, 0, "echo")
	addr := uint64(testWindowStart)

	// No terminator in the buffer: the last byte is sacrificed.
	require.NoError(t, h.region.Write(addr, []byte("echoZ")))
	r := h.engine.Call(Call{Handle: HandleDiscovery, Addr: addr, Len: 5})
	assert.Equal(t, int32(h.engine.Table().Handle(0)), r.Low())

	got := make([]byte, 5)
	require.NoError(t, h.region.Read(addr, got))
	assert.Equal(t, []byte{'e', 'c', 'h', 'o', 0}, got)

	require.NoError(t, h.region.Write(addr, []byte("echo")))
	r = h.engine.Call(Call{Handle: HandleDiscovery, Addr: addr, Len: 4})
	assert.Equal(t, StatusNotFound, r.Status(), "\"ech\" after truncation")
}

func TestDiscoveryBufferValidation(t *testing.T) {
	h := newHarness(t, 0, "echo")

	r := h.engine.Call(Call{Handle: HandleDiscovery, Addr: testWindowStart, Len: 0})
	assert.Equal(t, StatusNotFound, r.Status())

	r = h.engine.Call(Call{Handle: HandleDiscovery, Addr: testWindowStart + testWindowSize - 2, Len: 4})
	assert.Equal(t, StatusInvalid, r.Status())

	r = h.engine.Call(Call{Handle: HandleDiscovery, Addr: 0x10, Len: 5})
	assert.Equal(t, StatusInvalid, r.Status())
}

func TestDispatchRejectsBadRequests(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, "echo")
	echo := h.start(t, 0, constant(0))

	tests := []struct {
		name string
		call Call
		want Status
	}{
		{"buffer below window", Call{Handle: echo, Addr: testWindowStart - 1, Len: 2}, StatusInvalid},
		{"buffer past window", Call{Handle: echo, Addr: testWindowStart, Len: testWindowSize + 1}, StatusInvalid},
		{"wrapping length", Call{Handle: echo, Addr: testWindowStart + 8, Len: ^uint64(0) - 4}, StatusInvalid},
		{"forged handle", Call{Handle: echo + 8, Addr: testWindowStart, Len: 8}, StatusBadHandle},
		{"handle past table", Call{Handle: echo + HandleStride, Addr: testWindowStart, Len: 8}, StatusBadHandle},
		{"address checked before handle", Call{Handle: echo + 1, Addr: 0, Len: 8}, StatusInvalid},
		{"query forged handle", Call{Handle: HandleQuery, Addr: uint64(echo) + 4}, StatusBadHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.engine.Call(tt.call)
			assert.Equal(t, tt.want, r.Status())
		})
	}

	info := h.engine.Slots()[0]
	assert.Equal(t, SlotIdle, info.State, "rejected calls must not touch the slot")
	assert.Equal(t, Request{}, info.Pending)
}

func TestDispatchZeroLengthBufferAnywhere(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, "echo")
	echo := h.start(t, 0, constant(3))

	r := h.engine.Call(Call{Handle: echo, Addr: 0xffff_ffff_0000, Len: 0, TimeoutUS: 100_000})
	assert.Equal(t, int32(3), r.Low())
}

func TestEndToEndDeliversStatusAndFlags(t *testing.T) {
	h := newHarness(t, time.Second, "daemon")

	var got Request
	daemon := h.start(t, 0, func(ctx context.Context, req Request) int32 {
		got = req
		h.hub.Broadcast("daemon", 0x1)
		h.hub.Broadcast("daemon", 0x4)
		return 42
	})

	r := h.engine.Call(Call{Handle: daemon, Addr: testWindowStart + 0x40, Len: 0x20, TimeoutUS: 1_000_000})
	assert.Equal(t, int32(42), r.Low())
	assert.EqualValues(t, 0x5, r.Flags())
	assert.Equal(t, Request{Addr: testWindowStart + 0x40, Len: 0x20}, got)

	// Flags were drained by the previous wake.
	r = h.engine.Call(Call{Handle: HandleIdle, TimeoutUS: 0})
	assert.Equal(t, StatusInterrupted, r.Status())
	assert.Zero(t, r.Flags())

	h.waitState(t, 0, SlotIdle)
	assert.Equal(t, int32(42), h.engine.Slots()[0].LastStatus)
}

func TestIdleCallReturnsFlagsOnTimeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, "echo")
	h.hub.Broadcast("rng", 0x10)

	r := h.engine.Call(Call{Handle: HandleIdle, TimeoutUS: 5_000})
	assert.Equal(t, StatusInterrupted, r.Status())
	assert.EqualValues(t, 0x10, r.Flags())
}

func TestBusySlotRejectsWithoutMutation(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, "stall")
	release := make(chan struct{})
	stall := h.start(t, 0, blocked(release, 9))

	first := Call{Handle: stall, Addr: testWindowStart + 0x10, Len: 0x10, TimeoutUS: 1_000}
	r := h.engine.Call(first)
	assert.Equal(t, StatusInterrupted, r.Status())

	info := h.engine.Slots()[0]
	assert.Equal(t, SlotBusy, info.State)
	assert.Equal(t, Request{Addr: first.Addr, Len: first.Len}, info.Pending)

	r = h.engine.Call(Call{Handle: stall, Addr: testWindowStart + 0x200, Len: 0x80, TimeoutUS: 1_000})
	assert.Equal(t, StatusBusy, r.Status())
	assert.Equal(t, info, h.engine.Slots()[0])
	assert.False(t, h.engine.CallerPending())

	close(release)
	h.waitState(t, 0, SlotIdle)

	info = h.engine.Slots()[0]
	assert.Equal(t, Request{}, info.Pending, "pending request is consumed on completion")
	assert.Equal(t, int32(9), info.LastStatus)
}

func TestStartingSlotIsBusy(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, "echo")

	r := h.engine.Call(Call{Handle: h.engine.Table().Handle(0), Addr: testWindowStart, Len: 1, TimeoutUS: 1_000})
	assert.Equal(t, StatusBusy, r.Status())
}

func TestWaitParkedReleasesOnceEveryWorkerParks(t *testing.T) {
	h := newHarness(t, time.Second, "a", "b")

	short := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return h.engine.WaitParked(ctx)
	}

	err := short()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "2 of 2 workers never parked")

	h.start(t, 0, constant(0))
	err = short()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "1 of 2 workers never parked")

	release := make(chan struct{})
	h.start(t, 1, blocked(release, 0))
	require.NoError(t, short())

	// Parking again after a request does not count twice.
	r := h.callAsync(Call{Handle: h.engine.Table().Handle(1), Addr: testWindowStart, Len: 1, TimeoutUS: 1_000_000})
	h.waitState(t, 1, SlotBusy)
	close(release)
	assert.Equal(t, StatusOK, recv(t, r).Status())
	require.NoError(t, short())
}

func TestTimeoutIsClamped(t *testing.T) {
	const maxTimeout = 40 * time.Millisecond
	h := newHarness(t, maxTimeout, "a", "b", "c")
	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 3; i++ {
		h.start(t, i, blocked(release, 0))
	}

	tests := []struct {
		name    string
		slot    int
		timeout uint32
		want    time.Duration
	}{
		{"below max", 0, 20_000, 20 * time.Millisecond},
		{"at max", 1, 40_000, maxTimeout},
		{"above max", 2, 40_001 * 1000, maxTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle := h.engine.Table().Handle(tt.slot)
			start := time.Now()
			r := h.engine.Call(Call{Handle: handle, Addr: testWindowStart, Len: 4, TimeoutUS: tt.timeout})
			elapsed := time.Since(start)

			assert.Equal(t, StatusInterrupted, r.Status())
			assert.GreaterOrEqual(t, elapsed, tt.want)
			assert.Less(t, elapsed, tt.want+500*time.Millisecond)
		})
	}
}

func TestJustAboveMaxTimeoutIsClamped(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, "echo")

	start := time.Now()
	r := h.engine.Call(Call{Handle: HandleIdle, TimeoutUS: 30_001})
	assert.Equal(t, StatusInterrupted, r.Status())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, h.engine.clamp(30_001))
	assert.Equal(t, 30*time.Millisecond, h.engine.clamp(30_000))
	assert.Equal(t, 29_999*time.Microsecond, h.engine.clamp(29_999))
}

func TestZeroTimeoutStillDispatches(t *testing.T) {
	h := newHarness(t, time.Second, "echo")
	ran := make(chan Request, 1)
	echo := h.start(t, 0, func(_ context.Context, req Request) int32 {
		ran <- req
		return 0
	})

	r := h.engine.Call(Call{Handle: echo, Addr: testWindowStart, Len: 8, TimeoutUS: 0})
	assert.Equal(t, StatusInterrupted, r.Status())

	select {
	case req := <-ran:
		assert.Equal(t, uint64(8), req.Len)
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not resumed")
	}
}

func TestQueryIdleSlotReturnsLastStatus(t *testing.T) {
	h := newHarness(t, time.Second, "echo")
	echo := h.start(t, 0, constant(17))

	r := h.engine.Call(Call{Handle: HandleQuery, Addr: uint64(echo), TimeoutUS: 1_000_000})
	assert.Equal(t, StatusOK, r.Status(), "fresh worker acknowledges with ok")

	r = h.engine.Call(Call{Handle: echo, Addr: testWindowStart, Len: 1, TimeoutUS: 1_000_000})
	require.Equal(t, int32(17), r.Low())
	h.waitState(t, 0, SlotIdle)

	for _, timeout := range []uint32{0, 1_000_000} {
		start := time.Now()
		r = h.engine.Call(Call{Handle: HandleQuery, Addr: uint64(echo), TimeoutUS: timeout})
		assert.Equal(t, int32(17), r.Low())
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

// A query on a busy slot does not wait for that slot: it parks as a plain
// caller and takes the next acknowledgement from any worker.
func TestQueryBusySlotWaitsForAnyCompletion(t *testing.T) {
	h := newHarness(t, 5*time.Second, "a", "b")
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	defer close(releaseA)
	a := h.start(t, 0, blocked(releaseA, 100))
	b := h.start(t, 1, blocked(releaseB, 200))

	require.Equal(t, StatusInterrupted, h.engine.Call(Call{Handle: a, Addr: testWindowStart, Len: 1}).Status())
	require.Equal(t, StatusInterrupted, h.engine.Call(Call{Handle: b, Addr: testWindowStart, Len: 1}).Status())

	res := h.callAsync(Call{Handle: HandleQuery, Addr: uint64(a), TimeoutUS: 5_000_000})
	h.waitCaller(t)

	close(releaseB)
	r := recv(t, res)
	assert.Equal(t, int32(200), r.Low(), "woken by slot b while querying slot a")
	assert.Equal(t, SlotBusy, h.engine.Slots()[0].State)
}

// A worker that completes after its caller timed out acknowledges whichever
// caller is pending at that moment.
func TestLateCompletionWakesNextCaller(t *testing.T) {
	h := newHarness(t, 5*time.Second, "slow")
	release := make(chan struct{})
	slow := h.start(t, 0, blocked(release, 55))

	r := h.engine.Call(Call{Handle: slow, Addr: testWindowStart, Len: 1, TimeoutUS: 1_000})
	require.Equal(t, StatusInterrupted, r.Status())

	res := h.callAsync(Call{Handle: HandleIdle, TimeoutUS: 5_000_000})
	h.waitCaller(t)

	close(release)
	assert.Equal(t, int32(55), recv(t, res).Low())
	assert.False(t, h.engine.CallerPending())
}

func TestRendezvousStopsOnCancel(t *testing.T) {
	h := newHarness(t, time.Second, "echo")
	ctx, cancel := context.WithCancel(context.Background())

	handle := h.engine.Table().Handle(0)
	errCh := make(chan error, 1)
	go func() {
		_, err := h.engine.Rendezvous(ctx, handle, 0)
		errCh <- err
	}()
	h.waitState(t, 0, SlotIdle)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("rendezvous did not stop")
	}
	assert.Equal(t, SlotStopped, h.engine.Slots()[0].State)

	r := h.engine.Call(Call{Handle: handle, Addr: testWindowStart, Len: 1})
	assert.Equal(t, StatusBusy, r.Status())
}

func TestRendezvousBadHandle(t *testing.T) {
	h := newHarness(t, time.Second, "echo")
	_, err := h.engine.Rendezvous(context.Background(), HandleBase+1, 0)
	assert.ErrorIs(t, err, ErrBadHandle)
}
