package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/log"
	"github.com/mattjoyce/tsmon/internal/memory"
)

// DefaultMaxTimeout is the clamp applied to caller timeouts.
const DefaultMaxTimeout = 10 * time.Millisecond

// Call is one trap from the lower-trust side.
type Call struct {
	Handle Handle
	// Addr and Len describe the request buffer. For HandleQuery, Addr carries
	// the handle being inspected.
	Addr uint64
	Len  uint64
	// TimeoutUS bounds the caller's wait, in microseconds, before clamping.
	TimeoutUS uint32
}

// Engine dispatches calls to trusted service workers.
type Engine struct {
	table      *Table
	region     *memory.Region
	listener   *events.Listener
	maxTimeout time.Duration
	logger     *slog.Logger

	mu sync.Mutex
	// caller is the single pending caller, nil when none is waiting.
	caller chan int32
	// starting counts slots whose worker has not parked yet; ready closes
	// when it reaches zero.
	starting int
	ready    chan struct{}
}

// New creates an engine over table. Request buffers are validated against
// region; flags are drained from listener, which may be nil.
func New(table *Table, region *memory.Region, listener *events.Listener, maxTimeout time.Duration) *Engine {
	if maxTimeout <= 0 {
		maxTimeout = DefaultMaxTimeout
	}
	return &Engine{
		table:      table,
		region:     region,
		listener:   listener,
		maxTimeout: maxTimeout,
		logger:     log.WithComponent("dispatch"),
		starting:   table.Len(),
		ready:      make(chan struct{}),
	}
}

// WaitParked blocks until every slot's worker has parked at least once, or
// ctx ends. Boot calls it before the engine becomes reachable so that the
// first dispatch never finds a slot still starting.
func (e *Engine) WaitParked(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		n := e.starting
		e.mu.Unlock()
		return fmt.Errorf("%d of %d workers never parked: %w", n, e.table.Len(), ctx.Err())
	}
}

// parkedLocked records a slot's first rendezvous. Called with e.mu held.
func (e *Engine) parkedLocked(s *slot) {
	if s.state != SlotStarting {
		return
	}
	e.starting--
	if e.starting == 0 {
		close(e.ready)
	}
}

// Attach sets the listener drained at every caller wake-up. Boot attaches it
// after the workers are spawned.
func (e *Engine) Attach(l *events.Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// Table returns the service table.
func (e *Engine) Table() *Table { return e.table }

// MaxTimeout returns the timeout clamp.
func (e *Engine) MaxTimeout() time.Duration { return e.maxTimeout }

// Call services one trap from the lower-trust side. Callers must be
// serialized: at most one Call may be in flight. A second concurrent Call
// replaces the pending caller, and the first one then never returns.
func (e *Engine) Call(c Call) Result {
	switch c.Handle {
	case HandleVersion:
		return Pack(int32(Version), 0)
	case HandleDiscovery:
		return Pack(e.discover(c.Addr, c.Len), 0)
	}

	e.mu.Lock()
	var target *slot
	switch c.Handle {
	case HandleIdle:
	case HandleQuery:
		i, ok := e.table.indexAddr(c.Addr)
		if !ok {
			e.mu.Unlock()
			e.logger.Debug("query rejected", "handle", c.Addr)
			return Pack(int32(StatusBadHandle), 0)
		}
		s := &e.table.slots[i]
		if s.state == SlotIdle {
			st := s.lastStatus
			e.mu.Unlock()
			return Pack(st, 0)
		}
		// Busy: wait like an idle call, for whichever completion comes next.
	default:
		if !e.region.Contains(c.Addr, c.Len) {
			e.mu.Unlock()
			e.logger.Debug("request buffer rejected", "handle", c.Handle, "addr", c.Addr, "len", c.Len)
			return Pack(int32(StatusInvalid), 0)
		}
		i, ok := e.table.index(c.Handle)
		if !ok {
			e.mu.Unlock()
			e.logger.Debug("handle rejected", "handle", c.Handle)
			return Pack(int32(StatusBadHandle), 0)
		}
		s := &e.table.slots[i]
		if s.state != SlotIdle {
			e.mu.Unlock()
			return Pack(int32(StatusBusy), 0)
		}
		s.pending = Request{Addr: c.Addr, Len: c.Len}
		target = s
	}

	return e.waitLocked(target, e.clamp(c.TimeoutUS))
}

func (e *Engine) clamp(us uint32) time.Duration {
	d := time.Duration(us) * time.Microsecond
	if d > e.maxTimeout {
		d = e.maxTimeout
	}
	return d
}

// waitLocked resumes target (if any), parks the caller and returns once a
// worker acknowledges or d elapses. Called with e.mu held; returns with it released.
func (e *Engine) waitLocked(target *slot, d time.Duration) Result {
	if target != nil {
		wake := target.wake
		target.state = SlotBusy
		target.wake = nil
		wake <- struct{}{}
	}

	ack := make(chan int32, 1)
	e.caller = ack
	e.mu.Unlock()

	var status int32
	if d <= 0 {
		status = e.expire(ack)
	} else {
		timer := time.NewTimer(d)
		select {
		case status = <-ack:
			timer.Stop()
		case <-timer.C:
			status = e.expire(ack)
		}
	}

	e.mu.Lock()
	var flags events.Flags
	if e.listener != nil {
		flags = e.listener.GetAndClear()
	}
	e.mu.Unlock()

	return Pack(status, flags)
}

// expire withdraws the pending caller after a timeout. If a worker claimed it
// first, its status is already buffered in ack and wins over the timeout.
func (e *Engine) expire(ack chan int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.caller == ack {
		e.caller = nil
		return int32(StatusInterrupted)
	}
	return <-ack
}

// discover resolves the service name held in the request buffer. The last
// byte of the buffer is overwritten with NUL before the name is read, so an
// unterminated string never runs past the buffer.
func (e *Engine) discover(addr, n uint64) int32 {
	if !e.region.Contains(addr, n) {
		return int32(StatusInvalid)
	}
	if n == 0 {
		return int32(StatusNotFound)
	}

	var name string
	err := e.region.Update(addr, n, func(b []byte) {
		b[len(b)-1] = 0
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		name = string(b)
	})
	if err != nil {
		return int32(StatusInvalid)
	}

	h, ok := e.table.Lookup(name)
	if !ok {
		e.logger.Debug("discovery miss", "name", name)
		return int32(StatusNotFound)
	}
	return int32(h)
}

// SlotInfo is a point-in-time view of one slot.
type SlotInfo struct {
	Handle     Handle    `json:"handle"`
	Name       string    `json:"name"`
	Priority   int       `json:"priority"`
	State      SlotState `json:"state"`
	LastStatus int32     `json:"last_status"`
	Pending    Request   `json:"pending"`
}

// Slots returns a snapshot of every slot in table order.
func (e *Engine) Slots() []SlotInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SlotInfo, len(e.table.slots))
	for i := range e.table.slots {
		s := &e.table.slots[i]
		out[i] = SlotInfo{
			Handle:     handleOf(i),
			Name:       s.name,
			Priority:   s.priority,
			State:      s.state,
			LastStatus: s.lastStatus,
			Pending:    s.pending,
		}
	}
	return out
}

// CallerPending reports whether a caller is currently parked.
func (e *Engine) CallerPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caller != nil
}
