package dispatch

import (
	"errors"
	"fmt"
)

// MaxSlots bounds the table size; handles must stay within 32 bits.
const MaxSlots = 64

// SlotConfig is the static description of one trusted service.
type SlotConfig struct {
	Name     string
	Priority int
	// Binding is the table position the service's runtime state is bound to.
	// It must equal the slot's own index.
	Binding int
}

// Request is the buffer handed to a worker: an address and length inside the
// non-secure window.
type Request struct {
	Addr uint64 `json:"addr"`
	Len  uint64 `json:"len"`
}

// SlotState is the explicit lifecycle of a slot.
type SlotState uint8

const (
	// SlotStarting: the worker has not parked yet. Dispatches get Busy.
	SlotStarting SlotState = iota
	// SlotIdle: a worker is parked waiting for a request.
	SlotIdle
	// SlotBusy: the worker is processing a request.
	SlotBusy
	// SlotStopped: the worker left the rendezvous for good.
	SlotStopped
)

// MarshalText renders the state by name in JSON.
func (s SlotState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *SlotState) UnmarshalText(b []byte) error {
	for _, st := range []SlotState{SlotStarting, SlotIdle, SlotBusy, SlotStopped} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown slot state %q", b)
}

func (s SlotState) String() string {
	switch s {
	case SlotStarting:
		return "starting"
	case SlotIdle:
		return "idle"
	case SlotBusy:
		return "busy"
	case SlotStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type slot struct {
	name     string
	priority int
	binding  int

	// Guarded by Engine.mu.
	state      SlotState
	wake       chan struct{} // set only while state == SlotIdle
	lastStatus int32
	pending    Request
}

// Table is the fixed arena of service slots, built once and never resized.
type Table struct {
	slots []slot
}

// NewTable builds the slot arena from configuration.
func NewTable(cfgs []SlotConfig) (*Table, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("service table is empty")
	}
	if len(cfgs) > MaxSlots {
		return nil, fmt.Errorf("service table has %d entries, max is %d", len(cfgs), MaxSlots)
	}
	t := &Table{slots: make([]slot, len(cfgs))}
	for i, c := range cfgs {
		if c.Name == "" {
			return nil, fmt.Errorf("service[%d]: name is empty", i)
		}
		t.slots[i] = slot{
			name:     c.Name,
			priority: c.Priority,
			binding:  c.Binding,
		}
	}
	return t, nil
}

// Len returns the number of slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Handle returns the handle of slot i.
func (t *Table) Handle(i int) Handle {
	return handleOf(i)
}

// Name returns the configured name of the slot addressed by h.
func (t *Table) Name(h Handle) (string, bool) {
	i, ok := t.index(h)
	if !ok {
		return "", false
	}
	return t.slots[i].name, true
}

// Priority returns the configured priority of the slot addressed by h.
func (t *Table) Priority(h Handle) (int, bool) {
	i, ok := t.index(h)
	if !ok {
		return 0, false
	}
	return t.slots[i].priority, true
}

// Verify checks configuration integrity before any worker starts: every slot
// must be bound to its own position, and every priority must lie strictly
// between normal and high. A failure means the table cannot be trusted.
func (t *Table) Verify(normal, high int) error {
	for i := range t.slots {
		s := &t.slots[i]
		if s.binding != i {
			return fmt.Errorf("service %q: state bound to slot %d, expected %d", s.name, s.binding, i)
		}
		if s.priority <= normal || s.priority >= high {
			return fmt.Errorf("service %q: priority %d not strictly between %d and %d", s.name, s.priority, normal, high)
		}
	}
	return nil
}
