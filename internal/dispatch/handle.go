package dispatch

import (
	"fmt"
	"math"
)

// Handle is the opaque service identifier exposed across the trust boundary.
// Real handles are stride-aligned offsets from HandleBase into the slot arena;
// they are never addresses of engine memory.
type Handle uint32

const (
	HandleDiscovery Handle = 1
	HandleQuery     Handle = 2
	HandleIdle      Handle = 3
	HandleVersion   Handle = 4
)

const (
	HandleBase   Handle = 0x1000
	HandleStride Handle = 0x40
)

func handleOf(i int) Handle {
	return HandleBase + Handle(i)*HandleStride
}

// Reserved reports whether h is one of the reserved sentinels.
func (h Handle) Reserved() bool {
	return h >= HandleDiscovery && h <= HandleVersion
}

func (h Handle) String() string {
	switch h {
	case HandleDiscovery:
		return "discovery"
	case HandleQuery:
		return "query"
	case HandleIdle:
		return "idle"
	case HandleVersion:
		return "version"
	default:
		return fmt.Sprintf("%#x", uint32(h))
	}
}

// Class names the kind of call h makes: one of the sentinel names, or
// "service" for everything else.
func (h Handle) Class() string {
	if h.Reserved() {
		return h.String()
	}
	return "service"
}

// index maps a handle to its slot. Anything not bit-identical to a configured
// slot handle is rejected, including interior and partial-stride values.
func (t *Table) index(h Handle) (int, bool) {
	if h < HandleBase {
		return 0, false
	}
	off := h - HandleBase
	if off%HandleStride != 0 {
		return 0, false
	}
	i := int(off / HandleStride)
	if i >= len(t.slots) {
		return 0, false
	}
	return i, true
}

// indexAddr validates a handle carried in a 64-bit buffer address, as QUERY does.
func (t *Table) indexAddr(addr uint64) (int, bool) {
	if addr > math.MaxUint32 {
		return 0, false
	}
	return t.index(Handle(addr))
}

// Valid reports whether h names one of the configured slots.
func (t *Table) Valid(h Handle) bool {
	_, ok := t.index(h)
	return ok
}
