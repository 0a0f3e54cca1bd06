// Package memory models the lower-trust (non-secure) memory window shared with
// the trusted services monitor.
//
// Every buffer that crosses the trust boundary is described by an address and
// a length inside this window. Window.Contains is the only gate: requests are
// rejected before any byte of the arena is touched.
package memory

import "fmt"

// Window is the half-open address range [Start, End) owned by the lower-trust side.
type Window struct {
	Start uint64
	End   uint64
}

// NewWindow builds a window from a start address and a size.
func NewWindow(start, size uint64) (Window, error) {
	if size == 0 {
		return Window{}, fmt.Errorf("window size is zero")
	}
	if start+size < start {
		return Window{}, fmt.Errorf("window %#x+%#x overflows the address space", start, size)
	}
	return Window{Start: start, End: start + size}, nil
}

// Size returns the number of bytes covered by the window.
func (w Window) Size() uint64 {
	return w.End - w.Start
}

// Contains reports whether [addr, addr+n) lies entirely inside the window.
// A zero-length buffer is always accepted, wherever it points.
//
// addr+n is never computed: a huge n must not wrap back into range.
func (w Window) Contains(addr, n uint64) bool {
	if n == 0 {
		return true
	}
	if addr < w.Start || addr >= w.End {
		return false
	}
	return n <= w.End-addr
}

func (w Window) String() string {
	return fmt.Sprintf("[%#x, %#x)", w.Start, w.End)
}
