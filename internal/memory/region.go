package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when a buffer is not fully inside the window.
var ErrOutOfRange = errors.New("buffer outside non-secure window")

// Region is the byte arena backing a Window. Both the lower-trust gateway and
// the trusted services go through it; nothing hands out the underlying slice.
type Region struct {
	Window

	mu  sync.RWMutex
	mem []byte
}

// NewRegion allocates a zeroed arena for [start, start+size).
func NewRegion(start, size uint64) (*Region, error) {
	w, err := NewWindow(start, size)
	if err != nil {
		return nil, err
	}
	if size > maxArena {
		return nil, fmt.Errorf("window size %#x exceeds arena limit %#x", size, uint64(maxArena))
	}
	return &Region{Window: w, mem: make([]byte, size)}, nil
}

const maxArena = 1 << 30

func (r *Region) offset(addr, n uint64) (uint64, error) {
	if !r.Contains(addr, n) {
		return 0, fmt.Errorf("%w: %#x+%d not in %s", ErrOutOfRange, addr, n, r.Window)
	}
	if n == 0 {
		return 0, nil
	}
	return addr - r.Start, nil
}

// Read copies len(p) bytes at addr into p.
func (r *Region) Read(addr uint64, p []byte) error {
	off, err := r.offset(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	copy(p, r.mem[off:])
	return nil
}

// Write copies p into the arena at addr.
func (r *Region) Write(addr uint64, p []byte) error {
	off, err := r.offset(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.mem[off:], p)
	return nil
}

// Update runs fn on the live bytes of [addr, addr+n) under the arena lock.
// fn must not retain the slice.
func (r *Region) Update(addr, n uint64, fn func(b []byte)) error {
	off, err := r.offset(addr, n)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.mem[off : off+n])
	return nil
}
