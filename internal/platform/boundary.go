// Package platform is the one-shot hardware boundary of the monitor: memory
// partitioning and the transfer of control into the non-secure world.
package platform

import (
	"context"
	"fmt"
)

//go:generate mockgen -destination=mocks/mock_boundary.go -package=mocks github.com/mattjoyce/tsmon/internal/platform Boundary

// Boundary partitions memory and enters the lower-trust world. Both methods
// are called exactly once per boot, in that order.
type Boundary interface {
	// Partition carves memory into secure and non-secure regions and makes the
	// non-secure range non-executable from the secure side.
	Partition(m MemoryMap) error
	// Enter transfers control to the non-secure world at entry. It only
	// returns when that world ends.
	Enter(ctx context.Context, entry uint64) error
}

// Region is one contiguous physical range.
type Region struct {
	Name   string
	Start  uint64
	Size   uint64
	Secure bool
}

func (r Region) End() uint64 { return r.Start + r.Size }

// MemoryMap is the static physical memory layout handed to Partition.
type MemoryMap struct {
	Regions []Region
	// ExecOffset is the entry point offset inside the non-secure region.
	ExecOffset uint64
}

// NonSecure returns the single non-secure region.
func (m MemoryMap) NonSecure() (Region, error) {
	var found *Region
	for i := range m.Regions {
		if m.Regions[i].Secure {
			continue
		}
		if found != nil {
			return Region{}, fmt.Errorf("memory map has more than one non-secure region (%s, %s)", found.Name, m.Regions[i].Name)
		}
		found = &m.Regions[i]
	}
	if found == nil {
		return Region{}, fmt.Errorf("memory map has no non-secure region")
	}
	return *found, nil
}

// Entry returns the non-secure entry point.
func (m MemoryMap) Entry() (uint64, error) {
	ns, err := m.NonSecure()
	if err != nil {
		return 0, err
	}
	if m.ExecOffset >= ns.Size {
		return 0, fmt.Errorf("exec offset %#x outside non-secure region %s (size %#x)", m.ExecOffset, ns.Name, ns.Size)
	}
	return ns.Start + m.ExecOffset, nil
}

// Validate checks that regions are non-empty, do not wrap, and do not overlap.
func (m MemoryMap) Validate() error {
	for i, r := range m.Regions {
		if r.Size == 0 {
			return fmt.Errorf("region %q is empty", r.Name)
		}
		if r.End() < r.Start {
			return fmt.Errorf("region %q wraps the address space", r.Name)
		}
		for _, o := range m.Regions[i+1:] {
			if r.Start < o.End() && o.Start < r.End() {
				return fmt.Errorf("regions %q and %q overlap", r.Name, o.Name)
			}
		}
	}
	_, err := m.Entry()
	return err
}
