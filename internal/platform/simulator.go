package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/tsmon/internal/log"
)

// Simulator is the hosted Boundary. Partitioning validates and records the
// memory map; entering the non-secure world runs the supplied function (the
// lower-trust gateway) until it returns.
type Simulator struct {
	world  func(ctx context.Context, entry uint64) error
	logger *slog.Logger

	mu          sync.Mutex
	partitioned *MemoryMap
	entered     bool
}

// NewSimulator returns a Boundary whose non-secure world is world.
func NewSimulator(world func(ctx context.Context, entry uint64) error) *Simulator {
	return &Simulator{
		world:  world,
		logger: log.WithComponent("platform"),
	}
}

func (s *Simulator) Partition(m MemoryMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitioned != nil {
		return errors.New("memory already partitioned")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	s.partitioned = &m

	for _, r := range m.Regions {
		s.logger.Info("memory region configured",
			"region", r.Name,
			"start", fmt.Sprintf("%#x", r.Start),
			"size", fmt.Sprintf("%#x", r.Size),
			"secure", r.Secure,
			"execute_never", !r.Secure,
		)
	}
	return nil
}

func (s *Simulator) Enter(ctx context.Context, entry uint64) error {
	s.mu.Lock()
	if s.partitioned == nil {
		s.mu.Unlock()
		return errors.New("enter before partition")
	}
	if s.entered {
		s.mu.Unlock()
		return errors.New("non-secure world already entered")
	}
	s.entered = true
	s.mu.Unlock()

	s.logger.Info("entering non-secure world", "entry", fmt.Sprintf("%#x", entry))
	if s.world == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.world(ctx, entry)
}
