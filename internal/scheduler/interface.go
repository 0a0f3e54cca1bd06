package scheduler

import "context"

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/tsmon/internal/scheduler Scheduler

// Default priority bands. Trusted service workers must run strictly between
// NormalPrio and HighPrio; the monitor itself runs at HighPrio once booted.
const (
	LowestPrio = 1
	NormalPrio = 128
	HighPrio   = 255
)

// Scheduler is the thread collaborator the monitor relies on. It does not
// decide ordering among ready workers; that is left to the implementation.
type Scheduler interface {
	// Spawn starts fn on a new thread of the given priority.
	Spawn(name string, prio int, fn func(ctx context.Context)) error
	// SetPriority changes the priority of the calling (monitor) thread and
	// returns the previous one.
	SetPriority(prio int) int
	// Priority returns the monitor thread priority.
	Priority() int
	// NormalPrio and HighPrio are the configured priority bounds.
	NormalPrio() int
	HighPrio() int
}
