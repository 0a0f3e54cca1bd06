package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/tsmon/internal/log"
)

// Thread describes one spawned thread.
type Thread struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Running  bool   `json:"running"`
}

// Goroutines runs every thread as a goroutine. The Go runtime has no thread
// priorities, so priorities are recorded and reported but do not affect
// ordering.
type Goroutines struct {
	ctx    context.Context
	normal int
	high   int
	logger *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	prio    int
	threads map[string]*Thread
}

// New creates a goroutine scheduler whose threads stop when ctx is cancelled.
func New(ctx context.Context, normal, high int) (*Goroutines, error) {
	if normal < LowestPrio || high <= normal {
		return nil, fmt.Errorf("invalid priority bounds: normal=%d high=%d", normal, high)
	}
	return &Goroutines{
		ctx:     ctx,
		normal:  normal,
		high:    high,
		logger:  log.WithComponent("scheduler"),
		prio:    normal,
		threads: make(map[string]*Thread),
	}, nil
}

func (s *Goroutines) Spawn(name string, prio int, fn func(ctx context.Context)) error {
	if prio < LowestPrio || prio > s.high {
		return fmt.Errorf("thread %q: priority %d outside [%d, %d]", name, prio, LowestPrio, s.high)
	}

	s.mu.Lock()
	if _, exists := s.threads[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("thread %q already exists", name)
	}
	th := &Thread{Name: name, Priority: prio, Running: true}
	s.threads[name] = th
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			th.Running = false
			s.mu.Unlock()
		}()
		fn(s.ctx)
	}()

	s.logger.Debug("thread spawned", "thread", name, "priority", prio)
	return nil
}

func (s *Goroutines) SetPriority(prio int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.prio
	s.prio = prio
	return old
}

func (s *Goroutines) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prio
}

func (s *Goroutines) NormalPrio() int { return s.normal }
func (s *Goroutines) HighPrio() int   { return s.high }

// Threads returns a snapshot of spawned threads sorted by name.
func (s *Goroutines) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thread, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until every spawned thread has returned.
func (s *Goroutines) Wait() {
	s.wg.Wait()
}
