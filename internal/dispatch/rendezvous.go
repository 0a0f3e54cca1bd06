package dispatch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Rendezvous when the worker's context ends
	// while it is parked.
	ErrStopped = errors.New("service stopped")
	// ErrBadHandle is returned when a worker names a handle outside the table.
	ErrBadHandle = errors.New("bad service handle")
)

// Rendezvous acknowledges the worker's previous request with status and parks
// it until the next request for h arrives.
//
// If a caller is pending it is woken with status, whichever caller that is: a
// caller that timed out has already left, and its successor receives the
// acknowledgement instead.
func (e *Engine) Rendezvous(ctx context.Context, h Handle, status int32) (Request, error) {
	i, ok := e.table.index(h)
	if !ok {
		return Request{}, fmt.Errorf("rendezvous %s: %w", h, ErrBadHandle)
	}
	s := &e.table.slots[i]
	wake := make(chan struct{}, 1)

	e.mu.Lock()
	e.parkedLocked(s)
	s.lastStatus = status
	if e.caller != nil {
		e.caller <- status
		e.caller = nil
	}
	s.pending = Request{}
	s.state = SlotIdle
	s.wake = wake
	e.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
		e.mu.Lock()
		if s.wake == wake {
			s.state = SlotStopped
			s.wake = nil
			e.mu.Unlock()
			return Request{}, ErrStopped
		}
		// Dispatched while shutting down; the request still gets served.
		e.mu.Unlock()
	}

	e.mu.Lock()
	req := s.pending
	e.mu.Unlock()
	return req, nil
}

// Worker processes one request and returns the status to acknowledge.
type Worker func(ctx context.Context, req Request) int32

// Serve runs the worker loop for slot h until ctx ends.
func (e *Engine) Serve(ctx context.Context, h Handle, w Worker) error {
	status := int32(StatusOK)
	for {
		req, err := e.Rendezvous(ctx, h, status)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		status = w(ctx, req)
	}
}
