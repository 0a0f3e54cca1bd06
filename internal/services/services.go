// Package services holds the built-in trusted services. Each one is a
// dispatch.Worker bound to a slot by the `kind` field of its configuration.
package services

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
	"github.com/mattjoyce/tsmon/internal/memory"
)

// Env is what a service gets to work with.
type Env struct {
	Name   string
	Region *memory.Region
	Hub    *events.Hub
	Params map[string]any
	Logger *slog.Logger
}

// Factory builds a worker for one configured slot.
type Factory func(env Env) (dispatch.Worker, error)

var factories = map[string]Factory{
	"echo":   newEcho,
	"rng":    newRNG,
	"digest": newDigest,
	"daemon": newDaemon,
	"stall":  newStall,
}

// Build returns the worker for kind.
func Build(kind string, env Env) (dispatch.Worker, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("service %q: unknown kind %q", env.Name, kind)
	}
	if env.Region == nil {
		return nil, fmt.Errorf("service %q: no non-secure region", env.Name)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return f(env)
}

// Known reports whether kind names a built-in service.
func Known(kind string) bool {
	_, ok := factories[kind]
	return ok
}

// Kinds lists the built-in service kinds.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func paramUint32(params map[string]any, key string) (uint32, bool, error) {
	v, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		if n < 0 || uint64(n) > 0xffffffff {
			return 0, true, fmt.Errorf("%s: %d out of range", key, n)
		}
		return uint32(n), true, nil
	case uint64:
		if n > 0xffffffff {
			return 0, true, fmt.Errorf("%s: %d out of range", key, n)
		}
		return uint32(n), true, nil
	default:
		return 0, true, fmt.Errorf("%s: expected integer, got %T", key, v)
	}
}

func paramDuration(params map[string]any, key string) (time.Duration, bool, error) {
	v, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, true, fmt.Errorf("%s: expected duration string, got %T", key, v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, true, fmt.Errorf("%s: negative duration %s", key, s)
	}
	return d, true, nil
}
