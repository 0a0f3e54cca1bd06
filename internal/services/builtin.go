package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/events"
)

// DigestSize is the number of bytes the digest service writes back.
const DigestSize = 32

// echo acknowledges with the request length.
func newEcho(env Env) (dispatch.Worker, error) {
	return func(_ context.Context, req dispatch.Request) int32 {
		if req.Len > math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(req.Len)
	}, nil
}

// randRead is the entropy source of the rng service.
var randRead = rand.Read

// rng fills the request buffer with random bytes.
func newRNG(env Env) (dispatch.Worker, error) {
	return func(_ context.Context, req dispatch.Request) int32 {
		var readErr error
		err := env.Region.Update(req.Addr, req.Len, func(b []byte) {
			_, readErr = randRead(b)
		})
		if err != nil {
			env.Logger.Warn("rng request outside window", "error", err)
			return int32(dispatch.StatusInvalid)
		}
		if readErr != nil {
			env.Logger.Error("entropy source failed", "error", readErr)
			return int32(dispatch.StatusInvalid)
		}
		return int32(dispatch.StatusOK)
	}, nil
}

// digest replaces the first DigestSize bytes of the buffer with the BLAKE3
// hash of the whole buffer.
func newDigest(env Env) (dispatch.Worker, error) {
	return func(_ context.Context, req dispatch.Request) int32 {
		if req.Len < DigestSize {
			return int32(dispatch.StatusInvalid)
		}
		err := env.Region.Update(req.Addr, req.Len, func(b []byte) {
			sum := blake3.Sum256(b)
			copy(b, sum[:])
		})
		if err != nil {
			env.Logger.Warn("digest request outside window", "error", err)
			return int32(dispatch.StatusInvalid)
		}
		return int32(dispatch.StatusOK)
	}, nil
}

// daemon raises its configured event flags on every request.
func newDaemon(env Env) (dispatch.Worker, error) {
	if env.Hub == nil {
		return nil, errors.New("daemon service needs an event hub")
	}
	flags, ok, err := paramUint32(env.Params, "flags")
	if err != nil {
		return nil, err
	}
	if !ok || flags == 0 {
		flags = 1
	}
	return func(_ context.Context, _ dispatch.Request) int32 {
		env.Hub.Broadcast(env.Name, events.Flags(flags))
		return int32(dispatch.StatusOK)
	}, nil
}

// stall holds each request for a configured delay before acknowledging.
func newStall(env Env) (dispatch.Worker, error) {
	delay, ok, err := paramDuration(env.Params, "delay")
	if err != nil {
		return nil, err
	}
	if !ok {
		delay = time.Second
	}
	return func(ctx context.Context, _ dispatch.Request) int32 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			return int32(dispatch.StatusOK)
		case <-ctx.Done():
			return int32(dispatch.StatusInterrupted)
		}
	}, nil
}
