package dispatch

import (
	"fmt"

	"github.com/mattjoyce/tsmon/internal/events"
)

// Status is the signed code carried in the low word of a Result.
type Status int32

const (
	StatusOK          Status = 0
	StatusInterrupted Status = -1
	StatusNotFound    Status = -2
	StatusInvalid     Status = -3
	StatusBadHandle   Status = -4
	StatusBusy        Status = -7
)

// Version is the monitor protocol version returned for HandleVersion.
const Version Status = 0x01000000

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInterrupted:
		return "interrupted"
	case StatusNotFound:
		return "not_found"
	case StatusInvalid:
		return "invalid_argument"
	case StatusBadHandle:
		return "bad_handle"
	case StatusBusy:
		return "busy"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Result is the packed 64-bit call result: status in the low 32 bits, the
// event flags captured at wake-up in the high 32 bits.
type Result uint64

// Pack builds a Result from a low-word value and a flag mask.
func Pack(low int32, flags events.Flags) Result {
	return Result(uint64(uint32(low)) | uint64(flags)<<32)
}

// Low returns the signed low word: a Status, Version, or a discovered handle.
func (r Result) Low() int32 {
	return int32(uint32(r))
}

// Status returns the low word as a Status.
func (r Result) Status() Status {
	return Status(r.Low())
}

// Flags returns the event flags in the high word.
func (r Result) Flags() events.Flags {
	return events.Flags(r >> 32)
}

func (r Result) String() string {
	return fmt.Sprintf("%s flags=%#x", r.Status(), uint32(r.Flags()))
}
