package journal

import (
	"errors"
	"time"
)

// Entry is one completed call as recorded in call_log.
type Entry struct {
	ID        string        `json:"id"`
	Handle    uint32        `json:"handle"`
	Service   string        `json:"service,omitempty"`
	Class     string        `json:"class"`
	Addr      uint64        `json:"addr"`
	Len       uint64        `json:"len"`
	TimeoutUS uint32        `json:"timeout_us"`
	Status    int32         `json:"status"`
	Flags     uint32        `json:"flags"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Boot is one monitor lifetime as recorded in boot_log.
type Boot struct {
	ID        string     `json:"id"`
	Monitor   string     `json:"monitor"`
	Services  int        `json:"services"`
	Entry     uint64     `json:"entry"`
	BootedAt  time.Time  `json:"booted_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
}

var ErrCallNotFound = errors.New("call not found")
