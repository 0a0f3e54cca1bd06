package api

import (
	"github.com/mattjoyce/tsmon/internal/dispatch"
)

// SMCRequest is the JSON body for POST /smc: the register file of one trap.
type SMCRequest struct {
	Handle    uint32 `json:"handle"`
	Addr      uint64 `json:"addr"`
	Len       uint64 `json:"len"`
	TimeoutUS uint32 `json:"timeout_us"`
}

// SMCResponse carries the packed result and its decoded halves.
type SMCResponse struct {
	CallID     string `json:"call_id,omitempty"`
	Result     uint64 `json:"result"`
	Low        int32  `json:"low"`
	Status     string `json:"status"`
	Flags      uint32 `json:"flags"`
	DurationUS int64  `json:"duration_us"`
}

// CallEvent is the payload of an "smc.call" event.
type CallEvent struct {
	SMCResponse
	Handle  uint32 `json:"handle"`
	Service string `json:"service,omitempty"`
}

// MemResponse is returned by GET /mem/{addr} and PUT /mem/{addr}.
type MemResponse struct {
	Addr uint64 `json:"addr"`
	Len  int    `json:"len"`
	Data []byte `json:"data,omitempty"`
}

// ServiceStatus is one row of GET /services.
type ServiceStatus struct {
	Handle     uint32             `json:"handle"`
	HandleHex  string             `json:"handle_hex"`
	Name       string             `json:"name"`
	Priority   int                `json:"priority"`
	State      dispatch.SlotState `json:"state"`
	LastStatus int32              `json:"last_status"`
	Pending    dispatch.Request   `json:"pending"`
}

// ServicesResponse is returned by GET /services.
type ServicesResponse struct {
	Services      []ServiceStatus `json:"services"`
	CallerPending bool            `json:"caller_pending"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Services      int    `json:"services"`
	MaxTimeoutUS  int64  `json:"max_timeout_us"`
}
