// Package dispatch is the trusted services monitor: the entry point the
// lower-trust side traps into, and the rendezvous trusted service workers
// park on between requests.
//
// A call names a service by opaque handle and passes a buffer in the
// non-secure window. The engine validates both, hands the request to the
// slot's parked worker, and suspends the caller until a worker acknowledges
// or the (clamped) timeout expires. The packed result carries the status in
// the low word and the event flags drained at wake-up in the high word.
//
// Reserved handles:
//   - HandleVersion   returns Version, never blocks
//   - HandleDiscovery resolves the NUL-terminated name in the buffer to a handle
//   - HandleQuery     reports the last status of an idle slot; on a busy slot
//     it waits like HandleIdle
//   - HandleIdle      waits for event flags or a completion without dispatching
//
// Concurrency model:
//   - One engine mutex serializes slot state, the pending caller and the flag drain
//   - At most one caller may be outstanding; serializing callers is the
//     integrator's job (the API gateway holds a call mutex)
//   - Timeouts bound the caller's wait only. A worker that completes after its
//     caller gave up wakes whichever caller is pending at that later moment
//
// Status codes:
//   - StatusOK, StatusInterrupted (timeout), StatusBusy, StatusInvalid,
//     StatusBadHandle, StatusNotFound
package dispatch
