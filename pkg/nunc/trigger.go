// ============================================================================
// nunc-stans Trigger Vocabulary - Job Activation Bit Set
// ============================================================================
//
// Package: pkg/nunc
// File: trigger.go
// Purpose: Define the trigger bit set that describes what activates a Job
//   and, after it fires, which of those conditions actually fired.
//
// Bit Layout:
//   Trigger is a thin re-export of internal/adapter.Bits: the adapter needs
//   the same vocabulary to map bits onto epoll/timerfd/signalfd flags, and
//   Job satisfies adapter.Watcher directly, so both packages share one bit
//   layout instead of converting between two enums.
//
//   Event-kind bits (what the adapter watches):
//     Read, Write, Accept, Connect, TimerBit, SignalBit
//   Modifier bits (how the event-kind bits are handled):
//     Persist, Thread, PreserveFD, ShutdownWorker
//
// Validation:
//   validTrigger rejects the illegal combinations named in spec.md §6:
//   ACCEPT|THREAD, TIMER without a well-formed timeout, and any user
//   submission of SHUTDOWN_WORKER (internal-only).
//
// ============================================================================

// Package nunc implements nunc-stans: an event-driven job dispatcher that
// schedules user callbacks in response to I/O readiness, timer expiry,
// signal delivery, or immediate dispatch, running each on a bounded
// worker pool or inline on a single event thread.
package nunc

import "github.com/ChuLiYu/nunc-stans/internal/adapter"

// Trigger is the bit set describing what activates a Job and, after it
// fires, which of those conditions actually fired (the "output
// trigger").
type Trigger = adapter.Bits

// ============================================================================
// Trigger Bit Constants
// ============================================================================

// Trigger bit constants, per spec.md §3/§6.
const (
	None           = adapter.None           // no bits set
	Read           = adapter.Read           // fd is readable
	Write          = adapter.Write          // fd is writable
	Accept         = adapter.Accept         // listening fd has a pending connection
	Connect        = adapter.Connect        // connecting fd became writable
	TimerBit       = adapter.Timer          // relative timeout elapsed
	SignalBit      = adapter.Signal         // signal was delivered
	Persist        = adapter.Persist        // watcher stays armed after firing
	Thread         = adapter.Thread         // callback runs on a worker, not inline
	PreserveFD     = adapter.PreserveFD     // teardown must not close the fd
	ShutdownWorker = adapter.ShutdownWorker // internal worker-exit sentinel
)

// ============================================================================
// Core Methods
// ============================================================================

// validTrigger rejects the illegal trigger combinations named in
// spec.md §6.
//
// Parameters:
//   - t: the requested trigger bit set
//   - timeout: the requested timeout in nanoseconds, or nil if TIMER is
//     not set
//
// Returns:
//   - error: ErrInvalidRequest if t sets SHUTDOWN_WORKER, combines
//     ACCEPT with THREAD, or sets TIMER without a non-negative timeout;
//     nil otherwise
func validTrigger(t Trigger, timeout *int64) error {
	if t.Has(ShutdownWorker) {
		return ErrInvalidRequest
	}
	if t.Has(Accept) && t.Has(Thread) {
		return ErrInvalidRequest
	}
	if t.Has(TimerBit) {
		if timeout == nil || *timeout < 0 {
			return ErrInvalidRequest
		}
	}
	return nil
}
