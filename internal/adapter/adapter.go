// ============================================================================
// nunc-stans Adapter - Uniform Readiness Multiplexer Interface
// ============================================================================
//
// Package: internal/adapter
// File: adapter.go
// Purpose: Present a uniform interface over an underlying OS readiness
//   multiplexer (epoll on Linux) so the dispatcher core can stay
//   framework-neutral. This is component A of the dispatcher design:
//   register/modify/remove fd, timer, and signal watchers, and run one
//   iteration of the loop.
//
// Architecture:
//   pkg/nunc programs only against the Adapter/Watcher interfaces below;
//   epoll_linux.go is the only file in the module aware of epoll,
//   timerfd, and signalfd. A future adapter (kqueue, IOCP) implements the
//   same two interfaces and nothing above it changes.
//
// Concurrency:
//   An Adapter implementation's methods are called only from the event
//   thread (pkg/nunc's pool.go); Watcher.Fire is likewise invoked only on
//   the event thread and MUST NOT block.
//
// ============================================================================

package adapter

import "time"

// ============================================================================
// Data Structure Definitions
// ============================================================================

// Bits is the trigger bit set the adapter understands. It mirrors the
// public trigger vocabulary one-to-one (pkg/nunc re-exports these same
// values) so a Watcher can describe what it wants armed and the adapter
// can report back exactly what fired, without either package importing
// the other.
type Bits uint16

// None is the empty bit set.
const None Bits = 0

const (
	Read Bits = 1 << iota
	Write
	Accept
	Connect
	Timer
	Signal
	Persist
	Thread
	PreserveFD
	ShutdownWorker
)

// Has reports whether all bits in f are set in b.
//
// Returns:
//   - bool: true iff every bit of f is also set in b
func (b Bits) Has(f Bits) bool { return b&f == f }

// Any reports whether any bit in f is set in b.
//
// Returns:
//   - bool: true iff at least one bit of f is also set in b
func (b Bits) Any(f Bits) bool { return b&f != 0 }

// ioMask is the subset of Bits that describe fd direction (as opposed to
// modifiers or the timer/signal kinds).
const ioMask = Read | Write | Accept | Connect

// Watcher is implemented by whatever the caller wants armed against the
// adapter. pkg/nunc.Job satisfies this directly; the adapter never
// constructs or owns a Job, it only calls back into it.
type Watcher interface {
	// FD returns the file descriptor to watch. Meaningful only when Want()
	// includes an IO direction bit.
	FD() int
	// Want returns the trigger bits requested for this watcher (direction
	// bits plus PERSIST where relevant).
	Want() Bits
	// Timeout returns the relative timer duration. Meaningful only for
	// timer watchers.
	Timeout() time.Duration
	// Signum returns the signal number. Meaningful only for signal
	// watchers.
	Signum() int
	// Fire is invoked by the adapter, on the event thread, with exactly
	// the bits that fired. It MUST NOT block.
	Fire(out Bits)
}

// Handle is an opaque per-watcher token returned by the adapter. The
// owning Job stores it and passes it back on Mod*/*Done calls.
type Handle uint64

// LoopStatus is the outcome of one call to Loop.
type LoopStatus int

const (
	// Normal means at least one watcher fired and was dispatched.
	Normal LoopStatus = iota
	// NoEvents means the multiplexer returned with nothing ready (timeout
	// or a benign interrupted wait).
	NoEvents
	// LoopError means the underlying multiplexer call itself failed; the
	// caller should log at ERROR and keep looping (spec.md §7,
	// AdapterFailure).
	LoopError
)

// ============================================================================
// Core Methods
// ============================================================================

// Adapter is the small trait the rest of the dispatcher programs
// against; the concrete implementation (epoll+timerfd+signalfd on Linux)
// is the only code in the module aware of the underlying multiplexer.
type Adapter interface {
	// AddIO registers an fd watcher against w's direction bits.
	//
	// Returns:
	//   - Handle, error: a token for future Mod/Done calls, or an error if
	//     registration failed
	AddIO(w Watcher) (Handle, error)
	// ModIO changes the armed direction bits of an existing fd watcher.
	ModIO(h Handle, w Watcher) error
	// IODone unregisters an fd watcher and releases its adapter handle.
	IODone(h Handle) error

	// AddTimer schedules a one-shot (or, if w.Want() has Persist,
	// periodic) relative timeout.
	//
	// Returns:
	//   - Handle, error: a token for future Mod/Done calls, or an error if
	//     scheduling failed
	AddTimer(w Watcher) (Handle, error)
	// ModTimer reschedules an existing timer watcher.
	ModTimer(h Handle, w Watcher) error
	// TimerDone cancels a timer watcher and releases its handle.
	TimerDone(h Handle) error

	// AddSignal schedules delivery of w.Signum() through the adapter.
	//
	// Returns:
	//   - Handle, error: a token for future Mod/Done calls, or an error if
	//     registration failed
	AddSignal(w Watcher) (Handle, error)
	// ModSignal is a no-op placeholder for symmetry with the other
	// trigger kinds; signal watchers have no mutable arming state.
	ModSignal(h Handle, w Watcher) error
	// SignalDone unregisters a signal watcher and releases its handle.
	SignalDone(h Handle) error

	// Loop runs exactly one cycle of the multiplexer: it waits for
	// readiness with no inherent ordering guarantee among ready
	// descriptors/timers/signals, and invokes Fire on each ready
	// watcher's owner.
	//
	// Concurrency: MUST be called only from the event thread.
	Loop() (LoopStatus, error)

	// Destroy releases the adapter. MUST NOT be called while the event
	// thread is still using it.
	Destroy() error
}
