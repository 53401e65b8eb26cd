// ============================================================================
// nunc-stans Job - Scheduling Unit and State Machine
// ============================================================================
//
// Package: pkg/nunc
// File: job.go
// Purpose: Carry a single scheduling request through its lifecycle and
//   guarantee its state-machine invariants (component B of the dispatcher
//   design).
//
// Job State Machine (spec.md §3):
//   Waiting
//      |  Rearm() / initial arm
//      v
//   NeedsArm --(event thread registers)--> Armed
//      |                                      |
//      v                                      v
//   NeedsDelete <--------------------- Running (worker or event thread)
//      |
//      v
//   Deleted (teardown, then memory released)
//
// State Transitions:
//   - Waiting -> NeedsArm: Rearm() or an Add*Job constructor
//   - Waiting -> NeedsDelete: Done()
//   - Waiting -> Running: a job with no event-kind trigger is armed or
//     rearmed and goes straight to a worker (dispatchImmediate)
//   - NeedsArm -> Armed: event thread registers with the adapter
//   - NeedsArm -> NeedsDelete: Done()
//   - Armed -> Running: the adapter fires the watcher
//   - Armed -> NeedsDelete: Done() during shutdown only
//   - Running -> Waiting: non-persistent, no rearm requested
//   - Running -> NeedsArm: persistent, or Rearm() called inside the callback
//   - Running -> NeedsDelete: Done() called inside the callback
//   - NeedsDelete -> Deleted: final teardown
//   No other transition is permitted.
//
// Design Philosophy:
//   The teacher's jobmanager models a four-state job-queue entry
//   (pending/in_flight/completed/dead) behind a package-wide mutex; here
//   the state lives on the job itself, guarded by the job's own mutex, one
//   instance per job, matching the "owned record protected by a single
//   mutex" redesign in spec.md §9. A single sync.Mutex is the "recursive
//   monitor" of the original design, generalized per spec.md §9: every
//   exported method takes the lock exactly once and never calls another
//   exported method on the same job while holding it, so no recursion is
//   ever required.
//
// Concurrency:
//   - mu guards every field of the Job; it is the only lock a caller of
//     this package ever holds.
//   - A Job in Running is owned exclusively by the thread executing its
//     callback; no other thread drives its state transitions.
//   - Adapter handle registration/deregistration happens only on the
//     event thread (see pool.go armNow/teardown).
//
// Responsibilities:
//   1. Validate and drive the six-state lifecycle (Done/Rearm/Fire)
//   2. Satisfy adapter.Watcher so the adapter can arm/fire this job
//      without either package depending on the other's full API
//   3. Guard user-visible fields (data, done-callback) with the same
//      monitor that guards lifecycle state
//
// ============================================================================

package nunc

import (
	"sync"
	"time"

	"github.com/ChuLiYu/nunc-stans/internal/adapter"
)

// ============================================================================
// Data Structure Definitions
// ============================================================================

// State is a job's position in the six-state lifecycle of spec.md §3.
type State int

const (
	Waiting     State = iota // no trigger registered; idle
	NeedsArm                 // queued for the event thread to register
	Armed                    // registered with the adapter, awaiting fire
	Running                  // callback is executing
	NeedsDelete              // marked for teardown
	Deleted                  // torn down; memory may be released
)

// String renders a State for logging and test assertions.
//
// Returns:
//   - string: the lowercase, underscore-separated name of s, or
//     "unknown" for an out-of-range value
func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case NeedsArm:
		return "needs_arm"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case NeedsDelete:
		return "needs_delete"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Callback is a job's event or done callback.
type Callback func(j *Job)

// Job is the unit of scheduling (spec.md §3).
type Job struct {
	pool *Pool // owning dispatcher; set once at construction

	mu      sync.Mutex // guards every field below
	cb      Callback   // invoked when the job's trigger fires
	doneCB  Callback   // invoked exactly once, during teardown
	data    any        // opaque caller data; never dereferenced
	trigger Trigger    // requested trigger bits (event-kind + modifiers)
	output  Trigger    // bits that fired at the most recent dispatch
	state   State      // current lifecycle state

	fd      int           // watched fd, or -1 if none
	hasFD   bool          // true if fd came from an IO/Accept/Connect trigger
	timeout time.Duration // TIMER relative timeout
	signum  int           // SIGNAL signal number

	hasIO       bool           // an IO watcher is currently registered
	ioHandle    adapter.Handle // adapter token for the IO watcher
	hasTimer    bool           // a timer watcher is currently registered
	timerHandle adapter.Handle // adapter token for the timer watcher
	hasSig      bool           // a signal watcher is currently registered
	sigHandle   adapter.Handle // adapter token for the signal watcher
}

// eventKindBits is the subset of Trigger that corresponds to an adapter
// watcher kind (as opposed to modifier bits like PERSIST/THREAD).
const eventKindBits = Read | Write | Accept | Connect | TimerBit | SignalBit

// isEventKind reports whether t requests at least one adapter-watched
// condition (as opposed to a pure immediate/THREAD dispatch).
//
// Parameters:
//   - t: the trigger bit set to test
//
// Returns:
//   - bool: true if t sets any of Read/Write/Accept/Connect/Timer/Signal
func isEventKind(t Trigger) bool { return t.Any(eventKindBits) }

// ============================================================================
// Core Methods
// ============================================================================

// dispatchImmediate handles a job with no event-kind trigger: there is
// nothing for the adapter to watch, so it goes straight from WAITING to
// RUNNING instead of passing through NEEDS_ARM/ARMED (spec.md §4.B
// Arming: "unless the job has no event-kind trigger and THREAD is set,
// in which case [it is] enqueued directly on the work queue").
//
// Concurrency: safe to call from any goroutine; always hands off to a
// worker rather than running inline on the caller's own goroutine.
func (j *Job) dispatchImmediate() {
	j.mu.Lock()
	j.output = None
	j.state = Running
	j.mu.Unlock()

	j.pool.recordFired()
	j.pool.metrics.IncRunning()
	j.pool.submitWork(j)
}

// --- adapter.Watcher implementation -----------------------------------
//
// A *Job satisfies internal/adapter.Watcher directly: the adapter calls
// back into the job that owns a watcher without either package needing to
// know about the other's full API.

// FD returns the file descriptor to watch.
//
// Returns:
//   - int: the watched fd, or -1 if this job has no IO trigger
func (j *Job) FD() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fd
}

// Want returns the trigger bits requested for this watcher.
//
// Returns:
//   - Trigger: the full requested bit set (event-kind plus modifiers)
func (j *Job) Want() Trigger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.trigger
}

// Timeout returns the relative timer duration.
//
// Returns:
//   - time.Duration: meaningful only when the trigger includes TIMER
func (j *Job) Timeout() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeout
}

// Signum returns the signal number.
//
// Returns:
//   - int: meaningful only when the trigger includes SIGNAL
func (j *Job) Signum() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.signum
}

// Fire is invoked by the adapter, on the event thread, with exactly the
// bits that fired (spec.md §4.B "Firing"). It decides, under the job's
// monitor, whether the callback runs inline (non-THREAD jobs) or is
// handed to a worker (THREAD jobs), and - for a job combining IO and
// TIMER - cancels whichever side did not fire before either path runs,
// per the §3 invariant that at most one completion is delivered.
//
// Parameters:
//   - out: the trigger bits the adapter observed as ready
//
// Concurrency: called only from the event thread; MUST NOT block.
func (j *Job) Fire(out Trigger) {
	j.mu.Lock()
	if j.state == NeedsDelete {
		j.mu.Unlock()
		j.pool.requestTeardown(j)
		return
	}

	// IO+TIMER invariant: whichever side did not fire is cancelled before
	// the callback runs, so exactly one completion is ever delivered.
	if out.Has(TimerBit) && j.hasIO {
		_ = j.pool.adapter.IODone(j.ioHandle)
		j.hasIO = false
	}
	if !out.Has(TimerBit) && j.hasTimer {
		_ = j.pool.adapter.TimerDone(j.timerHandle)
		j.hasTimer = false
	}

	j.output = out
	j.state = Running
	useThread := j.trigger.Has(Thread)
	j.mu.Unlock()

	j.pool.recordFired()
	j.pool.metrics.IncRunning()
	if useThread {
		j.pool.submitWork(j)
	} else {
		j.pool.runInline(j)
	}
}

// runCallbackAndFinalize executes cb to completion and then drives the
// post-execution transition (§4.B "Execution on a worker" / inline
// firing): NEEDS_DELETE jobs are hot-potatoed to the event thread for
// teardown, PERSIST jobs (and jobs on which rearm was called from inside
// cb) are marked NEEDS_ARM and re-armed, everything else returns to
// WAITING.
//
// Parameters:
//   - onEventThread: true if the caller is the event thread itself, so
//     a requested rearm can register synchronously instead of
//     round-tripping through the event queue (the optimization spec.md
//     §4.B "Arming" describes)
//
// Concurrency: called from exactly one goroutine per job at a time - a
// worker for THREAD jobs, the event thread otherwise.
func (j *Job) runCallbackAndFinalize(onEventThread bool) {
	j.mu.Lock()
	cb := j.cb
	j.mu.Unlock()

	if cb != nil {
		cb(j)
	}
	j.pool.metrics.DecRunning()

	j.mu.Lock()
	switch j.state {
	case NeedsDelete:
		j.mu.Unlock()
		j.pool.requestTeardown(j)
	case NeedsArm:
		j.mu.Unlock()
		j.pool.metrics.IncRequeued()
		j.pool.arm(j, onEventThread)
	default:
		if j.trigger.Has(Persist) {
			j.state = NeedsArm
			j.mu.Unlock()
			j.pool.metrics.IncRequeued()
			j.pool.arm(j, onEventThread)
		} else {
			j.state = Waiting
			j.mu.Unlock()
		}
	}
}

// Done transitions the job toward deletion per the state table in
// spec.md §3 and the ownership rules in §4.B.
//
// Returns:
//   - error: ErrInvalidState if the job is ARMED and the pool is not
//     shutting down (the caller must wait for the callback to start);
//     nil in every other case, including when the job is already
//     NeedsDelete/Deleted (idempotent no-op)
//
// Concurrency: callable from any goroutine; from inside the job's own
// callback this only marks intent, teardown happens after the callback
// returns.
func (j *Job) Done() error {
	j.mu.Lock()
	switch j.state {
	case Waiting, NeedsArm:
		j.state = NeedsDelete
		j.mu.Unlock()
		j.pool.requestTeardown(j)
		return nil
	case Armed:
		if j.pool.shuttingDown() {
			j.state = NeedsDelete
			j.mu.Unlock()
			j.pool.requestTeardown(j)
			return nil
		}
		j.mu.Unlock()
		return ErrInvalidState
	case Running:
		j.state = NeedsDelete
		j.mu.Unlock()
		return nil
	default: // NeedsDelete, Deleted
		j.mu.Unlock()
		return nil
	}
}

// Rearm transitions the job to NEEDS_ARM, per spec.md §4.B. A PERSIST job
// that is currently RUNNING rejects rearm (its own persistence already
// re-arms it once the callback returns); this is one of the two Open
// Question resolutions recorded in DESIGN.md.
//
// Returns:
//   - error: ErrShutdown if the pool is shutting down; ErrInvalidState
//     if the job is NeedsArm/ARMED/NeedsDelete/Deleted, or RUNNING and
//     PERSIST;
//     nil on success
//
// Concurrency: callable from any goroutine, including from inside the
// job's own callback.
func (j *Job) Rearm() error {
	j.mu.Lock()
	if j.pool.shuttingDown() {
		j.mu.Unlock()
		return ErrShutdown
	}
	switch j.state {
	case Waiting:
		if !isEventKind(j.trigger) {
			j.mu.Unlock()
			j.dispatchImmediate()
			return nil
		}
		j.state = NeedsArm
		j.mu.Unlock()
		j.pool.requestArm(j)
		return nil
	case Running:
		if j.trigger.Has(Persist) {
			j.mu.Unlock()
			return ErrInvalidState
		}
		j.state = NeedsArm
		j.mu.Unlock()
		return nil
	default:
		j.mu.Unlock()
		return ErrInvalidState
	}
}

// Data returns the job's opaque user data.
//
// Returns:
//   - any: whatever was last passed to an Add*Job constructor or SetData
func (j *Job) Data() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.data
}

// SetData replaces the job's user data. Legal only in WAITING or RUNNING
// (spec.md §4.B).
//
// Parameters:
//   - data: the new opaque user data
//
// Returns:
//   - error: ErrInvalidState if the job is not WAITING or RUNNING
func (j *Job) SetData(data any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Waiting && j.state != Running {
		return ErrInvalidState
	}
	j.data = data
	return nil
}

// SetDoneCB replaces the done-callback. Legal only in WAITING or RUNNING.
//
// Parameters:
//   - cb: the callback to invoke exactly once, during teardown
//
// Returns:
//   - error: ErrInvalidState if the job is not WAITING or RUNNING
func (j *Job) SetDoneCB(cb Callback) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Waiting && j.state != Running {
		return ErrInvalidState
	}
	j.doneCB = cb
	return nil
}

// Type returns the job's requested trigger bits.
//
// Returns:
//   - Trigger: the bit set passed to the Add*Job constructor
func (j *Job) Type() Trigger {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.trigger
}

// OutputType returns the bits that fired at the most recent dispatch.
// Only meaningful while RUNNING; returns None otherwise.
//
// Returns:
//   - Trigger: the subset of Type() that actually fired, or None if the
//     job is not currently RUNNING
func (j *Job) OutputType() Trigger {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running {
		return None
	}
	return j.output
}

// Pool returns the job's owning pool.
//
// Returns:
//   - *Pool: the dispatcher this job was created on
func (j *Job) Pool() *Pool { return j.pool }

// CurrentState reports the job's current lifecycle state. Not part of the
// minimal spec.md surface, but useful for tests and introspection.
//
// Returns:
//   - State: the job's live state under its own monitor
func (j *Job) CurrentState() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}
