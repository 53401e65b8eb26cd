// ============================================================================
// nunc-stans Queue - Event Queue, Work Queue, Self-Pipe Wakeup
// ============================================================================
//
// Package: pkg/nunc
// File: queue.go
// Purpose: Implement component E of the dispatcher design: the event
//   queue, the work queue, and the self-pipe wakeup that lets any
//   goroutine interrupt the event thread's blocking adapter wait.
//
// Design Philosophy:
//   The teacher's worker_pool.go already uses a buffered Go channel as
//   its job queue; Go channels give us the lock-free MPSC/MPMC queue plus
//   condition-variable-style blocking receive from spec.md §4.E for free,
//   so eventCh and workCh (pool.go) are exactly that idiom generalized to
//   two queues instead of one.
//
//   The one piece channels cannot provide is waking a goroutine blocked
//   inside a real epoll_wait syscall - no Go channel operation can
//   interrupt that. The self-pipe is grounded on the wakeup idiom in
//   other_examples/e3aa58c5_trpc-group-tnet__internal-poller-poller_kqueue.go.go
//   (EVFILT_USER + notify()), translated to its classic Linux form: a
//   pipe registered for readability in the same epoll set, written to by
//   anyone who needs the event thread to wake up and drain its queue.
//
// Concurrency:
//   eventCh/workCh are safe for concurrent send/receive by construction.
//   requestArm/requestTeardown may be called from any goroutine; the
//   actual adapter registration they trigger still only ever runs on the
//   event thread (pool.go's armNow/teardown).
//
// ============================================================================

package nunc

import (
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Data Structure Definitions
// ============================================================================

// eventQueueCapacity bounds the buffered depth of both eventCh and
// workCh. A submitWork send to a full workCh falls back to a blocking
// detached goroutine; a requestArm/requestTeardown send to a full eventCh
// blocks the sender.
const eventQueueCapacity = 4096

// selfPipeWatcher is the internal, non-user-visible adapter.Watcher that
// represents the wakeup pipe's read end. It is armed once at pool
// construction and is never exposed as a *Job.
type selfPipeWatcher struct {
	fd   int
	pool *Pool
}

// FD returns the self-pipe's read end.
func (w *selfPipeWatcher) FD() int { return w.fd }

// Want reports the self-pipe's trigger: readable, and rearmed
// automatically after each firing.
func (w *selfPipeWatcher) Want() Trigger { return Read | Persist }

// Timeout is unused; the self-pipe carries no TIMER trigger.
func (w *selfPipeWatcher) Timeout() time.Duration { return 0 }

// Signum is unused; the self-pipe carries no SIGNAL trigger.
func (w *selfPipeWatcher) Signum() int { return 0 }

// Fire drains the pipe and processes everything waiting in the event
// queue. Called by the adapter whenever the pipe becomes readable.
//
// Parameters:
//   - Trigger: the fired trigger bits; unused, since the pipe only ever
//     carries one meaning (wake up and drain)
func (w *selfPipeWatcher) Fire(Trigger) {
	var buf [64]byte
	for {
		n, err := unix.Read(w.fd, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	w.pool.drainEventQueue()
}

// ============================================================================
// Core Methods
// ============================================================================

// wake writes a single byte to the wakeup pipe so the event thread's
// epoll_wait returns promptly instead of waiting out loopTimeout. The
// write end is non-blocking: a full pipe means a wakeup is already
// pending, so EAGAIN is expected and benign.
func (p *Pool) wake() {
	_, err := unix.Write(p.pipeW, []byte{0})
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		p.logf(LogWarning, "nunc: self-pipe write: %v", err)
	}
}

// requestArm enqueues j for the event thread to register with the
// adapter, and wakes it. Used whenever the caller cannot register
// synchronously itself (i.e. is not the event thread).
//
// Parameters:
//   - j: the job to arm
func (p *Pool) requestArm(j *Job) {
	p.eventCh <- j
	p.wake()
}

// requestTeardown enqueues j for the event thread to tear down.
//
// Parameters:
//   - j: the job to tear down
func (p *Pool) requestTeardown(j *Job) {
	p.eventCh <- j
	p.wake()
}

// drainEventQueue processes every job currently sitting in the event
// queue without blocking. Called once per event-loop iteration and from
// the self-pipe's own Fire.
//
// Concurrency: safe to call from any goroutine, but only ever called
// from the event thread in practice.
func (p *Pool) drainEventQueue() {
	for {
		select {
		case j := <-p.eventCh:
			p.processEventQueueItem(j)
		default:
			return
		}
	}
}

// processEventQueueItem re-reads the job's live state rather than
// trusting why it was enqueued: a job can be enqueued for arming and
// then marked NEEDS_DELETE (or vice versa) before the event thread gets
// to it, and a job can legitimately be enqueued twice. Reading live
// state makes both races and duplicate enqueues harmless.
//
// Parameters:
//   - j: the job to dispatch to armNow or teardown based on its current
//     state
func (p *Pool) processEventQueueItem(j *Job) {
	j.mu.Lock()
	state := j.state
	j.mu.Unlock()

	switch state {
	case NeedsArm:
		p.armNow(j)
	case NeedsDelete:
		p.teardown(j)
	}
}
