// ============================================================================
// nunc-stans Epoll Adapter - Linux epoll+timerfd+signalfd Implementation
// ============================================================================
//
// Package: internal/adapter
// File: epoll_linux.go
// Purpose: Implement Adapter (adapter.go) on Linux by multiplexing all
//   three watcher kinds (IO, timer, signal) through one epoll instance:
//   timers are timerfd_create fds and signals are signalfd fds, both of
//   which become ordinary EPOLLIN-readable descriptors, which is exactly
//   what lets one Loop() call satisfy every trigger kind uniformly.
//
// Design Philosophy:
//   Grounded on the kqueue poller shape in
//   other_examples/e3aa58c5_trpc-group-tnet__internal-poller-poller_kqueue.go.go
//   (one multiplexer fd, a fixed-size ready-event buffer, an
//   event-to-watcher lookup), translated from kqueue filters to
//   epoll+timerfd+signalfd.
//
// Concurrency:
//   mu guards the byFD/entries maps and nextID counter, all of which are
//   written from AddIO/AddTimer/AddSignal/*Done (any goroutine) and read
//   from Loop (event thread only). Loop itself is never called
//   concurrently with another Loop call.
//
// ============================================================================

//go:build linux

package adapter

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Data Structure Definitions
// ============================================================================

// epollAdapter is the Linux Adapter implementation.
type epollAdapter struct {
	mu      sync.Mutex
	epfd    int
	byFD    map[int]Handle
	entries map[Handle]*entry
	nextID  uint64
	events  []unix.EpollEvent
}

// entry is the per-handle bookkeeping record behind one registered
// watcher.
type entry struct {
	fd      int
	kind    Bits // Timer, Signal, or the io direction bits
	watcher Watcher
	owned   bool // adapter created this fd (timer/signal) and must close it
}

// ============================================================================
// Core Methods - Construction
// ============================================================================

// New returns a fresh Linux epoll-backed Adapter.
//
// Returns:
//   - Adapter, error: a ready-to-use adapter, or a wrapped syscall error
//     (the ResourceExhausted case of spec.md §4.A)
func New() (Adapter, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("adapter: epoll_create1: %w", err)
	}
	return &epollAdapter{
		epfd:    epfd,
		byFD:    make(map[int]Handle),
		entries: make(map[Handle]*entry),
		events:  make([]unix.EpollEvent, 128),
	}, nil
}

// alloc issues the next monotonically increasing Handle.
//
// Returns:
//   - Handle: a handle not previously issued by this adapter
func (e *epollAdapter) alloc() Handle {
	e.nextID++
	return Handle(e.nextID)
}

// ioEvents maps a watcher's requested Bits onto epoll event flags.
//
// Parameters:
//   - want: the watcher's requested trigger bits
//
// Returns:
//   - uint32: the EPOLLIN/EPOLLOUT/EPOLLONESHOT flags to register
func ioEvents(want Bits) uint32 {
	var ev uint32
	if want.Any(Read | Accept) {
		ev |= unix.EPOLLIN
	}
	if want.Any(Write | Connect) {
		ev |= unix.EPOLLOUT
	}
	if !want.Has(Persist) {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

// ============================================================================
// Core Methods - IO Watchers
// ============================================================================

// AddIO registers an fd watcher against w's direction bits.
//
// Returns:
//   - Handle, error: see Adapter.AddIO
func (e *epollAdapter) AddIO(w Watcher) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fd := w.FD()
	h := e.alloc()
	ent := &entry{fd: fd, kind: w.Want() & ioMask, watcher: w}

	ev := unix.EpollEvent{Events: ioEvents(w.Want()), Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, fmt.Errorf("adapter: epoll_ctl add io: %w", err)
	}
	e.entries[h] = ent
	e.byFD[fd] = h
	return h, nil
}

// ModIO changes the armed direction bits of an existing fd watcher.
func (e *epollAdapter) ModIO(h Handle, w Watcher) error {
	e.mu.Lock()
	ent, ok := e.entries[h]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter: unknown io handle")
	}
	ev := unix.EpollEvent{Events: ioEvents(w.Want()), Fd: int32(ent.fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, ent.fd, &ev); err != nil {
		return fmt.Errorf("adapter: epoll_ctl mod io: %w", err)
	}
	return nil
}

// IODone unregisters an fd watcher and releases its adapter handle.
func (e *epollAdapter) IODone(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[h]
	if !ok {
		return nil
	}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, ent.fd, nil)
	delete(e.entries, h)
	delete(e.byFD, ent.fd)
	return nil
}

// ============================================================================
// Core Methods - Timer Watchers
// ============================================================================

// toItimerspec converts a relative duration and persistence flag into
// the itimerspec timerfd_settime expects.
//
// Parameters:
//   - d: relative timeout; values below one nanosecond are raised to one
//     nanosecond, since a zero it_value would disarm the timerfd
//   - persist: whether the timer should rearm itself periodically
//
// Returns:
//   - unix.ItimerSpec: the spec to pass to TimerfdSettime
func toItimerspec(d time.Duration, persist bool) unix.ItimerSpec {
	if d <= 0 {
		d = time.Nanosecond
	}
	value := unix.NsecToTimespec(d.Nanoseconds())
	var interval unix.Timespec
	if persist {
		interval = value
	}
	return unix.ItimerSpec{Interval: interval, Value: value}
}

// AddTimer schedules a one-shot (or, if w.Want() has Persist, periodic)
// relative timeout via a fresh timerfd.
//
// Returns:
//   - Handle, error: see Adapter.AddTimer
func (e *epollAdapter) AddTimer(w Watcher) (Handle, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return 0, fmt.Errorf("adapter: timerfd_create: %w", err)
	}
	spec := toItimerspec(w.Timeout(), w.Want().Has(Persist))
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("adapter: timerfd_settime: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.alloc()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("adapter: epoll_ctl add timer: %w", err)
	}
	e.entries[h] = &entry{fd: fd, kind: Timer, watcher: w, owned: true}
	e.byFD[fd] = h
	return h, nil
}

// ModTimer reschedules an existing timer watcher.
func (e *epollAdapter) ModTimer(h Handle, w Watcher) error {
	e.mu.Lock()
	ent, ok := e.entries[h]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter: unknown timer handle")
	}
	spec := toItimerspec(w.Timeout(), w.Want().Has(Persist))
	if err := unix.TimerfdSettime(ent.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("adapter: timerfd_settime: %w", err)
	}
	return nil
}

// TimerDone cancels a timer watcher and releases its handle.
func (e *epollAdapter) TimerDone(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[h]
	if !ok {
		return nil
	}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, ent.fd, nil)
	unix.Close(ent.fd)
	delete(e.entries, h)
	delete(e.byFD, ent.fd)
	return nil
}

// ============================================================================
// Core Methods - Signal Watchers
// ============================================================================

// addSigset sets the bit for sig in a Linux kernel sigset_t (16 uint64
// words, bit (sig-1) within the flattened 1024-bit mask).
//
// Parameters:
//   - set: the sigset_t to mutate
//   - sig: the signal number to set
func addSigset(set *unix.Sigset_t, sig int) {
	idx := (sig - 1) / 64
	bit := uint((sig - 1) % 64)
	set.Val[idx] |= 1 << bit
}

// AddSignal schedules delivery of w.Signum() through a fresh signalfd,
// blocking the signal first so it is delivered through the fd instead
// of the default disposition.
//
// Returns:
//   - Handle, error: see Adapter.AddSignal
func (e *epollAdapter) AddSignal(w Watcher) (Handle, error) {
	var set unix.Sigset_t
	addSigset(&set, w.Signum())

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return 0, fmt.Errorf("adapter: pthread_sigmask: %w", err)
	}
	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return 0, fmt.Errorf("adapter: signalfd: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.alloc()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("adapter: epoll_ctl add signal: %w", err)
	}
	e.entries[h] = &entry{fd: fd, kind: Signal, watcher: w, owned: true}
	e.byFD[fd] = h
	return h, nil
}

// ModSignal has nothing to rearm: a signal watcher's signalfd stays
// registered for the same signal number for its whole life.
func (e *epollAdapter) ModSignal(h Handle, w Watcher) error { return nil }

// SignalDone unregisters a signal watcher and releases its handle.
func (e *epollAdapter) SignalDone(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[h]
	if !ok {
		return nil
	}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, ent.fd, nil)
	unix.Close(ent.fd)
	delete(e.entries, h)
	delete(e.byFD, ent.fd)
	return nil
}

// ============================================================================
// Core Methods - Loop and Teardown
// ============================================================================

// loopTimeout bounds how long Loop blocks so the event thread
// periodically re-checks the shutdown flag even with no registered
// watchers.
const loopTimeout = 250 * time.Millisecond

// Loop runs exactly one cycle of epoll_wait and dispatches Fire on each
// ready watcher's owner.
//
// Returns:
//   - LoopStatus, error: Normal if at least one watcher fired, NoEvents
//     on timeout or EINTR, LoopError wrapping any other epoll_wait
//     failure
//
// Concurrency: MUST be called only from the event thread.
func (e *epollAdapter) Loop() (LoopStatus, error) {
	n, err := unix.EpollWait(e.epfd, e.events, int(loopTimeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return NoEvents, nil
		}
		return LoopError, fmt.Errorf("adapter: epoll_wait: %w", err)
	}
	if n == 0 {
		return NoEvents, nil
	}

	for i := 0; i < n; i++ {
		ev := e.events[i]
		e.mu.Lock()
		h, ok := e.byFD[int(ev.Fd)]
		var ent *entry
		if ok {
			ent = e.entries[h]
		}
		e.mu.Unlock()
		if ent == nil {
			continue
		}

		switch ent.kind {
		case Timer:
			var buf [8]byte
			_, _ = unix.Read(ent.fd, buf[:])
			ent.watcher.Fire(Timer)
		case Signal:
			buf := make([]byte, 128) // sizeof(struct signalfd_siginfo)
			_, _ = unix.Read(ent.fd, buf)
			ent.watcher.Fire(Signal)
		default:
			var out Bits
			if ev.Events&unix.EPOLLIN != 0 {
				out |= ent.kind & (Read | Accept)
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				out |= ent.kind & (Write | Connect)
			}
			if out != 0 {
				ent.watcher.Fire(out)
			}
		}
	}
	return Normal, nil
}

// Destroy releases every owned fd and closes the epoll instance itself.
//
// Returns:
//   - error: any error from closing the epoll fd
func (e *epollAdapter) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, ent := range e.entries {
		if ent.owned {
			unix.Close(ent.fd)
		}
		delete(e.entries, h)
	}
	e.byFD = make(map[int]Handle)
	return unix.Close(e.epfd)
}
