// ============================================================================
// nunc-stans Pool - Thread-Pool Facade, Event Thread, Worker Pool
// ============================================================================
//
// Package: pkg/nunc
// File: pool.go
// Purpose: Tie the event thread (component C), the worker pool
//   (component D), and the queues (component E) to one adapter instance
//   (component A) behind the thread-pool facade (component F).
//
// Architecture Design:
//   ┌──────────────┐   AddIOJob/AddTimeoutJob/...   ┌─────────────┐
//   │ Caller thread │ ─────────────────────────────> │  Job (new)  │
//   └──────────────┘                                 └──────┬──────┘
//                                                            │ requestArm
//                                                            v
//   ┌─────────────────────────┐   eventCh   ┌──────────────────────────┐
//   │ event thread (eventLoop)│ <────────── │ any non-event-thread call│
//   │  drainEventQueue()      │             └──────────────────────────┘
//   │  adapter.Loop() (1x)    │
//   └───────────┬─────────────┘
//               │ Fire() -> submitWork (THREAD) or runInline
//               v
//   ┌─────────────────────────┐   workCh    ┌──────────────────────────┐
//   │     workCh (buffered)   │ ──────────> │ worker goroutines (N)    │
//   └─────────────────────────┘             └──────────────────────────┘
//
// Lifecycle:
//   1. NewPool(cfg) - build adapter, self-pipe, start N workers + 1 event
//      thread goroutine
//   2. Add*Job(...) - submit and arm a job
//   3. Shutdown() - flip the shutdown flag, hand each worker a sentinel
//   4. Wait() - join every worker goroutine
//   5. Destroy() - stop the event thread, release the adapter and pipe
//
// Concurrency:
//   - mu guards shutdownStarted only; the two shutdown signals
//     (shutdownCh, eventStopCh) are plain closed channels, the Go
//     equivalent of spec.md §5's atomic shutdown flags.
//   - Adapter registration (armNow/teardown) runs only on the event
//     thread goroutine; every other goroutine reaches it only by
//     enqueueing onto eventCh and waking the event thread via the
//     self-pipe (queue.go).
//   - workCh is a buffered channel standing in for the lock-free MPMC
//     work queue of spec.md §4.E; a full channel falls back to a
//     detached goroutine doing the blocking send so the event thread
//     itself never blocks.
//
// Grounded on the lifecycle of internal/controller/controller.go
// (Start/Stop/Wait over a worker pool) and
// internal/worker/worker_pool.go's channel-backed dispatch loop.
//
// Responsibilities:
//   1. Validate and construct Config (the init_flag sentinel check)
//   2. Own the adapter, the self-pipe, and the two queues
//   3. Run the event thread (component C) and worker pool (component D)
//   4. Drive arming/teardown (the only code that touches the adapter)
//   5. Provide the ordered Shutdown/Wait/Destroy facade (component F)
//
// ============================================================================

package nunc

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ChuLiYu/nunc-stans/internal/adapter"
	"github.com/ChuLiYu/nunc-stans/internal/metrics"
)

// ============================================================================
// Data Structure Definitions
// ============================================================================

// configMagic is the init_flag sentinel of spec.md §6: a Config is only
// accepted by NewPool if it was produced by DefaultConfig, the same way
// the original rejects any pool_config whose init_flag isn't the fixed
// magic value set by the library's own initializer.
const configMagic = 0xdefa014

// Config is pool_config generalized to Go: MaxThreads and StackSize are
// the original's worker-count and per-thread stack size (StackSize is
// recorded but otherwise unused - goroutines grow their stacks on
// demand and Go gives no portable way to pre-size one, so this field
// exists purely for API fidelity with callers porting tuning knobs over).
// Logger/LogFn/Metrics are the ambient-stack hooks described in
// SPEC_FULL.md §9/§10.
type Config struct {
	MaxThreads int // worker goroutine count
	StackSize  int // recorded for API fidelity only; see above

	Logger  *slog.Logger       // default slog sink; ignored if LogFn is set
	LogFn   LogFunc            // pluggable logger hook (spec.md §6 log_fn)
	Metrics *metrics.Collector // Prometheus collector; defaults to a fresh one

	initMagic uint32 // must equal configMagic; set only by DefaultConfig
}

// DefaultConfig returns a Config with the library's sentinel set, a
// worker count of 4, and metrics enabled by default. Callers fill in the
// remaining fields and pass the result to NewPool; a Config built any
// other way is rejected with ErrInvalidRequest, mirroring the original's
// init_flag check.
//
// Returns:
//   - Config: a ready-to-customize Config carrying the init_flag sentinel
func DefaultConfig() Config {
	return Config{
		MaxThreads: 4,
		Metrics:    metrics.New(),
		initMagic:  configMagic,
	}
}

// shutdownSentinel is the internal SHUTDOWN_WORKER job: workers compare by
// identity and exit instead of invoking a callback (spec.md §4.D).
var shutdownSentinel = &Job{trigger: ShutdownWorker}

// Pool is the thread-pool facade, component F, tying the event thread
// (component C), the worker pool (component D), and the queues (component
// E) to one adapter instance (component A).
type Pool struct {
	cfg     Config
	adapter adapter.Adapter    // component A
	logf    LogFunc            // pluggable logger hook, defaulted in NewPool
	metrics *metrics.Collector // domain-stack Prometheus collector

	eventCh chan *Job // component E: event queue (MPSC)
	workCh  chan *Job // component E: work queue (MPMC)

	pipeR, pipeW int            // self-pipe read/write fds
	pipeHandle   adapter.Handle // adapter token for the self-pipe's IO watcher

	mu              sync.Mutex    // guards shutdownStarted only
	shutdownStarted bool          // true once Shutdown has run once
	shutdownCh      chan struct{} // closed by Shutdown; "pool is shutting down"
	eventStopCh     chan struct{} // closed by Destroy; tells eventLoop to return

	workerWG sync.WaitGroup // joined by Wait
	eventWG  sync.WaitGroup // joined by Destroy
	workerN  int            // configured worker count
}

// ============================================================================
// Core Methods - Construction
// ============================================================================

// NewPool constructs a pool: an adapter, a self-pipe registered with it,
// MaxThreads worker goroutines, and one event-thread goroutine, all
// running before NewPool returns.
//
// Parameters:
//   - cfg: a Config built by DefaultConfig and customized by the caller
//
// Returns:
//   - *Pool: a running pool ready to accept Add*Job calls
//   - error: ErrInvalidRequest if cfg was not built by DefaultConfig;
//     otherwise any adapter/self-pipe construction error
func NewPool(cfg Config) (*Pool, error) {
	if cfg.initMagic != configMagic {
		return nil, ErrInvalidRequest
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = 4
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	a, err := adapter.New()
	if err != nil {
		return nil, err
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = a.Destroy()
		return nil, err
	}

	p := &Pool{
		cfg:         cfg,
		adapter:     a,
		metrics:     cfg.Metrics,
		eventCh:     make(chan *Job, eventQueueCapacity),
		workCh:      make(chan *Job, eventQueueCapacity),
		pipeR:       fds[0],
		pipeW:       fds[1],
		workerN:     cfg.MaxThreads,
		shutdownCh:  make(chan struct{}),
		eventStopCh: make(chan struct{}),
	}
	p.logf = cfg.LogFn
	if p.logf == nil {
		p.logf = defaultLogFunc(cfg.Logger)
	}

	pw := &selfPipeWatcher{fd: p.pipeR, pool: p}
	h, err := a.AddIO(pw)
	if err != nil {
		_ = a.Destroy()
		return nil, err
	}
	p.pipeHandle = h

	for i := 0; i < p.workerN; i++ {
		p.workerWG.Add(1)
		go p.workerLoop()
	}
	p.eventWG.Add(1)
	go p.eventLoop()

	return p, nil
}

// shuttingDown reports whether Shutdown has been called.
//
// Returns:
//   - bool: true once shutdownCh is closed
func (p *Pool) shuttingDown() bool {
	select {
	case <-p.shutdownCh:
		return true
	default:
		return false
	}
}

// ============================================================================
// Core Methods - Job Creation
// ============================================================================

// newJob validates a trigger/timeout combination and allocates a Job in
// the WAITING state. Shared by every Add*Job/JobCreate entry point.
//
// Parameters:
//   - trigger: requested trigger bits
//   - fd: watched fd, or -1 if none
//   - timeout: TIMER relative timeout
//   - signum: SIGNAL signal number
//   - cb, doneCB: event and done callbacks
//   - data: opaque caller data
//
// Returns:
//   - *Job: a newly allocated, WAITING job
//   - error: ErrShutdown if the pool is shutting down; ErrInvalidRequest
//     if the trigger combination is illegal
func (p *Pool) newJob(trigger Trigger, fd int, timeout time.Duration, signum int, cb, doneCB Callback, data any) (*Job, error) {
	if p.shuttingDown() {
		return nil, ErrShutdown
	}
	var timeoutPtr *int64
	if trigger.Has(TimerBit) {
		t := int64(timeout)
		timeoutPtr = &t
	}
	if err := validTrigger(trigger, timeoutPtr); err != nil {
		return nil, err
	}
	return &Job{
		pool:    p,
		cb:      cb,
		doneCB:  doneCB,
		data:    data,
		trigger: trigger,
		state:   Waiting,
		fd:      fd,
		hasFD:   trigger.Any(Read | Write | Accept | Connect),
		timeout: timeout,
		signum:  signum,
	}, nil
}

// JobCreate builds a job without arming it (spec.md §4.B "create"); the
// caller arms it later with Rearm.
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) JobCreate(trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	return p.newJob(trigger, -1, 0, 0, cb, doneCB, data)
}

// AddJob creates and immediately arms a job with no event-kind trigger
// (an immediate or THREAD-only dispatch).
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) AddJob(trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	j, err := p.newJob(trigger, -1, 0, 0, cb, doneCB, data)
	if err != nil {
		return nil, err
	}
	return j, p.armNewJob(j)
}

// AddIOJob creates and arms a job watching fd for readiness.
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) AddIOJob(fd int, trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	j, err := p.newJob(trigger, fd, 0, 0, cb, doneCB, data)
	if err != nil {
		return nil, err
	}
	return j, p.armNewJob(j)
}

// AddTimeoutJob creates and arms a pure timer job.
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) AddTimeoutJob(timeout time.Duration, trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	j, err := p.newJob(trigger, -1, timeout, 0, cb, doneCB, data)
	if err != nil {
		return nil, err
	}
	return j, p.armNewJob(j)
}

// AddIOTimeoutJob creates and arms a job combining an fd watch and a
// timeout racing against it, per spec.md §3's IO+TIMER invariant: at
// most one of the two sides delivers a completion per cycle, and
// Job.Fire (job.go) cancels whichever side does not fire before the
// callback ever runs.
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) AddIOTimeoutJob(fd int, timeout time.Duration, trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	j, err := p.newJob(trigger, fd, timeout, 0, cb, doneCB, data)
	if err != nil {
		return nil, err
	}
	return j, p.armNewJob(j)
}

// AddSignalJob creates and arms a job watching for delivery of signum.
//
// Returns:
//   - *Job, error: see newJob
func (p *Pool) AddSignalJob(signum int, trigger Trigger, cb, doneCB Callback, data any) (*Job, error) {
	j, err := p.newJob(trigger, -1, 0, signum, cb, doneCB, data)
	if err != nil {
		return nil, err
	}
	return j, p.armNewJob(j)
}

// armNewJob arms a freshly created job: immediate/THREAD-only jobs
// dispatch straight to a worker, everything else moves to NEEDS_ARM and
// is handed to the event thread.
//
// Returns:
//   - error: always nil; reserved for API symmetry with the other
//     construction helpers
func (p *Pool) armNewJob(j *Job) error {
	j.mu.Lock()
	trig := j.trigger
	j.mu.Unlock()

	if !isEventKind(trig) {
		j.dispatchImmediate()
		return nil
	}
	j.mu.Lock()
	j.state = NeedsArm
	j.mu.Unlock()
	p.requestArm(j)
	return nil
}

// ============================================================================
// Core Methods - Arming and Teardown
// ============================================================================

// arm is the post-execution rearm path from runCallbackAndFinalize: if
// already on the event thread it registers synchronously (the
// optimization spec.md §4.B calls out), otherwise it must round-trip
// through the event queue since adapter calls are not safe from just any
// goroutine relative to the event thread's own use of the adapter's
// internal bookkeeping.
//
// Parameters:
//   - j: the job to (re)arm
//   - onEventThread: true if the caller is already the event thread
func (p *Pool) arm(j *Job, onEventThread bool) {
	j.mu.Lock()
	trig := j.trigger
	j.mu.Unlock()

	// A job with no event-kind trigger (a pure immediate or THREAD
	// dispatch) has nothing for the adapter to watch; re-entering
	// NEEDS_ARM/ARMED for one would strand it forever, so it redispatches
	// the same way armNewJob does for the initial arm.
	if !isEventKind(trig) {
		j.dispatchImmediate()
		return
	}
	if onEventThread {
		p.armNow(j)
		return
	}
	p.requestArm(j)
}

// armNow performs the actual adapter registration. Called only from the
// event-thread goroutine (either directly, or via drainEventQueue).
//
// Concurrency: MUST run only on the event thread; it is the sole writer
// of a job's adapter handles.
func (p *Pool) armNow(j *Job) {
	j.mu.Lock()
	trig := j.trigger
	hasIO := j.hasIO
	hasTimer := j.hasTimer
	hasSig := j.hasSig

	var err error
	if trig.Any(Read | Write | Accept | Connect) {
		if hasIO {
			err = p.adapter.ModIO(j.ioHandle, j)
		} else if h, e := p.adapter.AddIO(j); e != nil {
			err = e
		} else {
			j.ioHandle = h
			j.hasIO = true
		}
	}
	if trig.Has(TimerBit) && err == nil {
		if hasTimer {
			err = p.adapter.ModTimer(j.timerHandle, j)
		} else if h, e := p.adapter.AddTimer(j); e != nil {
			err = e
		} else {
			j.timerHandle = h
			j.hasTimer = true
		}
	}
	if trig.Has(SignalBit) && !hasSig && err == nil {
		if h, e := p.adapter.AddSignal(j); e != nil {
			err = e
		} else {
			j.sigHandle = h
			j.hasSig = true
		}
	}

	if err != nil {
		j.mu.Unlock()
		p.logf(LogErr, "nunc: adapter registration failed: %v", err)
		p.metrics.IncAdapterErrors()
		return
	}
	j.state = Armed
	j.mu.Unlock()
	p.metrics.IncArmed()
}

// teardown releases every adapter handle a job holds, closes its fd
// unless PRESERVE_FD was requested, and runs the done-callback - the
// teardown algorithm of spec.md §4.B, run only from the event thread.
//
// Concurrency: MUST run only on the event thread.
func (p *Pool) teardown(j *Job) {
	j.mu.Lock()
	if j.hasIO {
		_ = p.adapter.IODone(j.ioHandle)
		j.hasIO = false
	}
	if j.hasTimer {
		_ = p.adapter.TimerDone(j.timerHandle)
		j.hasTimer = false
	}
	if j.hasSig {
		_ = p.adapter.SignalDone(j.sigHandle)
		j.hasSig = false
	}
	if j.hasFD && !j.trigger.Has(PreserveFD) && j.fd >= 0 {
		_ = unix.Close(j.fd)
	}
	j.state = Deleted
	doneCB := j.doneCB
	j.mu.Unlock()

	if doneCB != nil {
		doneCB(j)
	}
	p.metrics.IncDeleted()
}

// ============================================================================
// Core Methods - Dispatch
// ============================================================================

// runInline executes a non-THREAD job's callback directly on the event
// thread (spec.md §4.C: the event thread runs everything except THREAD
// jobs' callbacks).
func (p *Pool) runInline(j *Job) {
	j.runCallbackAndFinalize(true)
}

// submitWork hands a THREAD job to a worker. The event thread must never
// block, so a full work queue falls back to a detached goroutine doing
// the blocking send rather than stalling the adapter loop.
//
// Parameters:
//   - j: the job to hand to a worker
func (p *Pool) submitWork(j *Job) {
	select {
	case p.workCh <- j:
	default:
		go func() { p.workCh <- j }()
	}
}

// recordFired increments the jobs-fired counter.
func (p *Pool) recordFired() { p.metrics.IncFired() }

// ============================================================================
// Core Methods - Event Thread and Worker Pool
// ============================================================================

// eventLoop is the event thread's body (component C): drain the event
// queue, run one adapter cycle, repeat until told to stop. It is the
// only goroutine that ever touches the adapter.
//
// Concurrency: exactly one goroutine runs eventLoop for the life of the
// pool; it blocks only inside adapter.Loop.
func (p *Pool) eventLoop() {
	defer p.eventWG.Done()
	for {
		p.drainEventQueue()
		p.metrics.SetEventQueueDepth(len(p.eventCh))
		p.metrics.SetWorkQueueDepth(len(p.workCh))
		start := time.Now()
		status, err := p.adapter.Loop()
		p.metrics.ObserveAdapterLoopDuration(time.Since(start))
		if err != nil {
			p.logf(LogErr, "nunc: adapter loop: %v", err)
			p.metrics.IncAdapterErrors()
		}
		_ = status
		select {
		case <-p.eventStopCh:
			return
		default:
		}
	}
}

// workerLoop is one worker goroutine's body (component D): dequeue a job,
// execute its callback to completion, repeat until handed the shutdown
// sentinel.
//
// Concurrency: p.workerN goroutines run workerLoop concurrently; each
// callback they execute is never run concurrently with itself.
func (p *Pool) workerLoop() {
	defer p.workerWG.Done()
	for j := range p.workCh {
		if j == shutdownSentinel {
			return
		}
		j.runCallbackAndFinalize(false)
	}
}

// ============================================================================
// Core Methods - Lifecycle
// ============================================================================

// Shutdown stops accepting new callback dispatch: each worker goroutine
// is handed a SHUTDOWN_WORKER sentinel and exits after consuming it.
// Idempotent.
//
// Concurrency: MUST be called from a goroutine other than the event
// thread, or Destroy can deadlock waiting on eventWG.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdownStarted {
		p.mu.Unlock()
		return
	}
	p.shutdownStarted = true
	p.mu.Unlock()

	close(p.shutdownCh)
	for i := 0; i < p.workerN; i++ {
		p.workCh <- shutdownSentinel
	}
}

// Wait blocks until every worker goroutine has exited following
// Shutdown.
//
// Returns:
//   - error: always nil; reserved for ErrThreadFailure per spec.md §7,
//     since Go's WaitGroup has no partial-join failure mode to surface
func (p *Pool) Wait() error {
	p.workerWG.Wait()
	return nil
}

// Destroy stops the event thread and releases the adapter and self-pipe.
// Call after Wait. The self-pipe's adapter registration is torn down
// before the adapter itself is destroyed (Open Question 3 in DESIGN.md).
//
// Returns:
//   - error: any error from the adapter's own Destroy
func (p *Pool) Destroy() error {
	close(p.eventStopCh)
	p.wake()
	p.eventWG.Wait()

	_ = p.adapter.IODone(p.pipeHandle)
	_ = unix.Close(p.pipeR)
	_ = unix.Close(p.pipeW)
	return p.adapter.Destroy()
}
