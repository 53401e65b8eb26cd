package nunc

// ============================================================================
// Pool Lifecycle Tests
// Purpose: Verify NewPool's init_flag check, job submission surface, arming,
// and graceful shutdown/wait/destroy ordering against a real epoll adapter.
// ============================================================================

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_RejectsConfigWithoutInitMagic(t *testing.T) {
	_, err := NewPool(Config{MaxThreads: 2})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewPool_DefaultsAppliedOnZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreads = 0
	cfg.Metrics = nil

	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer func() {
		p.Shutdown()
		_ = p.Wait()
		_ = p.Destroy()
	}()

	assert.Equal(t, 4, p.workerN)
	assert.NotNil(t, p.metrics)
}

func TestAddJob_ImmediateDispatch_RunsOnce(t *testing.T) {
	p := newTestPool(t)
	done := make(chan struct{})
	_, err := p.AddJob(Thread, func(j *Job) { close(done) }, nil, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(eventuallyTimeout):
		t.Fatal("immediate job never ran")
	}
}

func TestAddIOJob_FiresOnReadability(t *testing.T) {
	p := newTestPool(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	r, w := fds[0], fds[1]

	fired := make(chan Trigger, 1)
	_, err := p.AddIOJob(r, Read|Thread, func(j *Job) {
		fired <- j.OutputType()
	}, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, werr := unix.Write(w, []byte{1})
		return werr == nil
	}, eventuallyTimeout, eventuallyTick)

	select {
	case out := <-fired:
		assert.True(t, out.Has(Read))
	case <-time.After(eventuallyTimeout):
		t.Fatal("io job never fired")
	}

	_ = unix.Close(w)
}

func TestAddTimeoutJob_FiresAfterWindow(t *testing.T) {
	p := newTestPool(t)
	start := time.Now()
	fired := make(chan time.Duration, 1)

	_, err := p.AddTimeoutJob(150*time.Millisecond, TimerBit|Thread, func(j *Job) {
		fired <- time.Since(start)
	}, nil, nil)
	require.NoError(t, err)

	select {
	case elapsed := <-fired:
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	case <-time.After(eventuallyTimeout):
		t.Fatal("timer job never fired")
	}
}

func TestAddTimeoutJob_RejectsNegativeDuration(t *testing.T) {
	p := newTestPool(t)
	_, err := p.AddTimeoutJob(-1, TimerBit, func(*Job) {}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAddIOJob_RejectsAcceptWithThread(t *testing.T) {
	p := newTestPool(t)
	_, err := p.AddIOJob(0, Accept|Thread, func(*Job) {}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAddJob_RejectsShutdownWorkerTrigger(t *testing.T) {
	p := newTestPool(t)
	_, err := p.AddJob(ShutdownWorker, func(*Job) {}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewJob_RejectedOnceShuttingDown(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPool(cfg)
	require.NoError(t, err)

	p.Shutdown()
	_, err = p.AddJob(Thread, func(*Job) {}, nil, nil)
	assert.ErrorIs(t, err, ErrShutdown)

	require.NoError(t, p.Wait())
	require.NoError(t, p.Destroy())
}

func TestShutdown_IsIdempotent(t *testing.T) {
	p := newTestPool(t)
	p.Shutdown()
	p.Shutdown()
	require.NoError(t, p.Wait())
}

func TestAddIOTimeoutJob_ExactlyOneSideFires(t *testing.T) {
	for trial := 0; trial < 5; trial++ {
		p := newTestPool(t)

		var fds [2]int
		require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
		r, w := fds[0], fds[1]

		type snapshot struct {
			out      Trigger
			hasIO    bool
			hasTimer bool
		}
		fired := make(chan snapshot, 1)

		cb := func(j *Job) {
			j.mu.Lock()
			snap := snapshot{out: j.output, hasIO: j.hasIO, hasTimer: j.hasTimer}
			j.mu.Unlock()
			fired <- snap
		}

		// Drive both sides toward readiness at once: the write end is
		// already pending before the job is even armed, and the timeout
		// is short enough to race it.
		_, werr := unix.Write(w, []byte{1})
		require.NoError(t, werr)

		_, err := p.AddIOTimeoutJob(r, 30*time.Millisecond, Read|TimerBit|Thread, cb, nil, nil)
		require.NoError(t, err)
		_ = unix.Close(w)

		select {
		case snap := <-fired:
			firedIO := snap.out.Has(Read)
			firedTimer := snap.out.Has(TimerBit)
			assert.True(t, firedIO != firedTimer, "expected exactly one of {Read, TimerBit} in output, got %v", snap.out)

			if firedTimer {
				assert.False(t, snap.hasIO, "IO watcher must be torn down when TIMER fires first")
			} else {
				assert.False(t, snap.hasTimer, "timer watcher must be torn down when IO fires first")
			}
		case <-time.After(eventuallyTimeout):
			t.Fatal("combined io+timer job never fired")
		}

		_ = unix.Close(r)
	}
}

func TestAddIOTimeoutJob_TimerWins_CancelsIOWatcher(t *testing.T) {
	p := newTestPool(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	r, w := fds[0], fds[1]
	defer func() {
		_ = unix.Close(r)
		_ = unix.Close(w)
	}()

	type snapshot struct {
		out      Trigger
		hasIO    bool
		hasTimer bool
	}
	fired := make(chan snapshot, 1)
	cb := func(j *Job) {
		j.mu.Lock()
		snap := snapshot{out: j.output, hasIO: j.hasIO, hasTimer: j.hasTimer}
		j.mu.Unlock()
		fired <- snap
	}

	// The pipe never becomes readable, so only the timer side can fire.
	_, err := p.AddIOTimeoutJob(r, 30*time.Millisecond, Read|TimerBit|Thread, cb, nil, nil)
	require.NoError(t, err)

	select {
	case snap := <-fired:
		assert.True(t, snap.out.Has(TimerBit))
		assert.False(t, snap.out.Has(Read))
		assert.False(t, snap.hasIO, "IO watcher must be cancelled once TIMER fires")
	case <-time.After(eventuallyTimeout):
		t.Fatal("timer side of combined io+timer job never fired")
	}
}

func TestPersistentTimerJob_FiresMultipleTimes(t *testing.T) {
	p := newTestPool(t)

	var count atomic.Int64
	_, err := p.AddTimeoutJob(40*time.Millisecond, TimerBit|Persist|Thread, func(j *Job) {
		count.Add(1)
	}, nil, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return count.Load() >= 3
	}, eventuallyTimeout, eventuallyTick)
}
