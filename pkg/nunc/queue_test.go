package nunc

// ============================================================================
// Event Queue / Self-Pipe Tests
// Purpose: Verify the event queue drains live state rather than a cached
// snapshot, and that duplicate or stale enqueues are harmless (component E).
// ============================================================================

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessEventQueueItem_ReadsLiveState(t *testing.T) {
	p := newTestPool(t)

	// A job enqueued for arming but already marked NEEDS_DELETE by the time
	// the event thread gets to it must be torn down, not armed.
	j, err := p.JobCreate(Thread, nil, nil, nil)
	require.NoError(t, err)

	j.mu.Lock()
	j.state = NeedsArm
	j.mu.Unlock()
	deletedCh := make(chan struct{})
	j.doneCB = func(*Job) { close(deletedCh) }

	j.mu.Lock()
	j.state = NeedsDelete
	j.mu.Unlock()

	p.processEventQueueItem(j)

	select {
	case <-deletedCh:
	case <-time.After(eventuallyTimeout):
		t.Fatal("job was armed instead of torn down")
	}
	assert.Equal(t, Deleted, j.CurrentState())
}

func TestProcessEventQueueItem_IgnoresStaleEntry(t *testing.T) {
	p := newTestPool(t)
	j, err := p.JobCreate(Thread, nil, nil, nil)
	require.NoError(t, err)

	// Already WAITING by the time the (duplicate) queue entry is processed:
	// neither arm nor teardown should run.
	p.processEventQueueItem(j)
	assert.Equal(t, Waiting, j.CurrentState())
}

func TestDrainEventQueue_ProcessesEverythingPending(t *testing.T) {
	p := newTestPool(t)

	const n = 8
	done := make(chan struct{}, n)
	jobs := make([]*Job, n)
	for i := range jobs {
		j, err := p.JobCreate(Thread, nil, nil, nil)
		require.NoError(t, err)
		j.doneCB = func(*Job) { done <- struct{}{} }
		j.mu.Lock()
		j.state = NeedsDelete
		j.mu.Unlock()
		jobs[i] = j
		p.eventCh <- j
	}

	p.drainEventQueue()

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(eventuallyTimeout):
			t.Fatalf("only %d/%d jobs torn down", i, n)
		}
	}
}

func TestWake_IsNonBlockingWhenPipeFull(t *testing.T) {
	p := newTestPool(t)
	// wake() must never block even if called far more often than the event
	// thread can drain; EAGAIN on an already-pending wakeup is expected.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			p.wake()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(eventuallyTimeout):
		t.Fatal("wake() blocked")
	}
}
