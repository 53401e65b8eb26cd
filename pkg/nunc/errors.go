// ============================================================================
// nunc-stans Errors - Result Code Sentinels
// ============================================================================
//
// Package: pkg/nunc
// File: errors.go
// Purpose: Define the sentinel errors returned across the Job API, per
//   spec.md §6 (result codes) and §7 (error handling design).
//
// Propagation Policy:
//   Errors on submission (AddJob/AddIOJob/...) are returned to the caller
//   synchronously, with no side effect. Errors during dispatch (adapter
//   registration failures) are logged instead, since there is no caller
//   left on the other end of a callback to receive them - see logging.go.
//
// ============================================================================

package nunc

import "errors"

// ============================================================================
// Error Definitions
// ============================================================================

// Result-code sentinels, per spec.md §6/§7. Submission-time errors are
// returned synchronously and have no side effect; dispatch-time errors
// are logged (see logging.go) rather than returned, since nothing is on
// the other end of a callback to receive them.
var (
	// ErrInvalidRequest covers illegal trigger combinations and other
	// malformed requests caught before any job is allocated.
	ErrInvalidRequest = errors.New("nunc: invalid request")
	// ErrInvalidState covers a request that cannot be honored given the
	// job's current lifecycle state (spec.md §3's state machine).
	ErrInvalidState = errors.New("nunc: invalid state")
	// ErrAllocationFailure names the allocation-failure result code. Go's
	// allocator does not surface out-of-memory as an error the way the C
	// original's does, and adapter registration failures happen on the
	// event thread, where they are logged rather than returned, so no
	// function in this package returns this sentinel.
	ErrAllocationFailure = errors.New("nunc: allocation failure")
	// ErrShutdown is returned for any new submission once the pool is
	// shutting down.
	ErrShutdown = errors.New("nunc: pool is shutting down")
	// ErrThreadFailure names the worker-join-failure result code. Wait
	// joins workers through a sync.WaitGroup, which has no failure mode,
	// so Wait always returns nil and never this sentinel.
	ErrThreadFailure = errors.New("nunc: worker thread failed to join")
)
