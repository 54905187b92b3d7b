// Package sched implements the kernel's execution engine: per-hart
// cooperative executors polling run queues of ready continuations, work
// stealing between harts, and the wait, futex and timer primitives that
// suspended continuations park on.
package sched

import "sync/atomic"

// ContinuationState tracks where a continuation is in its lifecycle. A
// continuation is in at most one of: running on a hart, ready on some run
// queue, parked on exactly one wait queue, or terminated.
type ContinuationState int32

const (
	// StateReady means the continuation sits on a run queue.
	StateReady ContinuationState = iota

	// StateRunning means a hart is polling the continuation right now.
	StateRunning

	// StateParked means the continuation waits on a WaitQueue.
	StateParked

	// StateTerminated means the continuation finished and will never be
	// polled again.
	StateTerminated
)

// Continuation is a resumable unit of kernel work bound to one task. The
// kernel keeps no per-task stack: everything a suspended task needs to
// continue lives in the owning task's continuation-state record, and resume
// re-enters the task's state machine from there.
type Continuation struct {
	// OwnerID identifies the owning task for diagnostics and cancel
	// bookkeeping.
	OwnerID uint64

	// resume re-enters the task state machine. It runs until the next
	// suspension point and returns true when the continuation
	// terminated.
	resume func() bool

	state int32

	// preemptPending is set by the timer tick and observed at safe
	// points.
	preemptPending uint32

	// nonStealable pins the continuation to its hart while it holds a
	// hart-local resource.
	nonStealable uint32

	// lastHart records where the continuation last ran; wakes prefer it
	// for locality.
	lastHart uint32

	// parkedOn points at the wait queue currently holding the
	// continuation, nil otherwise.
	parkedOn *WaitQueue

	// cancelled is latched by cancellation and observed on resumption.
	cancelled uint32

	// next links the continuation inside run and wait queues.
	next *Continuation
}

// NewContinuation binds a resumable state machine to an owner. The resume
// function runs until the next suspension point and reports completion.
func NewContinuation(ownerID uint64, resume func() bool) *Continuation {
	return &Continuation{OwnerID: ownerID, resume: resume}
}

// State returns the continuation's lifecycle state.
func (c *Continuation) State() ContinuationState {
	return ContinuationState(atomic.LoadInt32(&c.state))
}

func (c *Continuation) setState(s ContinuationState) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Continuation) casState(from, to ContinuationState) bool {
	return atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to))
}

// SetPreemptPending marks the continuation for preemption at its next safe
// point.
func (c *Continuation) SetPreemptPending() {
	atomic.StoreUint32(&c.preemptPending, 1)
}

// TakePreemptPending fetches and clears the preemption flag.
func (c *Continuation) TakePreemptPending() bool {
	return atomic.SwapUint32(&c.preemptPending, 0) != 0
}

// PinToHart marks the continuation non-stealable while it holds a
// hart-local resource.
func (c *Continuation) PinToHart() {
	atomic.StoreUint32(&c.nonStealable, 1)
}

// UnpinFromHart clears the non-stealable mark.
func (c *Continuation) UnpinFromHart() {
	atomic.StoreUint32(&c.nonStealable, 0)
}

// Stealable reports whether another hart may take the continuation.
func (c *Continuation) Stealable() bool {
	return atomic.LoadUint32(&c.nonStealable) == 0
}

// Cancelled reports whether a cancellation reached the continuation; the
// resuming syscall translates it to EINTR or a restart.
func (c *Continuation) Cancelled() bool {
	return atomic.LoadUint32(&c.cancelled) != 0
}

// ClearCancelled resets the cancellation latch after the syscall consumed
// it.
func (c *Continuation) ClearCancelled() {
	atomic.StoreUint32(&c.cancelled, 0)
}

// LastHart returns the hart the continuation last ran on.
func (c *Continuation) LastHart() uint32 {
	return atomic.LoadUint32(&c.lastHart)
}
