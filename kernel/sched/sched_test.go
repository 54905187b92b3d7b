package sched

import (
	"testing"

	"helios/kernel/errno"
)

func resetSched() {
	for i := range runQueues {
		runQueues[i] = RunQueue{}
	}
	for i := range futexTable {
		futexTable[i] = futexSlot{}
	}
	wheel = timerWheel{}
	hartCount = 1
	hartIDFn = func() uint32 { return 0 }
	sendIPIFn = func(uintptr) {}
}

func TestRunQueueFIFO(t *testing.T) {
	resetSched()

	var q RunQueue
	c1 := NewContinuation(1, func() bool { return true })
	c2 := NewContinuation(2, func() bool { return true })
	c3 := NewContinuation(3, func() bool { return true })

	q.Enqueue(c1)
	q.Enqueue(c2)
	q.Enqueue(c3)

	for i, exp := range []*Continuation{c1, c2, c3} {
		if got := q.Dequeue(uint64(i)); got != exp {
			t.Fatalf("[dequeue %d] expected owner %d; got %d", i, exp.OwnerID, got.OwnerID)
		}
	}

	if q.Dequeue(4) != nil {
		t.Fatal("expected empty queue to return nil")
	}
}

func TestStealBatchRespectsPinningAndHalf(t *testing.T) {
	resetSched()

	var q RunQueue
	pinned := NewContinuation(1, func() bool { return true })
	pinned.PinToHart()

	var others []*Continuation
	q.Enqueue(pinned)
	for id := uint64(2); id <= 6; id++ {
		c := NewContinuation(id, func() bool { return true })
		others = append(others, c)
		q.Enqueue(c)
	}

	batch := q.StealBatch()

	var stolen []*Continuation
	for c := batch; c != nil; c = c.next {
		stolen = append(stolen, c)
	}

	// 6 queued, steal window is half: 3, and the pinned one must stay.
	if exp, got := 3, len(stolen); exp != got {
		t.Fatalf("expected %d stolen continuations; got %d", exp, got)
	}
	for _, c := range stolen {
		if c == pinned {
			t.Fatal("expected the pinned continuation to stay on its hart")
		}
	}
	for _, exp := range others[:3] {
		found := false
		for _, c := range stolen {
			if c == exp {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected owner %d in the stolen batch", exp.OwnerID)
		}
	}

	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3 continuations left on the victim; got %d", got)
	}
}

func TestRunOneNeverPollsTerminated(t *testing.T) {
	resetSched()

	polls := 0
	c := NewContinuation(1, func() bool {
		polls++
		return true
	})

	c.setState(StateReady)
	runOne(0, c)
	if exp, got := StateTerminated, c.State(); exp != got {
		t.Fatalf("expected state %d after completion; got %d", exp, got)
	}

	// A stale queue reference must not poll it again.
	runOne(0, c)
	if polls != 1 {
		t.Fatalf("expected exactly one poll; got %d", polls)
	}
}

func TestRunOneYieldRequeues(t *testing.T) {
	resetSched()

	c := NewContinuation(1, func() bool { return false })
	c.setState(StateReady)
	runOne(0, c)

	if exp, got := StateReady, c.State(); exp != got {
		t.Fatalf("expected yielded continuation to be ready; got state %d", got)
	}
	if got := runQueues[0].Len(); got != 1 {
		t.Fatalf("expected yielded continuation back on the queue; length %d", got)
	}
}

func TestWaitQueueWakeHappensBeforeResumption(t *testing.T) {
	resetSched()

	var w WaitQueue
	c := NewContinuation(1, func() bool { return false })
	c.setState(StateRunning)

	w.Prepare()
	w.Park(c)

	if exp, got := StateParked, c.State(); exp != got {
		t.Fatalf("expected parked state; got %d", got)
	}

	if woken := w.Wake(1); woken != 1 {
		t.Fatalf("expected to wake 1 continuation; woke %d", woken)
	}
	if exp, got := StateReady, c.State(); exp != got {
		t.Fatalf("expected woken continuation to be ready; got %d", got)
	}
	if got := runQueues[0].Len(); got != 1 {
		t.Fatalf("expected woken continuation on a run queue; length %d", got)
	}

	// Waking again is a no-op.
	if woken := w.Wake(1); woken != 0 {
		t.Fatalf("expected empty queue wake to be a no-op; woke %d", woken)
	}
}

func TestWaitQueueCancelLatchesCancellation(t *testing.T) {
	resetSched()

	var w WaitQueue
	c := NewContinuation(1, func() bool { return false })
	c.setState(StateRunning)

	w.Prepare()
	w.Park(c)

	if !w.Cancel(c) {
		t.Fatal("expected cancel of a parked continuation to win")
	}
	if !c.Cancelled() {
		t.Fatal("expected cancellation latch to be set")
	}

	// The loser of a wake/cancel race is a no-op.
	if w.Cancel(c) {
		t.Fatal("expected second cancel to lose")
	}
}

func TestFutexWaitValueMismatch(t *testing.T) {
	resetSched()

	key := FutexKey{Space: 1, Offset: 0x1000}
	c := NewContinuation(1, func() bool { return false })

	got := FutexWait(key, 0, func() (uint32, bool) { return 1, true }, c)
	if got != errno.EAGAIN {
		t.Fatalf("expected EAGAIN on value mismatch; got %d", got)
	}
	if c.State() == StateParked {
		t.Fatal("expected the continuation not to park on a value mismatch")
	}
}

func TestFutexWakeExactlyOnce(t *testing.T) {
	resetSched()

	key := FutexKey{Space: 1, Offset: 0x1000}
	load := func() (uint32, bool) { return 0, true }

	waiters := make([]*Continuation, 3)
	for i := range waiters {
		waiters[i] = NewContinuation(uint64(i+1), func() bool { return false })
		waiters[i].setState(StateRunning)
		if got := FutexWait(key, 0, load, waiters[i]); got != 0 {
			t.Fatalf("[waiter %d] unexpected errno %d", i, got)
		}
	}

	if woken := FutexWake(key, 3); woken != 3 {
		t.Fatalf("expected to wake 3 waiters; woke %d", woken)
	}

	for i, c := range waiters {
		if exp, got := StateReady, c.State(); exp != got {
			t.Fatalf("[waiter %d] expected ready; got state %d", i, got)
		}
	}

	// All woken exactly once: a second wake finds nobody.
	if woken := FutexWake(key, 3); woken != 0 {
		t.Fatalf("expected no residual waiters; woke %d", woken)
	}
}

func TestFutexLoadFault(t *testing.T) {
	resetSched()

	key := FutexKey{Space: 1, Offset: 0x1000}
	c := NewContinuation(1, func() bool { return false })

	if got := FutexWait(key, 0, func() (uint32, bool) { return 0, false }, c); got != errno.EFAULT {
		t.Fatalf("expected EFAULT when the futex word is unmapped; got %d", got)
	}
}

func TestTimerFiresAtDeadline(t *testing.T) {
	resetSched()

	var w WaitQueue
	c := NewContinuation(1, func() bool { return false })
	c.setState(StateRunning)

	w.Prepare()
	w.Park(c)

	timer := AddTimer(5*wheelTickNanos, c, &w)

	// Advancing short of the deadline must not fire.
	Advance(2 * wheelTickNanos)
	if timer.Fired() {
		t.Fatal("expected timer not to fire before its deadline")
	}

	next := Advance(6 * wheelTickNanos)
	if !timer.Fired() {
		t.Fatal("expected timer to fire at its deadline")
	}
	if !c.Cancelled() {
		t.Fatal("expected timeout to cancel the parked continuation")
	}
	if next != 0 {
		t.Fatalf("expected no further deadlines; got %d", next)
	}

	// The late cancel loses and is a no-op.
	if timer.Cancel() {
		t.Fatal("expected cancel after firing to lose")
	}
}

func TestTimerCancelBeatsDeadline(t *testing.T) {
	resetSched()

	var w WaitQueue
	c := NewContinuation(1, func() bool { return false })
	c.setState(StateRunning)

	w.Prepare()
	w.Park(c)

	timer := AddTimer(5*wheelTickNanos, c, &w)

	if !timer.Cancel() {
		t.Fatal("expected early cancel to win")
	}

	Advance(10 * wheelTickNanos)
	if timer.Fired() {
		t.Fatal("expected cancelled timer to be a no-op at its deadline")
	}
	if c.Cancelled() {
		t.Fatal("expected the parked continuation to stay untouched")
	}
}

func TestAdvanceReturnsEarliestDeadline(t *testing.T) {
	resetSched()

	c1 := NewContinuation(1, func() bool { return false })
	c2 := NewContinuation(2, func() bool { return false })

	AddTimer(9*wheelTickNanos, c1, nil)
	AddTimer(4*wheelTickNanos, c2, nil)

	if next := Advance(wheelTickNanos); next != 4*wheelTickNanos {
		t.Fatalf("expected next deadline at %d; got %d", 4*wheelTickNanos, next)
	}
}
