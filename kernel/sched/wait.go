package sched

import (
	"helios/kernel/sync"
)

// WaitQueue is the object suspended continuations park on. It embeds in
// every syscall-visible waitable (pipe ends, futex slots, timers). The
// queue lock also covers the caller's predicate check: Park is invoked
// with the lock already held through Prepare, eliminating lost-wakeup
// races.
type WaitQueue struct {
	lock sync.IrqSpinlock

	head, tail *Continuation
}

// Prepare acquires the queue lock. The caller checks its predicate (futex
// value, pipe emptiness) and then either commits with Park or backs out
// with Abort.
func (w *WaitQueue) Prepare() {
	w.lock.Acquire()
}

// Abort releases the queue lock without parking.
func (w *WaitQueue) Abort() {
	w.lock.Release()
}

// Park appends the continuation and releases the lock. The continuation
// must currently be running; it transitions to parked and its resume
// function must return to the executor immediately after.
func (w *WaitQueue) Park(c *Continuation) {
	c.setState(StateParked)
	c.parkedOn = w
	c.next = nil

	if w.tail == nil {
		w.head, w.tail = c, c
	} else {
		w.tail.next = c
		w.tail = c
	}
	w.lock.Release()
}

// Wake moves up to n parked continuations back to run queues and returns
// how many it woke. A wake strictly happens-before the woken
// continuation's next resumption.
func (w *WaitQueue) Wake(n int) int {
	var woken int

	w.lock.Acquire()
	for woken < n && w.head != nil {
		c := w.head
		w.head = c.next
		if w.head == nil {
			w.tail = nil
		}
		c.next = nil
		c.parkedOn = nil
		woken++

		ready(c)
	}
	w.lock.Release()

	return woken
}

// WakeAll empties the queue.
func (w *WaitQueue) WakeAll() int {
	return w.Wake(int(^uint(0) >> 1))
}

// Cancel removes a specific continuation from the queue, latches its
// cancellation flag and makes it runnable so the owning syscall can
// observe the cancellation. It returns false when the continuation was not
// parked here (a concurrent wake won the race; the cancel is then a
// no-op).
func (w *WaitQueue) Cancel(c *Continuation) bool {
	w.lock.Acquire()

	var prev *Continuation
	for cur := w.head; cur != nil; prev, cur = cur, cur.next {
		if cur != c {
			continue
		}

		if prev == nil {
			w.head = cur.next
		} else {
			prev.next = cur.next
		}
		if w.tail == cur {
			w.tail = prev
		}
		cur.next = nil
		cur.parkedOn = nil
		cur.cancelled = 1

		ready(cur)
		w.lock.Release()
		return true
	}

	w.lock.Release()
	return false
}

// ready hands a formerly parked continuation to the wake path.
func ready(c *Continuation) {
	c.setState(StateReady)
	wakeReady(c)
}

// CancelParked cancels the continuation out of whatever queue it is
// parked on. It is a no-op when the continuation is not parked (a
// concurrent wake won).
func CancelParked(c *Continuation) bool {
	w := c.parkedOn
	if w == nil {
		return false
	}
	return w.Cancel(c)
}
