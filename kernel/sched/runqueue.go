package sched

import (
	"helios/kernel/sync"
)

// RunQueue is the per-hart FIFO of ready continuations. Enqueue and
// dequeue are O(1) through head/tail pointers; stealing detaches a batch
// from the head.
type RunQueue struct {
	lock sync.IrqSpinlock

	head, tail *Continuation
	length     int

	// stealCount tracks how many continuations other harts took.
	stealCount uint64

	// lastActive is a monotonically increasing tick recorded on every
	// dequeue; stealing targets the least recently active hart.
	lastActive uint64
}

// Enqueue appends a ready continuation.
func (q *RunQueue) Enqueue(c *Continuation) {
	c.next = nil

	q.lock.Acquire()
	if q.tail == nil {
		q.head, q.tail = c, c
	} else {
		q.tail.next = c
		q.tail = c
	}
	q.length++
	q.lock.Release()
}

// Dequeue pops the oldest ready continuation, or nil.
func (q *RunQueue) Dequeue(tick uint64) *Continuation {
	q.lock.Acquire()
	c := q.head
	if c != nil {
		q.head = c.next
		if q.head == nil {
			q.tail = nil
		}
		c.next = nil
		q.length--
	}
	q.lastActive = tick
	q.lock.Release()
	return c
}

// Len returns the queue length.
func (q *RunQueue) Len() int {
	q.lock.Acquire()
	n := q.length
	q.lock.Release()
	return n
}

// StealBatch detaches up to half of the queue from its head, skipping
// continuations pinned to their hart, and returns them as a chain. The
// batch keeps FIFO order.
func (q *RunQueue) StealBatch() *Continuation {
	q.lock.Acquire()
	defer q.lock.Release()

	want := q.length / 2
	if want == 0 {
		return nil
	}

	var batchHead, batchTail *Continuation
	var keptHead, keptTail *Continuation

	for c := q.head; c != nil; {
		next := c.next
		c.next = nil

		if want > 0 && c.Stealable() {
			if batchTail == nil {
				batchHead, batchTail = c, c
			} else {
				batchTail.next = c
				batchTail = c
			}
			want--
			q.length--
			q.stealCount++
		} else {
			if keptTail == nil {
				keptHead, keptTail = c, c
			} else {
				keptTail.next = c
				keptTail = c
			}
		}
		c = next
	}

	q.head, q.tail = keptHead, keptTail
	return batchHead
}
