package sync

import (
	"sync/atomic"

	"helios/kernel/cpu"
)

// SeqLock implements a sequence lock for read-mostly shared objects such as
// the VMA set of a shared address space. Writers serialize through an
// embedded spinlock and bump the sequence counter around each update;
// readers retry their critical section whenever the counter indicates a
// concurrent or in-flight write.
//
// Readers must not dereference pointers obtained inside an aborted read
// section and must never write shared state.
type SeqLock struct {
	seq  uint32
	lock Spinlock
}

// ReadBegin returns the sequence value a reader must pass to ReadRetry once
// its critical section completes. It spins while a write is in progress.
func (l *SeqLock) ReadBegin() uint32 {
	for {
		seq := atomic.LoadUint32(&l.seq)
		if seq&1 == 0 {
			return seq
		}
		cpu.SpinHint()
	}
}

// ReadRetry reports whether the critical section raced with a writer and
// must be retried.
func (l *SeqLock) ReadRetry(seq uint32) bool {
	return atomic.LoadUint32(&l.seq) != seq
}

// WriteLock acquires exclusive access and marks the sequence odd so readers
// retry.
func (l *SeqLock) WriteLock() {
	l.lock.Acquire()
	atomic.AddUint32(&l.seq, 1)
}

// WriteUnlock publishes the update by making the sequence even again.
func (l *SeqLock) WriteUnlock() {
	atomic.AddUint32(&l.seq, 1)
	l.lock.Release()
}
