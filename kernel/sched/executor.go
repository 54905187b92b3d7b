package sched

import (
	"sync/atomic"

	"helios/kernel/cpu"
)

var (
	// runQueues holds one queue per hart.
	runQueues [cpu.MaxHarts]RunQueue

	// hartCount is recorded at Init.
	hartCount uint32 = 1

	// tickCounter orders queue activity for the steal victim heuristic.
	tickCounter uint64

	// hartIDFn, wfiFn and sendIPIFn start as host-safe stubs; Init
	// installs the CPU-backed versions on the kernel path and tests
	// leave the stubs in place.
	hartIDFn  = func() uint32 { return 0 }
	wfiFn     = func() {}
	sendIPIFn = func(uintptr) {}
)

// stealBackoffCapSpins bounds the exponential steal backoff. The cap is
// calibrated to roughly a millisecond of spinning before the hart gives up
// and waits for an interrupt.
const stealBackoffCapSpins = 1 << 16

// Init sizes the scheduler for the given number of harts and wires the
// executor to the CPU primitives.
func Init(harts uint32) {
	if harts == 0 {
		harts = 1
	}
	if harts > cpu.MaxHarts {
		harts = cpu.MaxHarts
	}
	hartCount = harts

	hartIDFn = cpu.HartID
	wfiFn = cpu.Wfi
	sendIPIFn = cpu.SendIPI
}

// Enqueue makes a continuation runnable on the hart chosen by the locality
// heuristic: its last hart if that queue is short, else the least loaded.
func Enqueue(c *Continuation) {
	c.setState(StateReady)
	wakeReady(c)
}

// wakeReady re-queues a ready continuation and kicks the target hart if it
// may be sleeping.
func wakeReady(c *Continuation) {
	target := c.LastHart()
	if target >= hartCount {
		target = 0
	}

	// Prefer the last hart unless its queue is noticeably longer than
	// the shortest one.
	if best := leastLoadedHart(); runQueues[target].Len() > runQueues[best].Len()+1 {
		target = best
	}

	runQueues[target].Enqueue(c)

	if target != hartIDFn() {
		sendIPIFn(uintptr(1) << target)
	}
}

func leastLoadedHart() uint32 {
	var (
		best    uint32
		bestLen = int(^uint(0) >> 1)
	)
	for hart := uint32(0); hart < hartCount; hart++ {
		if l := runQueues[hart].Len(); l < bestLen {
			best, bestLen = hart, l
		}
	}
	return best
}

// Run is the executor loop for the calling hart. Each iteration polls the
// local queue, falls back to stealing, and parks in wait-for-interrupt when
// both come up empty. It never returns.
func Run() {
	hart := hartIDFn()

	for {
		c := runQueues[hart].Dequeue(atomic.AddUint64(&tickCounter, 1))
		if c == nil {
			c = stealWork(hart)
		}
		if c == nil {
			wfiFn()
			continue
		}

		runOne(hart, c)
	}
}

// runOne polls a single continuation to its next suspension point. The
// state CAS guarantees a continuation is never polled on two harts at
// once, even right after a steal.
func runOne(hart uint32, c *Continuation) {
	if !c.casState(StateReady, StateRunning) {
		// A cancel or wake raced us and the continuation is already
		// somewhere else; drop this reference.
		return
	}

	atomic.StoreUint32(&c.lastHart, hart)

	done := c.resume()

	switch {
	case done:
		c.setState(StateTerminated)
	case c.State() == StateRunning:
		// The continuation returned without parking: it yielded.
		c.setState(StateReady)
		runQueues[hart].Enqueue(c)
	}
}

// stealWork tries to take a batch from the least recently active other
// hart, retrying with exponential backoff capped at roughly a millisecond.
func stealWork(hart uint32) *Continuation {
	if hartCount == 1 {
		return nil
	}

	for backoff := 1; backoff <= stealBackoffCapSpins; backoff <<= 1 {
		victim := stealVictim(hart)
		if victim != hart {
			if batch := runQueues[victim].StealBatch(); batch != nil {
				// Keep the first continuation and queue the rest
				// locally.
				first := batch
				for c := batch.next; c != nil; {
					next := c.next
					c.next = nil
					runQueues[hart].Enqueue(c)
					c = next
				}
				first.next = nil
				return first
			}
		}

		for spin := 0; spin < backoff; spin++ {
			cpu.SpinHint()
		}
	}

	return nil
}

// stealVictim picks the hart whose queue has been idle from this hart's
// perspective the longest while still holding work.
func stealVictim(hart uint32) uint32 {
	var (
		victim     = hart
		oldestTick = ^uint64(0)
	)

	for candidate := uint32(0); candidate < hartCount; candidate++ {
		if candidate == hart {
			continue
		}

		q := &runQueues[candidate]
		q.lock.Acquire()
		length, active := q.length, q.lastActive
		q.lock.Release()

		if length > 0 && active < oldestTick {
			victim, oldestTick = candidate, active
		}
	}

	return victim
}

// Yield re-queues the running continuation behind its peers. The resume
// function calls it and then returns to the executor.
func Yield(c *Continuation) {
	c.setState(StateReady)
	runQueues[c.LastHart()].Enqueue(c)
}

// QueueLen reports the local queue length; the timer tick uses it to decide
// whether preemption is worthwhile.
func QueueLen(hart uint32) int {
	return runQueues[hart].Len()
}
