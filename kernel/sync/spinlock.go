// Package sync provides the synchronization primitives used by kernel code:
// spinlocks, interrupt-safe spinlocks and sequence locks. Kernel code never
// suspends a continuation while holding any of these locks.
package sync

import (
	"sync/atomic"

	"helios/kernel/cpu"
)

var (
	// irqDisableFn and irqRestoreFn start as no-ops: interrupt masking
	// means nothing before the HAL is up, and host-side tests never
	// install the real hooks. Boot code calls InstallIrqMasking once
	// trap handling exists.
	irqDisableFn = func() {}
	irqRestoreFn = func() {}
)

// InstallIrqMasking wires IrqSpinlock to the CPU interrupt primitives.
// Masking nests per hart: interrupts re-enable only when the outermost
// lock drops, so a trap cannot arrive while an inner IrqSpinlock is still
// held.
func InstallIrqMasking() {
	var depth [cpu.MaxHarts]int32

	irqDisableFn = func() {
		cpu.DisableInterrupts()
		depth[cpu.HartID()]++
	}
	irqRestoreFn = func() {
		hart := cpu.HartID()
		depth[hart]--
		if depth[hart] == 0 {
			cpu.EnableInterrupts()
		}
	}
}

// Spinlock implements a lock where each hart trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the current hart. Any
// attempt to re-acquire a lock already held by the current hart will cause a
// deadlock.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		for atomic.LoadUint32(&l.state) != 0 {
			cpu.SpinHint()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other harts to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IrqSpinlock is a spinlock that also masks interrupts on the local hart
// while held. It must be used for any state that is shared between trap
// handlers and regular kernel code; otherwise a trap taken while the lock is
// held would deadlock trying to re-acquire it.
type IrqSpinlock struct {
	lock Spinlock
}

// Acquire disables interrupts on the local hart and then acquires the lock.
func (l *IrqSpinlock) Acquire() {
	irqDisableFn()
	l.lock.Acquire()
}

// Release drops the lock and re-enables interrupts on the local hart.
func (l *IrqSpinlock) Release() {
	l.lock.Release()
	irqRestoreFn()
}
