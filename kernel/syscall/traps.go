package syscall

import (
	"helios/kernel/hal"
	"helios/kernel/irq"
	"helios/kernel/sched"
)

// InstallTrapHandlers wires the kernel-mode trap dispatch: timer ticks and
// IPIs taken while kernel code runs. User-mode traps re-enter the task
// loop through hal.Restore and never reach these handlers.
func InstallTrapHandlers() {
	irq.HandleTrap(irq.TrapTimer, func(_ *irq.TrapInfo, _ *hal.TrapContext) bool {
		hart := hartIDFn()
		if t := currentTask[hart]; t != nil && t.Cont != nil {
			onTimerTick(t.Cont)
		} else {
			next := sched.Advance(nowFn())
			if next != 0 {
				hal.SetNextEvent(next)
			} else {
				hal.SetNextEvent(nowFn() + schedQuantumNanos)
			}
		}
		return true
	})

	irq.HandleTrap(irq.TrapSoftIrq, func(_ *irq.TrapInfo, _ *hal.TrapContext) bool {
		drainIPI()
		return true
	})

	// Kernel-mode page faults outside a probe window are fatal; the
	// dispatcher handles the probe case before consulting this handler.
	irq.HandleTrap(irq.TrapPageFault, func(info *irq.TrapInfo, _ *hal.TrapContext) bool {
		return info.FromUser
	})
}
