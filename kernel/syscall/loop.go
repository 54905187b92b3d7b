package syscall

import (
	"helios/kernel"
	"helios/kernel/cpu"
	"helios/kernel/errno"
	"helios/kernel/hal"
	"helios/kernel/irq"
	"helios/kernel/mm/vmm"
	"helios/kernel/sched"
	"helios/kernel/task"
)

var errUnknownContState = &kernel.Error{Module: "syscall", Message: "task continuation in unknown state"}

var (
	// currentTask tracks the task each hart is executing.
	currentTask [cpu.MaxHarts]*task.Task

	// restoreFn, decodeFn, hartIDFn and nowFn are mocked by tests.
	restoreFn = hal.Restore
	decodeFn  = irq.Decode
	hartIDFn  = cpu.HartID
	nowFn     = hal.Now
)

// Current returns the task running on the given hart.
func Current(hartID uint32) *task.Task {
	return currentTask[hartID]
}

// Spawn binds a task to a fresh continuation polling TaskLoop and makes it
// runnable.
func Spawn(t *task.Task) {
	t.ContState.Kind = task.AtUserReturn
	t.Cont = sched.NewContinuation(uint64(t.Tid), func() bool {
		return TaskLoop(t)
	})
	t.SetState(task.StateRunnable)
	sched.Enqueue(t.Cont)
}

// TaskLoop is the kernel continuation of one task: a state machine whose
// states enumerate every suspension point. Each call runs until the task
// either parks (return false with the continuation parked), yields (return
// false, still ready) or dies (return true).
func TaskLoop(t *task.Task) bool {
	hart := hartIDFn()
	currentTask[hart] = t
	t.SetState(task.StateRunning)
	defer func() { currentTask[hart] = nil }()

	for {
		switch t.ContState.Kind {
		case task.AtUserReturn:
			if !prepareUserReturn(t) {
				return true
			}

			if t.Cont.TakePreemptPending() {
				// Safe point: no hart-local resource is held here.
				t.SetState(task.StateRunnable)
				return false
			}

			t.Space.Activate(hart)
			restoreFn(t.Ctx, t.Space.Token())

			// Restore returns on the task's next trap with user
			// state saved back into t.Ctx.
			info := decodeFn(true)
			if !handleUserTrap(t, &info) {
				t.SetState(task.StateBlocked)
				return false
			}

		case task.AtSyscallEntry:
			val, errCode := invoke(t)
			if errCode == errParked {
				t.SetState(task.StateBlocked)
				return false
			}

			completeSyscall(t, val, errCode)

		case task.OnFutex, task.OnTimer, task.OnSignalWait, task.OnChildWait, task.OnPipe, task.InPageCacheRead:
			val, errCode := resumeSuspended(t)
			if errCode == errParked {
				// The retried operation blocked again.
				t.SetState(task.StateBlocked)
				return false
			}

			completeSyscall(t, val, errCode)

		default:
			panic(errUnknownContState)
		}

		if t.State() == task.StateZombie || t.State() == task.StateDead {
			return true
		}
	}
}

// handleUserTrap reacts to a trap taken while the task ran in user mode.
// It returns false when the task parked and the loop must return to the
// executor.
func handleUserTrap(t *task.Task, info *irq.TrapInfo) bool {
	switch info.Kind {
	case irq.TrapSyscall:
		// The trapping instruction must not re-execute on the next
		// restore unless a restart is requested.
		t.Ctx.AdvancePC()
		t.ContState.OrigArg0 = t.Ctx.SyscallArgs()[0]
		t.ContState.RestartPending = false
		t.ContState.Kind = task.AtSyscallEntry
		return true

	case irq.TrapPageFault:
		resolved, err := t.Space.HandleFault(info.FaultAddr, info.FaultAccess, true)
		if err != nil || !resolved {
			postSignal(t, task.SIGSEGV)
		}
		t.ContState.Kind = task.AtUserReturn
		return true

	case irq.TrapTimer:
		onTimerTick(t.Cont)
		t.ContState.Kind = task.AtUserReturn
		return true

	case irq.TrapSoftIrq:
		drainIPI()
		t.ContState.Kind = task.AtUserReturn
		return true

	case irq.TrapExternalIrq:
		irq.DispatchExternal(info.IrqNum)
		t.ContState.Kind = task.AtUserReturn
		return true

	case irq.TrapIllegal:
		postSignal(t, task.SIGILL)
		t.ContState.Kind = task.AtUserReturn
		return true

	case irq.TrapBreakpoint:
		postSignal(t, task.SIGTRAP)
		t.ContState.Kind = task.AtUserReturn
		return true
	}

	postSignal(t, task.SIGILL)
	t.ContState.Kind = task.AtUserReturn
	return true
}

// completeSyscall writes the result into the saved registers and moves the
// task to the user-return state. ERESTART either rewinds the PC so the
// syscall re-executes (SA_RESTART) or becomes EINTR; sigreturn leaves the
// restored registers untouched.
func completeSyscall(t *task.Task, val uintptr, errCode errno.Errno) {
	if errCode == errSigreturn {
		t.ContState.Kind = task.AtUserReturn
		return
	}

	if errCode == errno.ERESTART {
		// The restart decision belongs to signal delivery: the
		// interrupted syscall provisionally returns EINTR, and
		// deliverToHandler rewinds it when the handler asked for
		// SA_RESTART.
		t.ContState.RestartPending = t.ContState.Restartable
		errCode = errno.EINTR
	}

	t.Ctx.SetSyscallReturn(errno.Return(val, errCode))
	t.ContState.Kind = task.AtUserReturn
}

// onTimerTick acknowledges the hart timer: the wheel advances, the next
// event is programmed and the running continuation is flagged for
// preemption at its next safe point.
func onTimerTick(c *sched.Continuation) {
	next := sched.Advance(nowFn())
	if next != 0 {
		hal.SetNextEvent(next)
	} else {
		hal.SetNextEvent(nowFn() + schedQuantumNanos)
	}

	c.SetPreemptPending()
}

// schedQuantumNanos is the preemption quantum when no timer is pending.
const schedQuantumNanos = 10000000 // 10ms

// drainIPI handles inter-processor interrupt reasons on the local hart.
func drainIPI() {
	reasons := hal.DrainIPIReasons(hartIDFn())

	if reasons&hal.IPIShootdown != 0 {
		handleShootdownFn()
	}
	// IPIReschedule needs no action: returning to the executor loop
	// re-polls the queue.
	if reasons&hal.IPIHalt != 0 {
		cpu.Halt()
	}
}

var handleShootdownFn = vmm.HandleShootdownIPI
