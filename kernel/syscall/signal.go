package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/sched"
	"helios/kernel/task"
)

// sigTrampolineAddr is the fixed user address of the sigreturn trampoline
// page that the exec loader maps into every process image.
const sigTrampolineAddr = uintptr(0x7fff00000000)

// signal frame layout on the user stack: mask, pc, status and the 32
// saved registers. sigreturn rebuilds the context from it.
const (
	sigFrameMaskOff   = 0
	sigFramePCOff     = 8
	sigFrameStatusOff = 16
	sigFrameRegsOff   = 24
	sigFrameSize      = 24 + 32*8
)

// prepareUserReturn is the single signal-delivery point: it runs on every
// kernel-to-user transition. It returns false when the task died (fatal
// signal default action).
func prepareUserReturn(t *task.Task) bool {
	for t.Sig.HasDeliverable() {
		sig, ok := t.Sig.NextDeliverable()
		if !ok {
			break
		}

		action := t.Sig.Handlers.Get(sig)

		switch {
		case action.Handler == task.HandlerIgnore:
			continue

		case action.Handler == task.HandlerDefault:
			switch task.DefaultActionFor(sig) {
			case task.ActionIgnore:
				continue
			case task.ActionStop:
				// Stopped tasks park until SIGCONT; modelled as
				// an ignore until job control lands.
				continue
			default:
				// Core-less termination with the signal in the
				// low status byte.
				exitTask(t, int32(sig))
				return false
			}

		default:
			if deliverToHandler(t, sig, action) != 0 {
				// An unwritable stack is fatal.
				exitTask(t, int32(task.SIGSEGV))
				return false
			}
		}
	}

	return true
}

// deliverToHandler builds the signal frame on the user stack and redirects
// the user PC to the registered handler. When the delivery interrupted a
// restartable syscall and the handler asked for SA_RESTART, the saved
// context is rewound so the syscall re-executes exactly once after the
// handler returns.
func deliverToHandler(t *task.Task, sig task.Signal, action task.SigAction) errno.Errno {
	if t.ContState.RestartPending {
		t.ContState.RestartPending = false
		if action.Flags&task.SAHandlerRestart != 0 {
			t.Ctx.SetSyscallReturn(t.ContState.OrigArg0)
			t.Ctx.RewindPC()
		}
	}

	frameAddr := (t.Ctx.StackPointer() - sigFrameSize) &^ 15

	var frame [sigFrameSize]byte
	oldMask := t.Sig.Mask()
	encodeU64(frame[sigFrameMaskOff:], uint64(oldMask))
	encodeU64(frame[sigFramePCOff:], uint64(t.Ctx.PC))
	encodeU64(frame[sigFrameStatusOff:], uint64(t.Ctx.Status))
	for i, reg := range t.Ctx.Regs {
		encodeU64(frame[sigFrameRegsOff+8*i:], uint64(reg))
	}

	if errCode := t.Space.CopyToUser(frameAddr, frame[:]); errCode != 0 {
		return errCode
	}

	// Run the handler with the signal blocked (unless SA_NODEFER) plus
	// the action's mask.
	newMask := oldMask | action.Mask
	if action.Flags&task.SAHandlerNoDefer == 0 {
		newMask |= sig.Bit()
	}
	t.Sig.SetMask(task.SigSetMask, newMask)

	t.Ctx.SetStackPointer(frameAddr)
	t.Ctx.SetSignalHandlerEntry(action.Handler, uintptr(sig), frameAddr, sigTrampolineAddr)
	return 0
}

// sysSigreturnImpl unwinds a signal frame: the saved register state and
// mask come back from the user stack.
//
// Errors: a corrupt frame is fatal to the task rather than an errno.
func sysSigreturnImpl(t *task.Task, _ [6]uintptr) (uintptr, errno.Errno) {
	frameAddr := t.Ctx.StackPointer()

	var frame [sigFrameSize]byte
	if errCode := t.Space.CopyFromUser(frame[:], frameAddr); errCode != 0 {
		exitTask(t, int32(task.SIGSEGV))
		return 0, errParked
	}

	t.Sig.SetMask(task.SigSetMask, task.SigSet(decodeU64(frame[sigFrameMaskOff:])))
	t.Ctx.PC = uintptr(decodeU64(frame[sigFramePCOff:]))
	t.Ctx.Status = uintptr(decodeU64(frame[sigFrameStatusOff:]))
	for i := range t.Ctx.Regs {
		t.Ctx.Regs[i] = uintptr(decodeU64(frame[sigFrameRegsOff+8*i:]))
	}

	// The return-value register was restored from the frame and must not
	// be clobbered on the way out.
	return 0, errSigreturn
}

// errSigreturn tells completeSyscall not to clobber the restored return
// register.
const errSigreturn = errno.Errno(^uintptr(0) - 1)

// sysSigactionImpl implements rt_sigaction.
//
// Errors: EINVAL for SIGKILL/SIGSTOP or an out-of-range signal; EFAULT
// for bad user pointers.
func sysSigactionImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	sig := task.Signal(args[0])
	newPtr, oldPtr := args[1], args[2]

	if sig == 0 || sig >= task.NumSignals {
		return 0, errno.EINVAL
	}

	// user sigaction layout: handler, flags, restorer, mask.
	var prev task.SigAction

	if newPtr != 0 {
		var buf [32]byte
		if errCode := t.Space.CopyFromUser(buf[:], newPtr); errCode != 0 {
			return 0, errCode
		}

		action := task.SigAction{
			Handler: uintptr(decodeU64(buf[0:])),
			Flags:   sigActionFlags(decodeU64(buf[8:])),
			Mask:    task.SigSet(decodeU64(buf[24:])),
		}

		var errCode errno.Errno
		if prev, errCode = t.Sig.Handlers.Set(sig, action); errCode != 0 {
			return 0, errCode
		}
	} else {
		prev = t.Sig.Handlers.Get(sig)
	}

	if oldPtr != 0 {
		var buf [32]byte
		encodeU64(buf[0:], uint64(prev.Handler))
		encodeU64(buf[8:], sigActionUserFlags(prev.Flags))
		encodeU64(buf[24:], uint64(prev.Mask))
		if errCode := t.Space.CopyToUser(oldPtr, buf[:]); errCode != 0 {
			return 0, errCode
		}
	}

	return 0, 0
}

// user-ABI sigaction flag bits.
const (
	userSARestart = 0x10000000
	userSASigInfo = 0x00000004
	userSANoDefer = 0x40000000
)

func sigActionFlags(userFlags uint64) uint32 {
	var flags uint32
	if userFlags&userSARestart != 0 {
		flags |= task.SAHandlerRestart
	}
	if userFlags&userSASigInfo != 0 {
		flags |= task.SAHandlerSigInfo
	}
	if userFlags&userSANoDefer != 0 {
		flags |= task.SAHandlerNoDefer
	}
	return flags
}

func sigActionUserFlags(flags uint32) uint64 {
	var userFlags uint64
	if flags&task.SAHandlerRestart != 0 {
		userFlags |= userSARestart
	}
	if flags&task.SAHandlerSigInfo != 0 {
		userFlags |= userSASigInfo
	}
	if flags&task.SAHandlerNoDefer != 0 {
		userFlags |= userSANoDefer
	}
	return userFlags
}

// sysSigprocmaskImpl implements rt_sigprocmask.
//
// Errors: EINVAL for a bad how; EFAULT for bad user pointers.
func sysSigprocmaskImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	how := int(args[0])
	newPtr, oldPtr := args[1], args[2]

	prev := t.Sig.Mask()

	if newPtr != 0 {
		var buf [8]byte
		if errCode := t.Space.CopyFromUser(buf[:], newPtr); errCode != 0 {
			return 0, errCode
		}

		if _, errCode := t.Sig.SetMask(how, task.SigSet(decodeU64(buf[:]))); errCode != 0 {
			return 0, errCode
		}
	}

	if oldPtr != 0 {
		var buf [8]byte
		encodeU64(buf[:], uint64(prev))
		if errCode := t.Space.CopyToUser(oldPtr, buf[:]); errCode != 0 {
			return 0, errCode
		}
	}

	return 0, 0
}

// sysSigtimedwaitImpl implements rt_sigtimedwait: the task parks until a
// signal in the set is posted or the timeout fires.
//
// Errors: EAGAIN on timeout, EFAULT for a bad set or timeout pointer.
func sysSigtimedwaitImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	setPtr, timeoutPtr := args[0], args[2]

	var buf [8]byte
	if errCode := t.Space.CopyFromUser(buf[:], setPtr); errCode != 0 {
		return 0, errCode
	}
	waitSet := task.SigSet(decodeU64(buf[:]))

	// A matching pending signal completes immediately.
	if sig, ok := takePendingIn(t, waitSet); ok {
		return uintptr(sig), 0
	}

	var deadline uint64
	if timeoutPtr != 0 {
		var ts [16]byte
		if errCode := t.Space.CopyFromUser(ts[:], timeoutPtr); errCode != 0 {
			return 0, errCode
		}
		deadline = nowFn() + decodeU64(ts[0:])*1e9 + decodeU64(ts[8:])
	}

	t.ContState.Kind = task.OnSignalWait
	t.ContState.Deadline = deadline
	t.ContState.Restartable = false

	t.ChildWait.Prepare()
	t.ChildWait.Park(t.Cont)
	if deadline != 0 {
		t.ContState.Timer = sched.AddTimer(deadline, t.Cont, &t.ChildWait)
	}
	return 0, errParked
}

// takePendingIn dequeues a pending signal from the waited set regardless
// of the mask.
func takePendingIn(t *task.Task, waitSet task.SigSet) (task.Signal, bool) {
	pending := t.Sig.Pending()
	for sig := task.Signal(1); sig < task.NumSignals; sig++ {
		if waitSet.Has(sig) && pending.Has(sig) {
			// Consume it through the regular dequeue with the set
			// temporarily unmasked.
			prev := t.Sig.Mask()
			t.Sig.SetMask(task.SigSetMask, ^waitSet)
			got, ok := t.Sig.NextDeliverable()
			t.Sig.SetMask(task.SigSetMask, prev)
			if ok {
				return got, true
			}
		}
	}
	return 0, false
}

// sysKillImpl implements kill: the signal is posted to the task whose tid
// equals pid, which for a process id is the thread group leader.
//
// Errors: ESRCH when no such process exists; EINVAL for a bad signal.
func sysKillImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	pid := int32(args[0])
	sig := task.Signal(args[1])

	if sig >= task.NumSignals {
		return 0, errno.EINVAL
	}

	target, errCode := task.Lookup(task.Tid(pid))
	if errCode != 0 {
		return 0, errCode
	}
	if sig == 0 {
		return 0, 0
	}

	postSignal(target, sig)
	return 0, 0
}

// sysTgkillImpl implements tgkill for a single task of a thread group.
//
// Errors: ESRCH when the tid does not exist or is not in the group.
func sysTgkillImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	tgid, tid := task.Tid(args[0]), task.Tid(args[1])
	sig := task.Signal(args[2])

	if sig >= task.NumSignals {
		return 0, errno.EINVAL
	}

	target, errCode := task.Lookup(tid)
	if errCode != 0 {
		return 0, errCode
	}
	if target.Tgid != tgid {
		return 0, errno.ESRCH
	}
	if sig == 0 {
		return 0, 0
	}

	postSignal(target, sig)
	return 0, 0
}

// postSignal queues a signal and, when it will actually be delivered,
// cancels the target's blocked operation so delivery is not delayed past
// the next scheduler observation. Signals whose disposition is to be
// ignored never interrupt a blocked syscall.
func postSignal(target *task.Task, sig task.Signal) {
	if !target.Sig.Post(sig) {
		return
	}

	action := target.Sig.Handlers.Get(sig)
	if action.Handler == task.HandlerIgnore {
		return
	}
	if action.Handler == task.HandlerDefault && task.DefaultActionFor(sig) == task.ActionIgnore {
		return
	}

	cancelBlocked(target)
}

// cancelBlocked kicks a blocked task out of its wait so the signal can be
// delivered at the user-return boundary.
func cancelBlocked(target *task.Task) {
	if target.State() != task.StateBlocked || target.Cont == nil {
		return
	}

	sched.CancelParked(target.Cont)
}

func encodeU64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func decodeU64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
