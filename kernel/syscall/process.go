package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/hal"
	"helios/kernel/sched"
	"helios/kernel/task"
)

// clone flag bits from the user ABI.
const (
	cloneVM      = 0x00000100
	cloneFS      = 0x00000200
	cloneFiles   = 0x00000400
	cloneSighand = 0x00000800
	cloneThread  = 0x00010000
)

// sysCloneImpl implements clone for the two honoured flavours: fork-style
// (no flags) duplicates the address space copy-on-write; thread-style
// (CLONE_VM|CLONE_THREAD|...) shares it by reference.
//
// Errors: ENOMEM when the new address space or task cannot be allocated;
// EINVAL for unsupported flag combinations.
func sysCloneImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	flags, childStack := args[0], args[1]

	isThread := flags&cloneThread != 0
	if isThread && flags&cloneVM == 0 {
		return 0, errno.EINVAL
	}

	child := &task.Task{
		Parent: t.Tid,
		Creds:  t.Creds,
		Ctx:    allocTrapContext(),
	}
	if child.Ctx == nil {
		return 0, errno.ENOMEM
	}
	*child.Ctx = *t.Ctx

	// The child returns 0 from the syscall.
	child.Ctx.SetSyscallReturn(0)
	if childStack != 0 {
		child.Ctx.SetStackPointer(childStack)
	}

	if flags&cloneVM != 0 {
		t.Space.Retain()
		child.Space = t.Space
	} else {
		forked, err := t.Space.Fork()
		if err != nil {
			freeTrapContext(child.Ctx)
			return 0, errno.ENOMEM
		}
		child.Space = forked
	}

	if flags&cloneFiles != 0 {
		child.FDs = t.FDs
	} else {
		child.FDs = t.FDs.Fork()
	}

	if flags&cloneSighand != 0 {
		child.Sig.Handlers = t.Sig.Handlers
	} else {
		child.Sig.Handlers = t.Sig.Handlers.Fork()
	}
	child.Sig.SetMask(task.SigSetMask, t.Sig.Mask())

	if isThread {
		child.Tgid = t.Tgid
	}

	childTid := task.Register(child)
	t.AddChild(childTid)

	Spawn(child)
	return uintptr(childTid), 0
}

// sysExecveImpl hands the exec request to the registered loader; the
// loader replaces the address space and entry state.
//
// Errors: ENOSYS when no loader is registered; otherwise whatever the
// loader reports.
func sysExecveImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	if execLoader == nil {
		return 0, errno.ENOSYS
	}
	return 0, execLoader(t, args[0], args[1], args[2])
}

// ExecLoader maps the segments of a new executable into the task and
// rewrites its entry context. The ELF loader registers itself at boot.
type ExecLoader func(t *task.Task, path, argv, envp uintptr) errno.Errno

var execLoader ExecLoader

// SetExecLoader registers the exec implementation.
func SetExecLoader(loader ExecLoader) { execLoader = loader }

// sysExitImpl terminates the calling task.
func sysExitImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	exitTask(t, int32(args[0])<<8)
	return 0, 0
}

// sysExitGroupImpl terminates every task in the thread group.
func sysExitGroupImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	code := int32(args[0]) << 8

	task.ThreadGroup(t.Tgid, func(member *task.Task) {
		if member.Tid == t.Tid {
			return
		}
		member.Sig.Post(task.SIGKILL)
		cancelBlocked(member)
	})

	exitTask(t, code)
	return 0, 0
}

// exitTask releases the task's resources, keeps its identity and exit
// code for the parent and wakes wait4 waiters. Zombie until reaped.
func exitTask(t *task.Task, status int32) {
	t.ExitCode = status

	t.FDs.CloseAll()
	t.Space.Release()

	t.SetState(task.StateZombie)

	if parent, errCode := task.Lookup(t.Parent); errCode == 0 {
		// SIGCHLD follows the regular delivery rules (default action
		// is ignore, so it does not interrupt an unrelated syscall);
		// the wait queue wake is what unblocks a parent in wait4.
		postSignal(parent, task.SIGCHLD)
		parent.ChildWait.Wake(1)
	}

	// Orphaned children are adopted by init.
	for _, childTid := range t.Children() {
		if child, errCode := task.Lookup(childTid); errCode == 0 {
			child.Parent = 1
		}
	}
}

// wait4 option bits.
const wnohang = 1

// sysWait4Impl implements wait4 for direct children.
//
// Errors: ECHILD when the task has no children (or none matching pid);
// EINTR when a signal interrupts the wait.
func sysWait4Impl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	pid := int32(args[0])
	statusPtr := args[1]
	options := args[2]

	for {
		zombieTid, found := findZombieChild(t, pid)
		if found {
			zombie, errCode := task.Lookup(zombieTid)
			if errCode != 0 {
				return 0, errno.ECHILD
			}

			if statusPtr != 0 {
				var status [4]byte
				encodeU32(status[:], uint32(zombie.ExitCode))
				if errCode := t.Space.CopyToUser(statusPtr, status[:]); errCode != 0 {
					return 0, errCode
				}
			}

			reapTask(t, zombie)
			return uintptr(zombieTid), 0
		}

		matching := false
		for _, childTid := range t.Children() {
			if pid <= 0 || task.Tid(pid) == childTid {
				matching = true
				break
			}
		}
		if !matching {
			return 0, errno.ECHILD
		}
		if options&wnohang != 0 {
			return 0, 0
		}

		// Park on the child-exit queue; the woken resume re-runs the
		// scan through resumeSuspended.
		t.ChildWait.Prepare()
		if zombieTid, found = findZombieChild(t, pid); found {
			t.ChildWait.Abort()
			continue
		}
		t.ContState.Kind = task.OnChildWait
		t.ContState.Restartable = true
		t.ChildWait.Park(t.Cont)
		return 0, errParked
	}
}

// findZombieChild scans for a reapable child matching the wait4 pid
// argument (-1 for any).
func findZombieChild(t *task.Task, pid int32) (task.Tid, bool) {
	for _, childTid := range t.Children() {
		if pid > 0 && task.Tid(pid) != childTid {
			continue
		}
		child, errCode := task.Lookup(childTid)
		if errCode != 0 {
			continue
		}
		if child.State() == task.StateZombie && child.IsThreadGroupLeader() {
			return childTid, true
		}
	}
	return 0, false
}

// reapTask frees the final task structure: Zombie to Dead.
func reapTask(parent, zombie *task.Task) {
	zombie.SetState(task.StateDead)
	parent.RemoveChild(zombie.Tid)
	task.Unregister(zombie.Tid)
	freeTrapContext(zombie.Ctx)
}

// sysGetpidImpl returns the thread group id.
func sysGetpidImpl(t *task.Task, _ [6]uintptr) (uintptr, errno.Errno) {
	return uintptr(t.Tgid), 0
}

// sysGetppidImpl returns the parent's thread group id.
func sysGetppidImpl(t *task.Task, _ [6]uintptr) (uintptr, errno.Errno) {
	parent, errCode := task.Lookup(t.Parent)
	if errCode != 0 {
		return 1, 0
	}
	return uintptr(parent.Tgid), 0
}

// sysGettidImpl returns the task id.
func sysGettidImpl(t *task.Task, _ [6]uintptr) (uintptr, errno.Errno) {
	return uintptr(t.Tid), 0
}

// sysSchedYieldImpl re-queues the caller behind its peers.
func sysSchedYieldImpl(t *task.Task, _ [6]uintptr) (uintptr, errno.Errno) {
	sched.Yield(t.Cont)
	return 0, 0
}

// encodeU32 stores v little-endian.
func encodeU32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// allocTrapContext and freeTrapContext go through the slab cache
// registered at boot; they fall back to the Go allocator before the cache
// exists (early boot and tests).
var (
	allocTrapContextFn func() *hal.TrapContext
	freeTrapContextFn  func(*hal.TrapContext)
)

func allocTrapContext() *hal.TrapContext {
	if allocTrapContextFn != nil {
		return allocTrapContextFn()
	}
	return new(hal.TrapContext)
}

func freeTrapContext(ctx *hal.TrapContext) {
	if freeTrapContextFn != nil && ctx != nil {
		freeTrapContextFn(ctx)
	}
}

// SetTrapContextCache wires the slab cache for trap contexts.
func SetTrapContextCache(alloc func() *hal.TrapContext, free func(*hal.TrapContext)) {
	allocTrapContextFn, freeTrapContextFn = alloc, free
}
