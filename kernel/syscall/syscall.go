// Package syscall implements the honoured POSIX subset and the per-task
// kernel continuation loop that drives user execution.
package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/task"
)

// Syscall numbers, matching the generic 64-bit Linux table that both
// target architectures use.
const (
	sysDup            = 23
	sysDup3           = 24
	sysPipe2          = 59
	sysLseek          = 62
	sysRead           = 63
	sysWrite          = 64
	sysOpenat         = 56
	sysClose          = 57
	sysFstat          = 80
	sysExit           = 93
	sysExitGroup      = 94
	sysWait4          = 260
	sysKill           = 129
	sysTgkill         = 131
	sysRtSigaction    = 134
	sysRtSigprocmask  = 135
	sysRtSigtimedwait = 137
	sysRtSigreturn    = 139
	sysSchedYield     = 124
	sysNanosleep      = 101
	sysClockGettime   = 113
	sysFutex          = 98
	sysGetpid         = 172
	sysGetppid        = 173
	sysGettid         = 178
	sysBrk            = 214
	sysMunmap         = 215
	sysClone          = 220
	sysExecve         = 221
	sysMmap           = 222
	sysMprotect       = 226
)

// syscallFn implements one syscall. Implementations that suspend set the
// task's continuation state and return errParked; the task loop then
// returns to the executor and the syscall completes on a later resume.
type syscallFn func(t *task.Task, args [6]uintptr) (uintptr, errno.Errno)

// errParked is an in-band marker, never returned to user space.
const errParked = errno.Errno(^uintptr(0))

// dispatchTable maps syscall numbers to implementations.
var dispatchTable map[uintptr]syscallFn

func init() {
	dispatchTable = map[uintptr]syscallFn{
		sysDup:            sysDupImpl,
		sysDup3:           sysDup3Impl,
		sysPipe2:          sysPipe2Impl,
		sysLseek:          sysLseekImpl,
		sysRead:           sysReadImpl,
		sysWrite:          sysWriteImpl,
		sysOpenat:         sysOpenatImpl,
		sysClose:          sysCloseImpl,
		sysFstat:          sysFstatImpl,
		sysExit:           sysExitImpl,
		sysExitGroup:      sysExitGroupImpl,
		sysWait4:          sysWait4Impl,
		sysKill:           sysKillImpl,
		sysTgkill:         sysTgkillImpl,
		sysRtSigaction:    sysSigactionImpl,
		sysRtSigprocmask:  sysSigprocmaskImpl,
		sysRtSigtimedwait: sysSigtimedwaitImpl,
		sysRtSigreturn:    sysSigreturnImpl,
		sysSchedYield:     sysSchedYieldImpl,
		sysNanosleep:      sysNanosleepImpl,
		sysClockGettime:   sysClockGettimeImpl,
		sysFutex:          sysFutexImpl,
		sysGetpid:         sysGetpidImpl,
		sysGetppid:        sysGetppidImpl,
		sysGettid:         sysGettidImpl,
		sysBrk:            sysBrkImpl,
		sysMunmap:         sysMunmapImpl,
		sysClone:          sysCloneImpl,
		sysExecve:         sysExecveImpl,
		sysMmap:           sysMmapImpl,
		sysMprotect:       sysMprotectImpl,
	}
}

// invoke runs the syscall recorded in the task's saved registers. The
// returned errno is errParked when the syscall suspended.
func invoke(t *task.Task) (uintptr, errno.Errno) {
	num := t.Ctx.SyscallNum()

	fn := dispatchTable[num]
	if fn == nil {
		return 0, errno.ENOSYS
	}

	return fn(t, t.Ctx.SyscallArgs())
}
