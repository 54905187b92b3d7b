package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/task"
)

// resumeSuspended completes a syscall whose continuation just woke. The
// suspension record tells it where the task parked; the cancellation latch
// and timer outcome tell it why it woke.
func resumeSuspended(t *task.Task) (uintptr, errno.Errno) {
	cancelled := t.Cont.Cancelled()
	t.Cont.ClearCancelled()

	timer := t.ContState.Timer
	t.ContState.Timer = nil
	timedOut := timer != nil && timer.Fired()
	if timer != nil && !timedOut {
		// The regular wake won; the late timer must be a no-op.
		timer.Cancel()
	}

	switch t.ContState.Kind {
	case task.OnTimer:
		if timedOut {
			return 0, 0
		}
		if cancelled {
			// A signal cut the sleep short.
			return 0, errno.EINTR
		}
		return 0, 0

	case task.OnFutex:
		if timedOut {
			return 0, errno.ETIMEDOUT
		}
		if cancelled {
			return 0, errno.ERESTART
		}
		return 0, 0

	case task.OnSignalWait:
		if timedOut {
			return 0, errno.EAGAIN
		}

		// Re-scan; the posting path woke us because a signal in some
		// set arrived, which may or may not be ours.
		args := t.Ctx.SyscallArgs()
		var buf [8]byte
		if errCode := t.Space.CopyFromUser(buf[:], args[0]); errCode != 0 {
			return 0, errCode
		}
		if sig, ok := takePendingIn(t, task.SigSet(decodeU64(buf[:]))); ok {
			return uintptr(sig), 0
		}
		return 0, errno.EINTR

	case task.OnChildWait:
		if cancelled {
			return 0, errno.ERESTART
		}
		return sysWait4Impl(t, t.Ctx.SyscallArgs())

	case task.OnPipe:
		if cancelled {
			return 0, errno.ERESTART
		}
		// Retry the whole read or write; the pipe state moved.
		return invoke(t)

	case task.InPageCacheRead:
		if cancelled {
			return 0, errno.ERESTART
		}
		return invoke(t)
	}

	return 0, errno.EINVAL
}
