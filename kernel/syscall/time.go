package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/mm/vmm"
	"helios/kernel/sched"
	"helios/kernel/task"
)

// clock ids.
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// sysClockGettimeImpl implements clock_gettime for the monotonic and
// realtime clocks (realtime has no battery-backed source; it runs at the
// monotonic clock plus a boot-recorded epoch).
//
// Errors: EINVAL for an unknown clock; EFAULT for a bad result pointer.
func sysClockGettimeImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	clockID, tsPtr := int(args[0]), args[1]

	if clockID != clockRealtime && clockID != clockMonotonic {
		return 0, errno.EINVAL
	}

	nanos := nowFn()
	if clockID == clockRealtime {
		nanos += realtimeEpochNanos
	}

	var ts [16]byte
	encodeU64(ts[0:], nanos/1e9)
	encodeU64(ts[8:], nanos%1e9)
	if errCode := t.Space.CopyToUser(tsPtr, ts[:]); errCode != 0 {
		return 0, errCode
	}
	return 0, 0
}

// realtimeEpochNanos offsets the monotonic clock to wall time; boot code
// records it from the platform RTC when one exists.
var realtimeEpochNanos uint64

// SetRealtimeEpoch records the wall-clock epoch.
func SetRealtimeEpoch(nanos uint64) { realtimeEpochNanos = nanos }

// sysNanosleepImpl implements nanosleep by parking on a private queue with
// the timer wheel as the only wake source.
//
// Errors: EINVAL for a malformed timespec; EINTR when a signal interrupts
// the sleep.
func sysNanosleepImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	reqPtr := args[0]

	var ts [16]byte
	if errCode := t.Space.CopyFromUser(ts[:], reqPtr); errCode != 0 {
		return 0, errCode
	}

	sec, nsec := decodeU64(ts[0:]), decodeU64(ts[8:])
	if nsec >= 1e9 {
		return 0, errno.EINVAL
	}

	deadline := nowFn() + sec*1e9 + nsec
	t.ContState.Kind = task.OnTimer
	t.ContState.Deadline = deadline
	t.ContState.Restartable = false

	queue := &sched.WaitQueue{}
	queue.Prepare()
	queue.Park(t.Cont)
	t.ContState.Timer = sched.AddTimer(deadline, t.Cont, queue)
	return 0, errParked
}

// futex operation codes.
const (
	futexWait        = 0
	futexWake        = 1
	futexRequeue     = 3
	futexPrivateFlag = 128
)

// sysFutexImpl implements futex wait, wake and requeue.
//
// Errors: EAGAIN when the wait value check fails; EFAULT for an unmapped
// word; ETIMEDOUT on wait timeout; EINTR on signal; ENOSYS for other ops.
func sysFutexImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	addr := args[0]
	op := int(args[1]) &^ futexPrivateFlag
	val := uint32(args[2])

	key := futexKeyFor(t, addr)

	switch op {
	case futexWait:
		timeoutPtr := args[3]

		var deadline uint64
		if timeoutPtr != 0 {
			var ts [16]byte
			if errCode := t.Space.CopyFromUser(ts[:], timeoutPtr); errCode != 0 {
				return 0, errCode
			}
			deadline = nowFn() + decodeU64(ts[0:])*1e9 + decodeU64(ts[8:])
		}

		loadValue := func() (uint32, bool) {
			var word [4]byte
			if errCode := t.Space.CopyFromUser(word[:], addr); errCode != 0 {
				return 0, false
			}
			return uint32(word[0]) | uint32(word[1])<<8 | uint32(word[2])<<16 | uint32(word[3])<<24, true
		}

		t.ContState.Kind = task.OnFutex
		t.ContState.FutexKey = key
		t.ContState.Deadline = deadline
		t.ContState.Restartable = true

		if errCode := sched.FutexWait(key, val, loadValue, t.Cont); errCode != 0 {
			t.ContState.Kind = task.AtSyscallEntry
			return 0, errCode
		}

		if deadline != 0 {
			t.ContState.Timer = sched.AddTimer(deadline, t.Cont, nil)
		}
		return 0, errParked

	case futexWake:
		return uintptr(sched.FutexWake(key, int(val))), 0

	case futexRequeue:
		move := int(args[3])
		dstKey := futexKeyFor(t, args[4])
		return uintptr(sched.FutexRequeue(key, dstKey, int(val), move)), 0
	}

	return 0, errno.ENOSYS
}

// futexKeyFor builds the hash key for a futex word: private words key on
// the address space identity, words in shared file mappings on the
// backing inode and offset so every mapping reaches the same slot.
func futexKeyFor(t *task.Task, addr uintptr) sched.FutexKey {
	if vma := t.Space.FindVMA(addr); vma != nil && vma.Flags&vmm.VMAShared != 0 && vma.File != nil {
		return sched.FutexKey{
			Inode:  vma.File.InodeID(),
			Offset: uintptr(vma.FileOffset) + (addr - vma.Start),
		}
	}

	return sched.FutexKey{
		Space:  t.Space.ID(),
		Offset: addr,
	}
}
