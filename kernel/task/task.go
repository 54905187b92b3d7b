// Package task implements the unified process/thread object: identity,
// credentials, resource handles, signal state and the run-state machine
// driven by the scheduler.
package task

import (
	"sync/atomic"

	"helios/kernel/hal"
	"helios/kernel/mm/vmm"
	"helios/kernel/sched"
)

// Tid identifies a task. Thread groups share a Tgid equal to the leader's
// Tid.
type Tid uint32

// RunState tracks where a task is in its lifecycle.
type RunState int32

// Run states and their transitions: Runnable -> Running on schedule-in,
// Running -> Blocked on a voluntary park, Blocked -> Runnable on wake,
// Running -> Zombie on exit, Zombie -> Dead on reap.
const (
	StateRunnable RunState = iota
	StateRunning
	StateBlocked
	StateZombie
	StateDead
)

// ContKind enumerates the suspension points of the kernel continuation
// state machine. Together with the data fields of ContState it replaces a
// per-task kernel stack.
type ContKind int

const (
	// AtSyscallEntry resumes by decoding the saved syscall registers.
	AtSyscallEntry ContKind = iota

	// InPageCacheRead resumes a file read blocked on page-cache I/O.
	InPageCacheRead

	// OnFutex resumes from a futex wait.
	OnFutex

	// OnTimer resumes from a sleep.
	OnTimer

	// OnSignalWait resumes from sigtimedwait.
	OnSignalWait

	// OnChildWait resumes from wait4.
	OnChildWait

	// OnPipe resumes a blocked pipe read or write.
	OnPipe

	// AtUserReturn runs the signal-delivery and preemption checks and
	// restores user state.
	AtUserReturn
)

// ContState records where a task's kernel continuation is suspended and
// everything it needs to proceed from there.
type ContState struct {
	Kind ContKind

	// FutexKey is valid for OnFutex.
	FutexKey sched.FutexKey

	// Deadline is valid for OnTimer and timed waits.
	Deadline uint64

	// Timer is the second wake source for timed waits.
	Timer *sched.Timer

	// FD and Buf locate resumable I/O for InPageCacheRead and OnPipe.
	FD  int
	Buf uintptr
	Len uintptr

	// Restartable records whether the suspended syscall may restart
	// after an SA_RESTART signal.
	Restartable bool

	// OrigArg0 preserves the first syscall argument register so a
	// restart can undo the return-value clobber.
	OrigArg0 uintptr

	// RestartPending marks an EINTR return that signal delivery may
	// convert into a restart when the handler asked for SA_RESTART.
	RestartPending bool
}

// Credentials carries the ownership identity of a task.
type Credentials struct {
	UID, GID uint32
}

// Task is the unified process/thread object.
type Task struct {
	// Immutable identity.
	Tid  Tid
	Tgid Tid

	// Parent is the reaping parent's tid; init (tid 1) adopts orphans.
	Parent Tid

	Creds Credentials

	// Space is the address space, shared between threads.
	Space *vmm.AddressSpace

	// FDs is the file-descriptor table, shared between threads.
	FDs *FDTable

	// Sig is the signal state; the handler table is shared between
	// threads, mask and pending sets are per-task.
	Sig SignalState

	// Ctx is the saved trap context; it lives in a kernel-side region
	// owned by this task.
	Ctx *hal.TrapContext

	// Cont is the scheduler handle polling this task's kernel work.
	Cont *sched.Continuation

	// ContState records the active suspension point.
	ContState ContState

	runState int32

	// ExitCode holds the wait4 status once the task is a zombie.
	ExitCode int32

	// children lists live and zombie children for wait4.
	children []Tid

	// ChildWait is where the task parks in wait4; exiting children wake
	// it.
	ChildWait sched.WaitQueue
}

// State returns the task's run state.
func (t *Task) State() RunState {
	return RunState(atomic.LoadInt32(&t.runState))
}

// SetState moves the task to the given run state.
func (t *Task) SetState(s RunState) {
	atomic.StoreInt32(&t.runState, int32(s))
}

// IsThreadGroupLeader reports whether the task leads its thread group.
func (t *Task) IsThreadGroupLeader() bool {
	return t.Tid == t.Tgid
}

// AddChild records a new child for wait4.
func (t *Task) AddChild(child Tid) {
	t.children = append(t.children, child)
}

// RemoveChild forgets a reaped child.
func (t *Task) RemoveChild(child Tid) {
	for i, c := range t.children {
		if c == child {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

// Children returns the task's children.
func (t *Task) Children() []Tid {
	return t.children
}
