package task

import (
	"helios/kernel/errno"
	"helios/kernel/sync"
)

// table is the central tid registry. Cyclic relationships (parent and
// child, hart and task) are expressed as tids looked up here; only the
// table owns Task structures.
type table struct {
	lock sync.IrqSpinlock

	tasks   map[Tid]*Task
	nextTid Tid
}

var tidTable = table{nextTid: 1}

// Register assigns the next free tid, records the task and returns the
// tid.
func Register(t *Task) Tid {
	tidTable.lock.Acquire()
	defer tidTable.lock.Release()

	if tidTable.tasks == nil {
		tidTable.tasks = make(map[Tid]*Task)
	}

	for {
		tid := tidTable.nextTid
		tidTable.nextTid++
		if tidTable.nextTid == 0 {
			tidTable.nextTid = 1
		}
		if _, taken := tidTable.tasks[tid]; taken {
			continue
		}

		t.Tid = tid
		if t.Tgid == 0 {
			t.Tgid = tid
		}
		tidTable.tasks[tid] = t
		return tid
	}
}

// Lookup returns the task with the given tid.
func Lookup(tid Tid) (*Task, errno.Errno) {
	tidTable.lock.Acquire()
	t := tidTable.tasks[tid]
	tidTable.lock.Release()

	if t == nil {
		return nil, errno.ESRCH
	}
	return t, 0
}

// Unregister drops a reaped task from the table; its tid becomes reusable.
func Unregister(tid Tid) {
	tidTable.lock.Acquire()
	delete(tidTable.tasks, tid)
	tidTable.lock.Release()
}

// ForEach invokes fn for every registered task until fn returns false.
func ForEach(fn func(*Task) bool) {
	tidTable.lock.Acquire()
	defer tidTable.lock.Release()

	for _, t := range tidTable.tasks {
		if !fn(t) {
			return
		}
	}
}

// ThreadGroup invokes fn for every task in the given thread group.
func ThreadGroup(tgid Tid, fn func(*Task)) {
	tidTable.lock.Acquire()
	defer tidTable.lock.Release()

	for _, t := range tidTable.tasks {
		if t.Tgid == tgid {
			fn(t)
		}
	}
}
