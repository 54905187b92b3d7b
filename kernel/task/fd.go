package task

import (
	"helios/kernel/errno"
	"helios/kernel/sync"
)

// File is the interface the task layer consumes for open descriptions.
// The VFS owns regular-file implementations; pipes and the console are
// provided in-kernel. Read and Write return EAGAIN when they would block;
// the syscall layer parks on the wait queues that pipe ends expose.
type File interface {
	Read(buf []byte, offset int64) (int, errno.Errno)
	Write(buf []byte, offset int64) (int, errno.Errno)
	Close() errno.Errno
}

// Seeker is implemented by files with a position.
type Seeker interface {
	Size() int64
}

// fdMax bounds the descriptor table.
const fdMax = 256

type fdEntry struct {
	file   File
	offset int64
	flags  uint32
}

// FDTable maps small integers to open files. Threads share one table;
// fork copies it.
type FDTable struct {
	lock sync.IrqSpinlock

	entries [fdMax]*fdEntry
}

// Install places a file at the lowest free descriptor.
func (ft *FDTable) Install(f File, flags uint32) (int, errno.Errno) {
	ft.lock.Acquire()
	defer ft.lock.Release()

	for fd := 0; fd < fdMax; fd++ {
		if ft.entries[fd] == nil {
			ft.entries[fd] = &fdEntry{file: f, flags: flags}
			return fd, 0
		}
	}
	return -1, errno.EMFILE
}

// InstallAt places a file at a specific descriptor, closing any previous
// occupant.
func (ft *FDTable) InstallAt(fd int, f File, flags uint32) errno.Errno {
	if fd < 0 || fd >= fdMax {
		return errno.EBADF
	}

	ft.lock.Acquire()
	prev := ft.entries[fd]
	ft.entries[fd] = &fdEntry{file: f, flags: flags}
	ft.lock.Release()

	if prev != nil {
		prev.file.Close()
	}
	return 0
}

// Get returns the file behind a descriptor.
func (ft *FDTable) Get(fd int) (File, errno.Errno) {
	if fd < 0 || fd >= fdMax {
		return nil, errno.EBADF
	}

	ft.lock.Acquire()
	entry := ft.entries[fd]
	ft.lock.Release()

	if entry == nil {
		return nil, errno.EBADF
	}
	return entry.file, 0
}

// Offset returns the descriptor's file position.
func (ft *FDTable) Offset(fd int) (int64, errno.Errno) {
	if fd < 0 || fd >= fdMax {
		return 0, errno.EBADF
	}

	ft.lock.Acquire()
	defer ft.lock.Release()

	entry := ft.entries[fd]
	if entry == nil {
		return 0, errno.EBADF
	}
	return entry.offset, 0
}

// Seek applies an lseek to the descriptor.
func (ft *FDTable) Seek(fd int, offset int64, whence int) (int64, errno.Errno) {
	if fd < 0 || fd >= fdMax {
		return 0, errno.EBADF
	}

	ft.lock.Acquire()
	defer ft.lock.Release()

	entry := ft.entries[fd]
	if entry == nil {
		return 0, errno.EBADF
	}

	// Files without a position (pipes, the console) cannot seek.
	seeker, ok := entry.file.(Seeker)
	if !ok {
		return 0, errno.ESPIPE
	}

	var base int64
	switch whence {
	case 0: // SEEK_SET
		base = 0
	case 1: // SEEK_CUR
		base = entry.offset
	case 2: // SEEK_END
		base = seeker.Size()
	default:
		return 0, errno.EINVAL
	}

	pos := base + offset
	if pos < 0 {
		return 0, errno.EINVAL
	}
	entry.offset = pos
	return pos, 0
}

// AdvanceOffset moves the descriptor position after a read or write.
func (ft *FDTable) AdvanceOffset(fd int, delta int64) {
	ft.lock.Acquire()
	if entry := ft.entries[fd]; entry != nil {
		entry.offset += delta
	}
	ft.lock.Release()
}

// Close drops a descriptor.
func (ft *FDTable) Close(fd int) errno.Errno {
	if fd < 0 || fd >= fdMax {
		return errno.EBADF
	}

	ft.lock.Acquire()
	entry := ft.entries[fd]
	ft.entries[fd] = nil
	ft.lock.Release()

	if entry == nil {
		return errno.EBADF
	}
	return entry.file.Close()
}

// Dup duplicates oldFD at the lowest free descriptor.
func (ft *FDTable) Dup(oldFD int) (int, errno.Errno) {
	if oldFD < 0 || oldFD >= fdMax {
		return -1, errno.EBADF
	}

	ft.lock.Acquire()
	defer ft.lock.Release()

	old := ft.entries[oldFD]
	if old == nil {
		return -1, errno.EBADF
	}

	for fd := 0; fd < fdMax; fd++ {
		if ft.entries[fd] == nil {
			cp := *old
			ft.entries[fd] = &cp
			return fd, 0
		}
	}
	return -1, errno.EMFILE
}

// Dup3 duplicates oldFD at newFD, closing any previous occupant.
func (ft *FDTable) Dup3(oldFD, newFD int) (int, errno.Errno) {
	if oldFD < 0 || oldFD >= fdMax || newFD < 0 || newFD >= fdMax {
		return -1, errno.EBADF
	}
	if oldFD == newFD {
		return -1, errno.EINVAL
	}

	ft.lock.Acquire()
	old := ft.entries[oldFD]
	if old == nil {
		ft.lock.Release()
		return -1, errno.EBADF
	}
	prev := ft.entries[newFD]
	cp := *old
	ft.entries[newFD] = &cp
	ft.lock.Release()

	if prev != nil {
		prev.file.Close()
	}
	return newFD, 0
}

// Fork copies the table for a new process; every open file gains a
// reference through the copy.
func (ft *FDTable) Fork() *FDTable {
	cp := &FDTable{}

	ft.lock.Acquire()
	for fd, entry := range ft.entries {
		if entry != nil {
			e := *entry
			cp.entries[fd] = &e
		}
	}
	ft.lock.Release()

	return cp
}

// CloseAll releases every descriptor; called on exit.
func (ft *FDTable) CloseAll() {
	ft.lock.Acquire()
	entries := ft.entries
	for fd := range ft.entries {
		ft.entries[fd] = nil
	}
	ft.lock.Release()

	for _, entry := range entries {
		if entry != nil {
			entry.file.Close()
		}
	}
}
