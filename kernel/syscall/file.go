package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/task"
)

// ioChunkMax bounds the per-iteration kernel bounce buffer for read and
// write.
const ioChunkMax = 4096

// RootFS is the interface to the externally owned VFS: path resolution for
// openat and the backing for regular-file descriptors.
type RootFS interface {
	Open(path string, flags uint32, mode uint32) (task.File, errno.Errno)
}

var rootFS RootFS

// SetRootFS registers the mounted root filesystem.
func SetRootFS(fs RootFS) { rootFS = fs }

// sysReadImpl implements read.
//
// Errors: EBADF for a bad descriptor; EFAULT when the buffer is not
// writable user memory; EINTR when a signal interrupts a blocked read
// without SA_RESTART.
func sysReadImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fd, buf, count := int(args[0]), args[1], args[2]

	f, errCode := t.FDs.Get(fd)
	if errCode != 0 {
		return 0, errCode
	}

	if count > ioChunkMax {
		count = ioChunkMax
	}
	kbuf := make([]byte, count)

	offset, _ := t.FDs.Offset(fd)
	n, errCode := f.Read(kbuf, offset)

	if errCode == errno.EAGAIN {
		// Blocked: park on the file's wait queue when it has one.
		if r, ok := f.(*task.PipeReader); ok {
			r.ReadQueue().Prepare()
			if n, errCode = f.Read(kbuf, offset); errCode == errno.EAGAIN {
				t.ContState.Kind = task.OnPipe
				t.ContState.FD = fd
				t.ContState.Buf = buf
				t.ContState.Len = count
				t.ContState.Restartable = true
				r.ReadQueue().Park(t.Cont)
				return 0, errParked
			}
			r.ReadQueue().Abort()
		}
	}
	if errCode != 0 {
		return 0, errCode
	}

	if n > 0 {
		if copyErr := t.Space.CopyToUser(buf, kbuf[:n]); copyErr != 0 {
			return 0, copyErr
		}
		t.FDs.AdvanceOffset(fd, int64(n))
	}
	return uintptr(n), 0
}

// sysWriteImpl implements write.
//
// Errors: EBADF for a bad descriptor; EFAULT when the buffer is not
// readable user memory; EPIPE (plus SIGPIPE) for a broken pipe.
func sysWriteImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fd, buf, count := int(args[0]), args[1], args[2]

	f, errCode := t.FDs.Get(fd)
	if errCode != 0 {
		return 0, errCode
	}

	if count > ioChunkMax {
		count = ioChunkMax
	}
	kbuf := make([]byte, count)
	if copyErr := t.Space.CopyFromUser(kbuf, buf); copyErr != 0 {
		return 0, copyErr
	}

	offset, _ := t.FDs.Offset(fd)
	n, errCode := f.Write(kbuf, offset)

	if errCode == errno.EPIPE {
		postSignal(t, task.SIGPIPE)
		return 0, errCode
	}
	if errCode == errno.EAGAIN {
		if w, ok := f.(*task.PipeWriter); ok {
			w.WriteQueue().Prepare()
			if n, errCode = f.Write(kbuf, offset); errCode == errno.EAGAIN {
				t.ContState.Kind = task.OnPipe
				t.ContState.FD = fd
				t.ContState.Buf = buf
				t.ContState.Len = count
				t.ContState.Restartable = true
				w.WriteQueue().Park(t.Cont)
				return 0, errParked
			}
			w.WriteQueue().Abort()
		}
	}
	if errCode != 0 {
		return 0, errCode
	}

	t.FDs.AdvanceOffset(fd, int64(n))
	return uintptr(n), 0
}

// sysOpenatImpl implements openat through the mounted root filesystem.
//
// Errors: ENOSYS before a root is mounted; ENOENT, EACCES and friends from
// the filesystem; EFAULT for a bad path pointer; EMFILE when the table is
// full.
func sysOpenatImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	pathPtr, flags, mode := args[1], uint32(args[2]), uint32(args[3])

	if rootFS == nil {
		return 0, errno.ENOSYS
	}

	path, errCode := copyUserString(t, pathPtr)
	if errCode != 0 {
		return 0, errCode
	}

	f, errCode := rootFS.Open(path, flags, mode)
	if errCode != 0 {
		return 0, errCode
	}

	fd, errCode := t.FDs.Install(f, flags)
	if errCode != 0 {
		f.Close()
		return 0, errCode
	}
	return uintptr(fd), 0
}

// sysCloseImpl implements close.
func sysCloseImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	return 0, t.FDs.Close(int(args[0]))
}

// sysPipe2Impl implements pipe2: two fresh descriptors for the ends of a
// new pipe are written to the user array.
//
// Errors: EFAULT for a bad result pointer; EMFILE when the table is full.
func sysPipe2Impl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fdsPtr := args[0]

	r, w := task.NewPipe()

	rfd, errCode := t.FDs.Install(r, 0)
	if errCode != 0 {
		return 0, errCode
	}
	wfd, errCode := t.FDs.Install(w, 0)
	if errCode != 0 {
		t.FDs.Close(rfd)
		return 0, errCode
	}

	var out [8]byte
	encodeU32(out[0:4], uint32(rfd))
	encodeU32(out[4:8], uint32(wfd))
	if copyErr := t.Space.CopyToUser(fdsPtr, out[:]); copyErr != 0 {
		t.FDs.Close(rfd)
		t.FDs.Close(wfd)
		return 0, copyErr
	}

	return 0, 0
}

// sysDupImpl implements dup.
func sysDupImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fd, errCode := t.FDs.Dup(int(args[0]))
	return uintptr(fd), errCode
}

// sysDup3Impl implements dup3.
func sysDup3Impl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fd, errCode := t.FDs.Dup3(int(args[0]), int(args[1]))
	return uintptr(fd), errCode
}

// sysLseekImpl implements lseek.
//
// Errors: EBADF, EINVAL for a bad whence or negative result, ESPIPE for
// pipes.
func sysLseekImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	pos, errCode := t.FDs.Seek(int(args[0]), int64(args[1]), int(args[2]))
	return uintptr(pos), errCode
}

// fstat field layout: a minimal struct stat with the size field the tests
// and libc startup care about.
const statSize = 128
const statSizeOffset = 48

// sysFstatImpl implements fstat for sized files; other descriptors report
// zero sizes.
func sysFstatImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	fd, statPtr := int(args[0]), args[1]

	f, errCode := t.FDs.Get(fd)
	if errCode != 0 {
		return 0, errCode
	}

	var stat [statSize]byte
	if seeker, ok := f.(task.Seeker); ok {
		size := uint64(seeker.Size())
		for i := 0; i < 8; i++ {
			stat[statSizeOffset+i] = byte(size >> (8 * i))
		}
	}

	if copyErr := t.Space.CopyToUser(statPtr, stat[:]); copyErr != 0 {
		return 0, copyErr
	}
	return 0, 0
}

// copyUserString reads a NUL-terminated string from user memory, bounded
// at one page.
func copyUserString(t *task.Task, ptr uintptr) (string, errno.Errno) {
	var out []byte
	var buf [64]byte

	for len(out) < 4096 {
		if errCode := t.Space.CopyFromUser(buf[:], ptr+uintptr(len(out))); errCode != 0 {
			return "", errCode
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), 0
			}
			out = append(out, b)
		}
	}
	return "", errno.EINVAL
}
