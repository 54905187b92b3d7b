package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/hal"
	"helios/kernel/task"
)

// consoleFile adapts the active console device to the descriptor
// interface so init starts with working standard descriptors.
type consoleFile struct{}

// Read polls the console for input bytes; it never blocks past the first
// byte.
func (consoleFile) Read(buf []byte, _ int64) (int, errno.Errno) {
	cons := hal.ActiveConsole()
	if cons == nil {
		return 0, errno.EIO
	}

	n := 0
	for n < len(buf) {
		b, ok := cons.ReadByte()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}

	if n == 0 {
		return 0, errno.EAGAIN
	}
	return n, 0
}

// Write sends the buffer to the console device.
func (consoleFile) Write(buf []byte, _ int64) (int, errno.Errno) {
	cons := hal.ActiveConsole()
	if cons == nil {
		return 0, errno.EIO
	}

	n, err := cons.Write(buf)
	if err != nil {
		return n, errno.EIO
	}
	return n, 0
}

// Close is a no-op; the console outlives descriptors.
func (consoleFile) Close() errno.Errno { return 0 }

// NewConsoleFDs builds a descriptor table with the console on descriptors
// 0, 1 and 2, the way the first user task expects.
func NewConsoleFDs() *task.FDTable {
	ft := &task.FDTable{}
	for fd := 0; fd <= 2; fd++ {
		ft.InstallAt(fd, consoleFile{}, 0)
	}
	return ft
}
