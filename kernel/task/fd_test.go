package task

import (
	"testing"

	"helios/kernel/errno"
)

func TestFDTableLifecycle(t *testing.T) {
	var ft FDTable

	r, w := NewPipe()

	rfd, errCode := ft.Install(r, 0)
	if errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	wfd, errCode := ft.Install(w, 0)
	if errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	if rfd == wfd {
		t.Fatal("expected distinct descriptors")
	}

	if _, errCode = ft.Get(rfd); errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}

	dupFD, errCode := ft.Dup(rfd)
	if errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	if dupFD == rfd {
		t.Fatal("expected dup to pick a fresh descriptor")
	}

	if errCode = ft.Close(rfd); errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	if _, errCode = ft.Get(rfd); errCode != errno.EBADF {
		t.Fatalf("expected EBADF after close; got %d", errCode)
	}

	// The dup still works after the original closed.
	if _, errCode = ft.Get(dupFD); errCode != 0 {
		t.Fatalf("expected dup to survive; got errno %d", errCode)
	}
}

func TestFDTableDup3(t *testing.T) {
	var ft FDTable

	r, w := NewPipe()
	rfd, _ := ft.Install(r, 0)
	wfd, _ := ft.Install(w, 0)

	if _, errCode := ft.Dup3(rfd, rfd); errCode != errno.EINVAL {
		t.Fatalf("expected EINVAL for equal descriptors; got %d", errCode)
	}

	got, errCode := ft.Dup3(rfd, wfd)
	if errCode != 0 || got != wfd {
		t.Fatalf("expected dup3 to land on %d; got %d (errno %d)", wfd, got, errCode)
	}
}

func TestPipeReadWrite(t *testing.T) {
	r, w := NewPipe()

	payload := []byte("through the pipe")
	n, errCode := w.Write(payload, 0)
	if errCode != 0 || n != len(payload) {
		t.Fatalf("expected full write; wrote %d (errno %d)", n, errCode)
	}

	buf := make([]byte, 64)
	n, errCode = r.Read(buf, 0)
	if errCode != 0 || n != len(payload) {
		t.Fatalf("expected full read; read %d (errno %d)", n, errCode)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("expected %q; got %q", payload, buf[:n])
	}

	// Empty pipe with a live writer: EAGAIN so the caller can park.
	if _, errCode = r.Read(buf, 0); errCode != errno.EAGAIN {
		t.Fatalf("expected EAGAIN on empty pipe; got %d", errCode)
	}

	// Writer closes: EOF.
	w.Close()
	if n, errCode = r.Read(buf, 0); errCode != 0 || n != 0 {
		t.Fatalf("expected EOF after writer close; got %d (errno %d)", n, errCode)
	}
}

func TestPipeWriteAfterReaderClose(t *testing.T) {
	r, w := NewPipe()
	r.Close()

	if _, errCode := w.Write([]byte("x"), 0); errCode != errno.EPIPE {
		t.Fatalf("expected EPIPE; got %d", errCode)
	}
}

func TestPipeFillDrain(t *testing.T) {
	r, w := NewPipe()

	big := make([]byte, pipeBufSize+100)
	n, errCode := w.Write(big, 0)
	if errCode != 0 || n != pipeBufSize {
		t.Fatalf("expected write to fill the pipe (%d); wrote %d (errno %d)", pipeBufSize, n, errCode)
	}

	// Full pipe: nothing fits.
	if _, errCode = w.Write([]byte("x"), 0); errCode != errno.EAGAIN {
		t.Fatalf("expected EAGAIN on full pipe; got %d", errCode)
	}

	buf := make([]byte, pipeBufSize)
	if n, errCode = r.Read(buf, 0); errCode != 0 || n != pipeBufSize {
		t.Fatalf("expected full drain; read %d (errno %d)", n, errCode)
	}
}

func TestTidTable(t *testing.T) {
	defer func() {
		tidTable.lock.Acquire()
		tidTable.tasks = nil
		tidTable.nextTid = 1
		tidTable.lock.Release()
	}()

	leader := &Task{}
	leaderTid := Register(leader)
	if leader.Tgid != leaderTid {
		t.Fatalf("expected leader tgid %d; got %d", leaderTid, leader.Tgid)
	}

	thread := &Task{Tgid: leaderTid}
	threadTid := Register(thread)
	if thread.Tgid != leaderTid {
		t.Fatal("expected thread to keep the leader's tgid")
	}

	got, errCode := Lookup(threadTid)
	if errCode != 0 || got != thread {
		t.Fatalf("expected lookup to return the thread; errno %d", errCode)
	}

	Unregister(threadTid)
	if _, errCode = Lookup(threadTid); errCode != errno.ESRCH {
		t.Fatalf("expected ESRCH after unregister; got %d", errCode)
	}
}
