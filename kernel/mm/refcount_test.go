package mm

import (
	"testing"

	"helios/kernel"
)

func TestRefCountLifecycle(t *testing.T) {
	defer func() {
		InitRefCounts(nil)
		SetFrameAllocator(nil)
		SetFrameFreer(nil)
	}()

	InitRefCounts(make([]uint32, 16))

	var freedFrames []Frame
	SetFrameAllocator(func() (Frame, *kernel.Error) { return Frame(3), nil })
	SetFrameFreer(func(f Frame) *kernel.Error {
		freedFrames = append(freedFrames, f)
		return nil
	})

	frame, err := AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := uint32(1), RefCount(frame); exp != got {
		t.Fatalf("expected fresh frame refcount to be %d; got %d", exp, got)
	}

	if err := IncRef(frame); err != nil {
		t.Fatal(err)
	}

	if remaining, err := DecRef(frame); err != nil || remaining != 1 {
		t.Fatalf("expected first DecRef to leave refcount 1; got %d (err %v)", remaining, err)
	}

	if len(freedFrames) != 0 {
		t.Fatal("expected frame not to be freed while references remain")
	}

	if remaining, err := DecRef(frame); err != nil || remaining != 0 {
		t.Fatalf("expected last DecRef to leave refcount 0; got %d (err %v)", remaining, err)
	}

	if exp, got := 1, len(freedFrames); exp != got {
		t.Fatalf("expected the last DecRef to release the frame; %d frames freed", got)
	}

	if _, err := DecRef(frame); err != errRefUnderflow {
		t.Fatalf("expected refcount underflow error; got %v", err)
	}
}

func TestRefCountOutOfRange(t *testing.T) {
	defer InitRefCounts(nil)
	InitRefCounts(make([]uint32, 4))

	if err := IncRef(Frame(100)); err != errFrameOutOfRange {
		t.Fatalf("expected out-of-range error; got %v", err)
	}

	if _, err := DecRef(Frame(100)); err != errFrameOutOfRange {
		t.Fatalf("expected out-of-range error; got %v", err)
	}

	if got := RefCount(Frame(100)); got != 0 {
		t.Fatalf("expected out-of-range refcount to read 0; got %d", got)
	}
}
