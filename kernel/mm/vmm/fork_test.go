package vmm

import (
	"testing"

	"helios/kernel/mm"
)

// pokeByte writes a byte to a user address through the fault path the way
// a store instruction would: fault first when the page is missing or
// read-only, then write through the direct map.
func pokeByte(t *testing.T, space *AddressSpace, addr uintptr, val byte) {
	t.Helper()

	frame, flags, err := space.Translate(addr)
	if err != nil || !flags.hasWrite() {
		resolved, faultErr := space.HandleFault(addr, AccessWrite, true)
		if faultErr != nil || !resolved {
			t.Fatalf("write fault at %x failed: resolved=%t err=%v", addr, resolved, faultErr)
		}
		if frame, _, err = space.Translate(addr); err != nil {
			t.Fatal(err)
		}
	}
	*physByte(frame.Address() + PageOffset(addr)) = val
}

func peekByte(t *testing.T, space *AddressSpace, addr uintptr) byte {
	t.Helper()

	frame, _, err := space.Translate(addr)
	if err != nil {
		resolved, faultErr := space.HandleFault(addr, AccessRead, true)
		if faultErr != nil || !resolved {
			t.Fatalf("read fault at %x failed: resolved=%t err=%v", addr, resolved, faultErr)
		}
		if frame, _, err = space.Translate(addr); err != nil {
			t.Fatal(err)
		}
	}
	return *physByte(frame.Address() + PageOffset(addr))
}

func TestForkCopyOnWrite(t *testing.T) {
	env := newTestEnv(t, 128)
	parent := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := parent.Map(base, mm.PageSize*4, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	// Parent writes a distinct value into each of the four pages.
	for i := uintptr(0); i < 4; i++ {
		pokeByte(t, parent, base+i*mm.PageSize, byte(i+1))
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatal(err)
	}

	// After fork every writable private page must be read-only in both
	// spaces with a shared frame refcount of 2.
	for i := uintptr(0); i < 4; i++ {
		addr := base + i*mm.PageSize

		pFrame, pFlags, trErr := parent.Translate(addr)
		if trErr != nil {
			t.Fatal(trErr)
		}
		cFrame, cFlags, trErr := child.Translate(addr)
		if trErr != nil {
			t.Fatal(trErr)
		}

		if pFrame != cFrame {
			t.Fatalf("[page %d] expected parent and child to share a frame", i)
		}
		if pFlags.hasWrite() || cFlags.hasWrite() {
			t.Fatalf("[page %d] expected both mappings to be read-only after fork", i)
		}
		if exp, got := uint32(2), mm.RefCount(pFrame); exp != got {
			t.Fatalf("[page %d] expected refcount %d; got %d", i, exp, got)
		}
	}

	// Child writes page 2: it must get a private copy while the parent
	// keeps its values.
	childWriteAddr := base + 2*mm.PageSize
	pokeByte(t, child, childWriteAddr, 9)

	for i := uintptr(0); i < 4; i++ {
		if exp, got := byte(i+1), peekByte(t, parent, base+i*mm.PageSize); exp != got {
			t.Fatalf("[page %d] expected parent to read %d; got %d", i, exp, got)
		}
	}
	if exp, got := byte(9), peekByte(t, child, childWriteAddr); exp != got {
		t.Fatalf("expected child to read its own write %d; got %d", exp, got)
	}

	// The child's exit drops its references; a subsequent parent write
	// to page 3 must upgrade in place without allocating.
	child.Release()

	parentWriteAddr := base + 3*mm.PageSize
	frameBefore, _, trErr := parent.Translate(parentWriteAddr)
	if trErr != nil {
		t.Fatal(trErr)
	}
	if exp, got := uint32(1), mm.RefCount(frameBefore); exp != got {
		t.Fatalf("expected refcount to drop to %d after child exit; got %d", exp, got)
	}

	allocsBefore := env.allocCount
	pokeByte(t, parent, parentWriteAddr, 77)

	if env.allocCount != allocsBefore {
		t.Fatal("expected sole-owner CoW write to upgrade in place without allocating")
	}

	frameAfter, flags, trErr := parent.Translate(parentWriteAddr)
	if trErr != nil {
		t.Fatal(trErr)
	}
	if frameAfter != frameBefore {
		t.Fatal("expected in-place upgrade to keep the same frame")
	}
	if !flags.hasWrite() {
		t.Fatal("expected upgraded mapping to be writable")
	}
}

func TestCowCopyKeepsPTERefcountSumInvariant(t *testing.T) {
	env := newTestEnv(t, 128)
	parent := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := parent.Map(base, mm.PageSize, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}
	pokeByte(t, parent, base, 42)

	child, err := parent.Fork()
	if err != nil {
		t.Fatal(err)
	}

	sharedFrame, _, trErr := parent.Translate(base)
	if trErr != nil {
		t.Fatal(trErr)
	}

	// Parent writes while the frame is shared: a copy must be made and
	// the old frame's refcount decremented.
	pokeByte(t, parent, base, 43)

	newFrame, _, trErr := parent.Translate(base)
	if trErr != nil {
		t.Fatal(trErr)
	}
	if newFrame == sharedFrame {
		t.Fatal("expected shared CoW write to allocate a new frame")
	}
	if exp, got := uint32(1), mm.RefCount(sharedFrame); exp != got {
		t.Fatalf("expected old frame refcount %d; got %d", exp, got)
	}
	if exp, got := uint32(1), mm.RefCount(newFrame); exp != got {
		t.Fatalf("expected new frame refcount %d; got %d", exp, got)
	}

	// The child still reads the original value from the old frame.
	if exp, got := byte(42), peekByte(t, child, base); exp != got {
		t.Fatalf("expected child to keep reading %d; got %d", exp, got)
	}
}
