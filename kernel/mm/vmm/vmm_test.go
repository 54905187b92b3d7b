package vmm

import (
	"testing"
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
)

// testEnv provides fake physical memory for exercising page tables and the
// fault path on a host build: frames are carved from a heap buffer reached
// through the direct-map window and handed out sequentially.
type testEnv struct {
	nextFrame   mm.Frame
	limitFrame  mm.Frame
	allocCount  int
	freedFrames []mm.Frame
}

func newTestEnv(t *testing.T, frameCount int) *testEnv {
	t.Helper()

	buf := make([]byte, (frameCount+1)*int(mm.PageSize))
	base := (uintptr(unsafe.Pointer(&buf[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	// Direct-map offset: phys addr 0 aliases the buffer start, so frame
	// numbers stay small and translate inside the buffer.
	mm.SetDirectMapOffset(base)
	mm.InitRefCounts(make([]uint32, frameCount))

	env := &testEnv{limitFrame: mm.Frame(frameCount)}
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		if env.nextFrame >= env.limitFrame {
			return mm.InvalidFrame, &kernel.Error{Module: "test", Message: "out of fake frames"}
		}
		frame := env.nextFrame
		env.nextFrame++
		env.allocCount++
		return frame, nil
	})
	mm.SetFrameFreer(func(frame mm.Frame) *kernel.Error {
		env.freedFrames = append(env.freedFrames, frame)
		return nil
	})

	origFlushFn, origFlushAllFn := flushTLBEntryFn, flushTLBAllFn
	origSendIPIFn, origHartIDFn := sendIPIFn, hartIDFn
	flushTLBEntryFn = func(uintptr) {}
	flushTLBAllFn = func() {}
	sendIPIFn = func(uintptr) {}
	hartIDFn = func() uint32 { return 0 }

	t.Cleanup(func() {
		mm.SetDirectMapOffset(0)
		mm.InitRefCounts(nil)
		mm.SetFrameAllocator(nil)
		mm.SetFrameFreer(nil)
		flushTLBEntryFn = origFlushFn
		flushTLBAllFn = origFlushAllFn
		sendIPIFn = origSendIPIFn
		hartIDFn = origHartIDFn
		ReservedZeroedFrame = 0
		protectReservedZeroedPage = false
	})

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	return env
}

func newTestSpace(t *testing.T, env *testEnv) *AddressSpace {
	t.Helper()

	space, err := NewAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	return space
}

const testUserProt = ProtRead | ProtWrite | ProtUser

func TestTableMapTranslateUnmapRoundTrip(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	page := mm.PageFromAddress(0x40000000)
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if err = space.table.Map(page, frame, protFlags(testUserProt, false)); err != nil {
		t.Fatal(err)
	}

	gotFrame, gotFlags, err := space.table.Translate(page)
	if err != nil {
		t.Fatal(err)
	}
	if gotFrame != frame {
		t.Fatalf("expected translate to return frame %d; got %d", frame, gotFrame)
	}
	if !gotFlags.hasWrite() {
		t.Fatal("expected writable mapping")
	}

	unmappedFrame, err := space.table.Unmap(page)
	if err != nil {
		t.Fatal(err)
	}
	if unmappedFrame != frame {
		t.Fatalf("expected unmap to return frame %d; got %d", frame, unmappedFrame)
	}

	if _, _, err = space.table.Translate(page); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping after unmap; got %v", err)
	}
}

func TestTableRejectsRWMappingOfZeroFrame(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	page := mm.PageFromAddress(0x40000000)
	if err := space.table.Map(page, ReservedZeroedFrame, FlagPresent|FlagRW); err != errAttemptToRWMapReservedFrame {
		t.Fatalf("expected RW zero-frame mapping to be rejected; got %v", err)
	}
}

func TestDemandPagingAllocatesLazily(t *testing.T) {
	env := newTestEnv(t, 512)
	space := newTestSpace(t, env)

	// A large anonymous mapping must not allocate any frames up front.
	const mapBase = uintptr(0x10000000)
	const mapLen = uintptr(0x10000000) // 256Mb
	allocsBeforeMap := env.allocCount
	if err := space.Map(mapBase, mapLen, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}
	if env.allocCount != allocsBeforeMap {
		t.Fatalf("expected a lazy mapping to allocate nothing up front; got %d frames", env.allocCount-allocsBeforeMap)
	}

	// Read fault at the first byte: resolves to the shared zero frame.
	// The walk may allocate intermediate page-table frames but no data
	// frame.
	resolved, err := space.HandleFault(mapBase, AccessRead, true)
	if err != nil || !resolved {
		t.Fatalf("expected read fault to resolve; got resolved=%t err=%v", resolved, err)
	}

	frame, _, err := space.Translate(mapBase)
	if err != nil {
		t.Fatal(err)
	}
	if frame != ReservedZeroedFrame {
		t.Fatalf("expected read fault to map the shared zero frame; got frame %d", frame)
	}

	// A second read fault in the same table subtree allocates nothing at
	// all: the tables exist and the data frame is shared.
	allocsBefore := env.allocCount
	if resolved, err = space.HandleFault(mapBase+mm.PageSize, AccessRead, true); err != nil || !resolved {
		t.Fatalf("expected read fault to resolve; got resolved=%t err=%v", resolved, err)
	}
	if env.allocCount != allocsBefore {
		t.Fatalf("expected no allocation for the second read fault; got %d", env.allocCount-allocsBefore)
	}

	// Write fault half-way in: exactly one data frame plus at most the
	// intermediate tables for that subtree.
	writeAddr := mapBase + mapLen/2
	if resolved, err = space.HandleFault(writeAddr, AccessWrite, true); err != nil || !resolved {
		t.Fatalf("expected write fault to resolve; got resolved=%t err=%v", resolved, err)
	}

	vma := space.FindVMA(writeAddr)
	if vma == nil {
		t.Fatal("expected a VMA to cover the write address")
	}
	if exp, got := PageAnonymous, vma.PageState(mm.PageFromAddress(writeAddr)); exp != got {
		t.Fatalf("expected page state %d; got %d", exp, got)
	}

	writeFrame, _, err := space.Translate(writeAddr)
	if err != nil {
		t.Fatal(err)
	}
	if writeFrame == ReservedZeroedFrame {
		t.Fatal("expected the write fault to break away from the zero frame")
	}
	if exp, got := uint32(1), mm.RefCount(writeFrame); exp != got {
		t.Fatalf("expected fresh data frame refcount %d; got %d", exp, got)
	}

}

func TestMmapMunmapLeavesVMASetUnchanged(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	if err := space.Map(0x10000000, mm.PageSize*4, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	before := len(space.vmas.areas)

	const tmpBase = uintptr(0x20000000)
	if err := space.Map(tmpBase, mm.PageSize*8, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}
	if resolved, err := space.HandleFault(tmpBase, AccessWrite, true); err != nil || !resolved {
		t.Fatalf("fault failed: resolved=%t err=%v", resolved, err)
	}
	if err := space.Unmap(tmpBase, mm.PageSize*8); err != nil {
		t.Fatal(err)
	}

	if got := len(space.vmas.areas); got != before {
		t.Fatalf("expected VMA count to return to %d after munmap; got %d", before, got)
	}
	if space.FindVMA(tmpBase) != nil {
		t.Fatal("expected unmapped range to have no covering VMA")
	}
}

func TestVMASplitAndMergeOnProtect(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := space.Map(base, mm.PageSize*4, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	// Protecting the middle two pages splits the area in three.
	if err := space.Protect(base+mm.PageSize, mm.PageSize*2, ProtRead|ProtUser); err != nil {
		t.Fatal(err)
	}
	if exp, got := 3, len(space.vmas.areas); exp != got {
		t.Fatalf("expected %d areas after split; got %d", exp, got)
	}

	// Restoring the protection merges them back into one.
	if err := space.Protect(base+mm.PageSize, mm.PageSize*2, testUserProt); err != nil {
		t.Fatal(err)
	}
	if exp, got := 1, len(space.vmas.areas); exp != got {
		t.Fatalf("expected %d area after merge; got %d", exp, got)
	}
}
