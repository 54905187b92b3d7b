package goruntime

import (
	"testing"
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
)

func TestSysReserve(t *testing.T) {
	defer func() {
		earlyReserveRegionFn = vmm.EarlyReserveRegion
	}()
	var reserved bool

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqSize       uintptr
			expRegionSize uintptr
		}{
			// exact multiple of page size
			{100 << mm.PageShift, 100 << mm.PageShift},
			// size should be rounded up to nearest page size
			{2*mm.PageSize - 1, 2 * mm.PageSize},
		}

		for specIndex, spec := range specs {
			earlyReserveRegionFn = func(rsvSize uintptr) (uintptr, *kernel.Error) {
				// EarlyReserveRegion performs its own rounding.
				if rsvSize != spec.reqSize {
					t.Errorf("[spec %d] expected reservation request of %d; got %d", specIndex, spec.reqSize, rsvSize)
				}

				return 0xbadf000, nil
			}

			ptr := sysReserve(nil, spec.reqSize, &reserved)
			if uintptr(ptr) == 0 {
				t.Errorf("[spec %d] sysReserve returned 0", specIndex)
				continue
			}
		}
	})

	t.Run("fail", func(t *testing.T) {
		defer func() {
			if err := recover(); err == nil {
				t.Fatal("expected sysReserve to panic")
			}
		}()

		earlyReserveRegionFn = func(rsvSize uintptr) (uintptr, *kernel.Error) {
			return 0, &kernel.Error{Module: "test", Message: "consumed available address space"}
		}

		sysReserve(nil, uintptr(0xf00), &reserved)
	})
}

func TestSysMap(t *testing.T) {
	defer func() {
		kernelMapFn = vmm.KernelMap
	}()

	t.Run("success", func(t *testing.T) {
		var mapCallCount int
		kernelMapFn = func(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			if frame != vmm.ReservedZeroedFrame {
				t.Error("expected sysMap to map the reserved zero frame")
			}
			if flags&vmm.FlagCopyOnWrite == 0 {
				t.Error("expected sysMap to install copy-on-write mappings")
			}
			mapCallCount++
			return nil
		}

		var stat uint64
		ptr := sysMap(ptrAt(100<<mm.PageShift), 4*mm.PageSize, true, &stat)
		if uintptr(ptr) != 100<<mm.PageShift {
			t.Fatalf("expected sysMap to return the region start; got %x", uintptr(ptr))
		}
		if exp := 4; mapCallCount != exp {
			t.Fatalf("expected %d map calls; got %d", exp, mapCallCount)
		}
		if exp := uint64(4 * mm.PageSize); stat != exp {
			t.Fatalf("expected sysStat increase of %d; got %d", exp, stat)
		}
	})

	t.Run("map fails", func(t *testing.T) {
		kernelMapFn = func(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
			return &kernel.Error{Module: "test", Message: "map failed"}
		}

		var stat uint64
		if ptr := sysMap(ptrAt(100<<mm.PageShift), mm.PageSize, true, &stat); uintptr(ptr) != 0 {
			t.Fatal("expected sysMap to return 0 when mapping fails")
		}
	})
}

func TestSysAlloc(t *testing.T) {
	defer func() {
		earlyReserveRegionFn = vmm.EarlyReserveRegion
		kernelMapFn = vmm.KernelMap
		mm.SetFrameAllocator(nil)
	}()

	earlyReserveRegionFn = func(rsvSize uintptr) (uintptr, *kernel.Error) {
		return 200 << mm.PageShift, nil
	}

	nextFrame := mm.Frame(10)
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) {
		frame := nextFrame
		nextFrame++
		return frame, nil
	})

	var mappedFrames []mm.Frame
	kernelMapFn = func(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
		if flags&vmm.FlagRW == 0 {
			t.Error("expected sysAlloc mappings to be writable")
		}
		mappedFrames = append(mappedFrames, frame)
		return nil
	}

	var stat uint64
	ptr := sysAlloc(2*mm.PageSize, &stat)
	if uintptr(ptr) != 200<<mm.PageShift {
		t.Fatalf("expected region start %x; got %x", 200<<mm.PageShift, uintptr(ptr))
	}
	if exp := 2; len(mappedFrames) != exp {
		t.Fatalf("expected %d frames mapped; got %d", exp, len(mappedFrames))
	}
}

func TestGetRandomData(t *testing.T) {
	var buf [16]byte
	getRandomData(buf[:])

	var nonZero bool
	for _, b := range buf {
		if b != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatal("expected getRandomData to fill the buffer")
	}
}

func ptrAt(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
