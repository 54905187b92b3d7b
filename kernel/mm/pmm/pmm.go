// Package pmm implements the physical side of the memory subsystem: a boot
// allocator used while the kernel bootstraps, the buddy allocator that
// serves all later frame traffic and slab caches for fixed-size kernel
// objects.
package pmm

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
)

// Range describes a contiguous region of usable physical memory discovered
// at boot.
type Range struct {
	Start uintptr
	Size  uintptr
}

var (
	// bootMemAlloc is the page allocator used while the kernel boots. It
	// is used to bootstrap the buddy allocator which serves all page
	// allocations while the kernel runs.
	bootMemAlloc bootMemAllocator

	// allocator is the buddy allocator shared by the whole kernel.
	allocator buddyAllocator
)

// Init sets up the kernel physical memory allocation sub-system: it seeds
// the boot allocator with the discovered regions, carves the frame
// reference-count table and buddy metadata out of boot memory and hands
// everything that remains to the buddy allocator.
func Init(kernelStart, kernelEnd uintptr, regions []Range) *kernel.Error {
	bootMemAlloc.init(kernelStart, kernelEnd, regions)
	bootMemAlloc.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	var maxFrame mm.Frame
	for _, region := range regions {
		if end := mm.FrameFromAddress(region.Start+region.Size-1) + 1; end > maxFrame {
			maxFrame = end
		}
	}

	// Reference counts: one uint32 per frame up to the highest PFN.
	refTable, err := bootArray(uintptr(maxFrame) * 4)
	if err != nil {
		return err
	}
	mm.InitRefCounts(unsafe.Slice((*uint32)(refTable), maxFrame))

	// Buddy block states: one byte per frame.
	stateTable, err := bootArray(uintptr(maxFrame))
	if err != nil {
		return err
	}
	allocator.init(0, maxFrame, unsafe.Slice((*uint8)(stateTable), maxFrame))

	// Hand every frame that neither the kernel image nor the boot
	// allocator claimed over to the buddy.
	seedBuddy(regions)

	mm.SetFrameAllocator(buddyAllocFrame)
	mm.SetFrameFreer(buddyFreeFrame)
	return nil
}

// bootArray allocates size bytes of zeroed boot memory and returns its
// direct-map address.
func bootArray(size uintptr) (unsafe.Pointer, *kernel.Error) {
	frameCount := (size + mm.PageSize - 1) >> mm.PageShift

	var first mm.Frame
	for i := uintptr(0); i < frameCount; i++ {
		frame, err := bootMemAlloc.AllocFrame()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			first = frame
		} else if frame != first+mm.Frame(i) {
			// Boot allocations are sequential within a region; a
			// discontinuity means the region ended mid-array.
			return nil, errBootAllocOutOfMemory
		}
		kernel.Memset(mm.PhysToVirt(frame.Address()), 0, mm.PageSize)
	}

	return unsafe.Pointer(mm.PhysToVirt(first.Address())), nil
}

// seedBuddy frees every remaining unallocated frame into the buddy.
func seedBuddy(regions []Range) {
	pageSizeMinus1 := uintptr(mm.PageSize - 1)
	for _, region := range regions {
		start := mm.Frame(((region.Start + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		end := mm.Frame(((region.Start+region.Size) & ^pageSizeMinus1) >> mm.PageShift)

		for frame := start; frame < end; frame++ {
			if frame >= bootMemAlloc.kernelStartFrame && frame <= bootMemAlloc.kernelEndFrame {
				continue
			}
			if bootMemAlloc.allocCount > 0 && frame <= bootMemAlloc.lastAllocFrame {
				continue
			}
			_ = allocator.Free(frame, 0)
		}
	}
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootMemAlloc.AllocFrame()
}

func buddyAllocFrame() (mm.Frame, *kernel.Error) {
	return allocator.Alloc(0)
}

func buddyFreeFrame(frame mm.Frame) *kernel.Error {
	return allocator.Free(frame, 0)
}

// AllocOrder reserves a naturally aligned span of 1<<order frames from the
// buddy allocator.
func AllocOrder(order int) (mm.Frame, *kernel.Error) {
	return allocator.Alloc(order)
}

// FreeOrder returns a span previously obtained from AllocOrder.
func FreeOrder(frame mm.Frame, order int) *kernel.Error {
	return allocator.Free(frame, order)
}
