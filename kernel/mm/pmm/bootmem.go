package pmm

import (
	"helios/kernel"
	"helios/kernel/kfmt"
	"helios/kernel/mm"
)

var errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}

// bootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator implementation uses the memory region information discovered
// at boot to detect free memory blocks and return the next available free
// frame. Allocations are tracked via an internal counter that contains the
// last allocated frame.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages. Once the kernel is properly initialized, the remaining
// free blocks are handed over to the buddy allocator which does support
// freeing.
type bootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame

	// the free regions reported at boot.
	regions []Range

	// Keep track of kernel location so we exclude this region.
	kernelStartFrame, kernelEndFrame mm.Frame
}

// init sets up the boot memory allocator internal state.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr, regions []Range) {
	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	pageSizeMinus1 := uintptr(mm.PageSize - 1)
	alloc.regions = regions
	alloc.kernelStartFrame = mm.Frame((kernelStart & ^pageSizeMinus1) >> mm.PageShift)
	alloc.kernelEndFrame = mm.Frame(((kernelEnd+pageSizeMinus1) & ^pageSizeMinus1)>>mm.PageShift) - 1
}

// AllocFrame scans the free memory regions and reserves the next available
// free frame, skipping over the kernel image.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for _, region := range alloc.regions {
		if region.Size < uintptr(mm.PageSize) {
			continue
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		pageSizeMinus1 := uintptr(mm.PageSize - 1)
		regionStartFrame := mm.Frame(((region.Start + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.Start+region.Size) & ^pageSizeMinus1)>>mm.PageShift) - 1

		next := alloc.lastAllocFrame + 1
		if alloc.allocCount == 0 || next < regionStartFrame {
			next = regionStartFrame
		}

		// Skip over the kernel image.
		if next >= alloc.kernelStartFrame && next <= alloc.kernelEndFrame {
			next = alloc.kernelEndFrame + 1
		}

		if next > regionEndFrame {
			continue
		}

		alloc.lastAllocFrame = next
		alloc.allocCount++
		return next, nil
	}

	return mm.InvalidFrame, errBootAllocOutOfMemory
}

// printMemoryMap prints out the system memory map discovered at boot.
func (alloc *bootMemAllocator) printMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree uintptr
	for _, region := range alloc.regions {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d\n", region.Start, region.Start+region.Size, region.Size)
		totalFree += region.Size
	}
	kfmt.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/1024))
}
