package vmm

import (
	"helios/kernel"
	"helios/kernel/mm"
)

var (
	// kernelTable is the page table shared by the kernel high-half of
	// every address space. Boot code hands it over before Init runs.
	kernelTable PageTable

	// kernelTableSet records whether a kernel table was handed over;
	// address spaces only inherit the high half when one exists.
	kernelTableSet bool

	// earlyReserveLastUsed tracks the last reserved kernel virtual
	// address and is decreased after each allocation request. Initially
	// it points to the top of the kernel reservation window.
	earlyReserveLastUsed = earlyReserveTop

	errEarlyReserveNoSpace = &kernel.Error{Module: "early_reserve", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// SetKernelTable records the boot-built kernel page table. Mappings made
// through KernelMap extend it; user address spaces inherit its high-half
// entries at creation.
func SetKernelTable(root mm.Frame, asid uint16) {
	kernelTable.root = root
	kernelTable.asid = asid
	kernelTableSet = true
}

// inheritKernelHalf copies the upper-half entries of the kernel root table
// into a fresh address-space root so kernel code keeps running after the
// space activates. The tables below the shared entries are themselves
// shared, which is what makes KernelMap mappings global.
func inheritKernelHalf(root mm.Frame) {
	if !kernelTableSet {
		return
	}

	const entries = mm.PageSize >> mm.PointerShift
	src := mm.PhysSlice(kernelTable.root.Address(), mm.PageSize)
	dst := mm.PhysSlice(root.Address(), mm.PageSize)
	copy(dst[entries/2<<mm.PointerShift:], src[entries/2<<mm.PointerShift:])
}

// KernelTable returns the kernel page table.
func KernelTable() *PageTable {
	return &kernelTable
}

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory region
// with the requested size in the kernel address space and returns its virtual
// address. If size is not a multiple of mm.PageSize it will be automatically
// rounded up.
//
// This function allocates regions starting at the end of the kernel address
// space growing downwards.
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + (mm.PageSize - 1)) & ^(mm.PageSize - 1)

	// reserving a region of the requested size will cause an underflow
	if size > earlyReserveLastUsed-earlyReserveBottom {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= size
	return earlyReserveLastUsed, nil
}

// KernelMap establishes a kernel mapping for the given page. Kernel
// mappings are global: they appear in every address space.
func KernelMap(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return kernelTable.Map(page, frame, flags|FlagGlobal)
}
