// Package goruntime contains code for bootstrapping Go runtime features
// such as the memory allocator on top of the kernel's own memory
// subsystem.
package goruntime

import (
	"sync/atomic"
	"unsafe"

	"helios/kernel"
	"helios/kernel/cpu"
	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
)

var (
	kernelMapFn          = vmm.KernelMap
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	frameAllocFn         = mm.AllocFrame
	mallocInitFn         = mallocInit
	algInitFn            = algInit
	modulesInitFn        = modulesInit
	typeLinksInitFn      = typeLinksInit
	itabsInitFn          = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

// mSysStatInc updates one of the runtime memory statistics accumulators.
func mSysStatInc(sysStat *uint64, delta uintptr) {
	if sysStat != nil {
		atomic.AddUint64(sysStat, uint64(delta))
	}
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionStartAddr, err := earlyReserveRegionFn(size)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap establishes a copy-on-write mapping of the reserved zero frame
// for a memory region previously reserved via sysReserve. Physical frames
// materialize lazily on the first write fault to each page.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic(errSysMapNotReserved)
	}

	regionStartAddr := (uintptr(virtAddr) + mm.PageSize - 1) & ^(mm.PageSize - 1)
	regionSize := (size + mm.PageSize - 1) & ^(mm.PageSize - 1)
	pageCount := regionSize >> mm.PageShift

	mapFlags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagCopyOnWrite
	for page := mm.PageFromAddress(regionStartAddr); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		if err := kernelMapFn(page, vmm.ReservedZeroedFrame, mapFlags); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, regionSize)
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation
// request and establishes a contiguous virtual page mapping for them
// returning back the pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := (size + mm.PageSize - 1) & ^(mm.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mapFlags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagRW
	pageCount := regionSize >> mm.PageShift
	for page := mm.PageFromAddress(regionStartAddr); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := frameAllocFn()
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}

		if err = kernelMapFn(page, frame, mapFlags); err != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, regionSize)
	return unsafe.Pointer(regionStartAddr)
}

// nanotime returns a monotonically increasing clock value in time-base
// ticks; the allocator only needs monotonicity, not a unit.
//
// This function replaces runtime.nanotime and is invoked by the Go
// allocator when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	return cpu.ReadTime()
}

// getRandomData populates the given slice with random data. The runtime
// reads a random stream from the host; since there is none, a prng seeds
// the map hash instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

var errSysMapNotReserved = &kernel.Error{Module: "goruntime", Message: "sysMap called for an unreserved region"}

// Init enables support for various Go runtime features. After a call to
// Init the following runtime features become available for use:
//  - heap memory allocation (new, make e.t.c)
//  - map primitives
//  - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
