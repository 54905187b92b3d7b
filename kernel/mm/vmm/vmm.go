// Package vmm implements the address-space side of the memory subsystem:
// per-task page tables, the VMA range map, demand paging with copy-on-write
// and lazy anonymous mappings, user-pointer validation and cross-hart TLB
// shootdown.
package vmm

import (
	"helios/kernel"
	"helios/kernel/mm"
)

var (
	// ReservedZeroedFrame is a special zero-cleared frame reserved by
	// Init. Read faults on anonymous pages map it read-only so that
	// physical allocation is deferred until the first write fault.
	ReservedZeroedFrame mm.Frame

	// protectReservedZeroedPage is set once the frame is cleared; from
	// that point on it can never be mapped with a RW flag.
	protectReservedZeroedPage bool

	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
)

// Init initializes the vmm system. The direct-map offset must have been
// recorded with mm.SetDirectMapOffset by boot code beforehand.
func Init() *kernel.Error {
	return reserveZeroedFrame()
}

// reserveZeroedFrame reserves the physical frame used for lazy allocation
// requests and pins its reference count so unmaps never release it.
func reserveZeroedFrame() *kernel.Error {
	var err *kernel.Error

	if ReservedZeroedFrame, err = mm.AllocFrame(); err != nil {
		return err
	}
	memsetFn(mm.PhysToVirt(ReservedZeroedFrame.Address()), 0, mm.PageSize)

	// Pin the frame: one extra reference beyond the allocator's so a
	// stray DecRef can never push it back to the free lists.
	_ = mm.IncRef(ReservedZeroedFrame)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}
