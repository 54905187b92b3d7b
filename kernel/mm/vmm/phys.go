package vmm

import (
	"unsafe"

	"helios/kernel/mm"
)

// physByte returns a pointer to the byte at the given physical address
// through the direct-map window.
func physByte(physAddr uintptr) *byte {
	return (*byte)(unsafe.Pointer(mm.PhysToVirt(physAddr)))
}
