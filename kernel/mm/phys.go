package mm

import "unsafe"

// directMapOffset is the offset of the kernel's direct-map window: adding
// it to a physical address yields a kernel virtual address through which
// the frame contents can be inspected. Boot code records it before the
// memory subsystem initializes.
var directMapOffset uintptr

// SetDirectMapOffset records the direct-map window offset.
func SetDirectMapOffset(offset uintptr) { directMapOffset = offset }

// PhysToVirt converts a physical address to its direct-map virtual alias.
func PhysToVirt(physAddr uintptr) uintptr { return physAddr + directMapOffset }

// PhysSlice overlays a byte slice on top of a physical memory region
// through the direct-map window.
func PhysSlice(physAddr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(PhysToVirt(physAddr))), size)
}
