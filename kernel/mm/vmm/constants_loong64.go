package vmm

import "helios/kernel/mm"

// PageTableEntryFlag values for the LoongArch PTE format. Bit 60 is ignored
// by the MMU and carries the copy-on-write marker.
const (
	FlagPresent     PageTableEntryFlag = 1 << 0  // V
	FlagDirty       PageTableEntryFlag = 1 << 1  // D
	FlagUser        PageTableEntryFlag = 3 << 2  // PLV3
	FlagRead        PageTableEntryFlag = 0       // readable when valid
	FlagRW          PageTableEntryFlag = 1 << 8  // W
	FlagGlobal      PageTableEntryFlag = 1 << 6  // G
	FlagAccessed    PageTableEntryFlag = 1 << 4  // MAT coherent-cached
	FlagNoExecute   PageTableEntryFlag = 1 << 62 // NX
	FlagCopyOnWrite PageTableEntryFlag = 1 << 60 // software

	// FlagExec exists for API parity; execute permission on this
	// architecture is the absence of FlagNoExecute.
	FlagExec PageTableEntryFlag = 0

	// ptePhysPageMask selects the PA bits of a PTE.
	ptePhysPageMask = uintptr(0x0000fffffffff000)

	// ptePPNShift is the distance between the PTE PA field and the
	// physical frame number; the PA field is not shifted on this
	// architecture.
	ptePPNShift = 12
)

// archTableToken returns the physical address loaded into the PGDL CSR; the
// ASID travels separately in the ASID CSR, encoded here in the low bits the
// switch shim moves over.
func archTableToken(root mm.Frame, asid uint16) uintptr {
	return root.Address() | uintptr(asid&0x3ff)
}

// isLeaf reports whether a directory-level entry terminates the walk early.
// In directory entries the G bit position marks a huge-page leaf.
func (pte pageTableEntry) isLeaf() bool {
	return pte.HasFlags(FlagPresent) && pte.HasAnyFlag(FlagGlobal)
}
