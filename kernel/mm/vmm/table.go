package vmm

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
)

var (
	// ptePtrFn returns a pointer to the page-table entry stored at the
	// given physical address through the direct-map window. It is
	// overridden by tests so walk() can operate on fabricated tables.
	// When compiling the kernel this function is automatically inlined.
	ptePtrFn = func(entryPhysAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(mm.PhysToVirt(entryPhysAddr))
	}

	// flushTLBEntryFn starts as a host-safe stub; InstallCPUHooks wires
	// cpu.FlushTLBEntry on the kernel path and tests override it.
	flushTLBEntryFn = func(uintptr) {}

	// switchAddressSpaceFn and activeAddressSpaceFn follow the same
	// pattern.
	switchAddressSpaceFn = func(uintptr) {}
	activeAddressSpaceFn = func() uintptr { return 0 }

	// pageLevelBits lists the number of virtual-address bits translated
	// at each level, top first. All supported configurations translate
	// nine bits per level.
	pageLevelBits = levelBits()

	// pageLevelShifts lists the right-shift that extracts each level's
	// table index from a virtual address, top first.
	pageLevelShifts = levelShifts()
)

func levelBits() [mm.PageTableLevels]uintptr {
	var bits [mm.PageTableLevels]uintptr
	for i := range bits {
		bits[i] = 9
	}
	return bits
}

func levelShifts() [mm.PageTableLevels]uintptr {
	var shifts [mm.PageTableLevels]uintptr
	shift := mm.PageShift
	for i := mm.PageTableLevels - 1; i >= 0; i-- {
		shifts[i] = shift
		shift += 9
	}
	return shifts
}

// PageTable describes the radix translation table for one address space.
// The zero value is not usable; call Init with a cleared root frame first.
type PageTable struct {
	root mm.Frame
	asid uint16
}

// Init points the table at the given root frame and clears its contents.
func (pt *PageTable) Init(root mm.Frame, asid uint16) {
	pt.root = root
	pt.asid = asid
	kernel.Memset(mm.PhysToVirt(root.Address()), 0, mm.PageSize)
}

// Root returns the physical frame holding the top-level table.
func (pt *PageTable) Root() mm.Frame {
	return pt.root
}

// Token encodes the root frame and ASID in the format expected by
// cpu.SwitchAddressSpace.
func (pt *PageTable) Token() uintptr {
	return archTableToken(pt.root, pt.asid)
}

// Activate installs this table as the active translation root on the local
// hart.
func (pt *PageTable) Activate() {
	switchAddressSpaceFn(pt.Token())
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls
// the supplied walkFn with the page table entry that corresponds to each
// page table level. If walkFn returns false then the walk is aborted.
// Missing intermediate tables stop the walk unless allocMissing is set, in
// which case they are allocated and cleared on the way down.
func (pt *PageTable) walk(virtAddr uintptr, allocMissing bool, walkFn pageTableWalker) *kernel.Error {
	var (
		tableFrame = pt.root
		err        *kernel.Error
	)

	for level := uint8(0); level < mm.PageTableLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryPhysAddr := tableFrame.Address() + (entryIndex << mm.PointerShift)
		pte := (*pageTableEntry)(ptePtrFn(entryPhysAddr))

		if level == mm.PageTableLevels-1 {
			if !walkFn(level, pte) {
				return nil
			}
			return nil
		}

		if pte.isLeaf() {
			return errNoHugePageSupport
		}

		if !pte.HasFlags(FlagPresent) {
			if !allocMissing {
				if !walkFn(level, pte) {
					return nil
				}
				return ErrInvalidMapping
			}

			var newTableFrame mm.Frame
			if newTableFrame, err = mm.AllocFrame(); err != nil {
				return err
			}

			kernel.Memset(mm.PhysToVirt(newTableFrame.Address()), 0, mm.PageSize)
			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent)
		}

		if !walkFn(level, pte) {
			return nil
		}

		tableFrame = pte.Frame()
	}

	return nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame in this table. Calls to Map allocate missing page tables at each
// paging level as needed.
//
// Attempts to map ReservedZeroedFrame with a RW flag will result in an error.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	return pt.walk(page.Address(), true, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == mm.PageTableLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
		}
		return true
	})
}

// Unmap removes a mapping previously installed via a call to Map and returns
// the frame it pointed to. The caller owns the frame reference that the
// mapping held.
func (pt *PageTable) Unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		err   *kernel.Error
	)

	err = pt.walk(page.Address(), false, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel < mm.PageTableLevels-1 {
			return pte.HasFlags(FlagPresent)
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		frame = pte.Frame()
		*pte = 0
		flushTLBEntryFn(page.Address())
		return true
	})

	if err != nil {
		return mm.InvalidFrame, err
	}
	if !frame.Valid() {
		return mm.InvalidFrame, ErrInvalidMapping
	}

	return frame, nil
}

// Protect rewrites the flag bits for an existing mapping keeping its frame.
func (pt *PageTable) Protect(page mm.Page, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walkErr := pt.walk(page.Address(), false, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel < mm.PageTableLevels-1 {
			return pte.HasFlags(FlagPresent)
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		frame := pte.Frame()
		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(flags)
		flushTLBEntryFn(page.Address())
		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// Translate returns the frame and flags that the given page maps to, or
// ErrInvalidMapping if the page is not present.
func (pt *PageTable) Translate(page mm.Page) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		flags PageTableEntryFlag
	)

	walkErr := pt.walk(page.Address(), false, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == mm.PageTableLevels-1 {
			frame = pte.Frame()
			flags = pte.Flags()
		}
		return true
	})

	if walkErr != nil {
		return mm.InvalidFrame, 0, walkErr
	}
	if !frame.Valid() {
		return mm.InvalidFrame, 0, ErrInvalidMapping
	}

	return frame, flags, nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

