package vmm

import (
	"sync/atomic"

	"helios/kernel"
	"helios/kernel/mm"
)

// AccessKind describes what kind of access triggered a fault.
type AccessKind uint8

// Access kinds carried by page faults.
const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExec
)

var (
	errFaultRetry = &kernel.Error{Module: "vmm", Message: "fault raced with an unmap; retry"}

	// memsetFn and memcopyFn are mocked by tests and are automatically
	// inlined by the compiler.
	memsetFn  = kernel.Memset
	memcopyFn = kernel.Memcopy
)

// HandleFault resolves a page fault at addr. It returns true if the fault
// was satisfied transparently and execution can retry the instruction. A
// false return with a nil error means no VMA admits the access and the
// caller must raise SIGSEGV (or report a kernel-mode fault upward); a
// non-nil error reports an allocation or I/O failure.
//
// File-backed faults may suspend in the page cache; the VMA lock is
// dropped around that call and the fault re-validated against the space
// generation afterwards.
func (s *AddressSpace) HandleFault(addr uintptr, access AccessKind, fromUser bool) (bool, *kernel.Error) {
	for {
		resolved, err := s.handleFaultOnce(addr, access, fromUser)
		if err == errFaultRetry {
			continue
		}
		return resolved, err
	}
}

func (s *AddressSpace) handleFaultOnce(addr uintptr, access AccessKind, fromUser bool) (bool, *kernel.Error) {
	page := mm.PageFromAddress(addr)

	s.lock.WriteLock()

	vma := s.vmas.find(addr)
	if vma == nil {
		vma = s.growDownInto(addr)
	}
	if vma == nil || !vma.Prot.Allows(access) || (fromUser && vma.Prot&ProtUser == 0) {
		s.lock.WriteUnlock()
		return false, nil
	}

	state := vma.PageState(page)

	// Present page: the only recoverable case is a write to a CoW page.
	if state.Present() {
		if access != AccessWrite {
			// Spurious fault; a racing hart already resolved it.
			s.lock.WriteUnlock()
			return true, nil
		}
		resolved, err := s.resolveCowWrite(vma, page, state)
		s.lock.WriteUnlock()
		return resolved, err
	}

	// Not present: anonymous areas resolve in place; file-backed areas
	// must visit the page cache with the lock dropped.
	if vma.File == nil {
		resolved, err := s.resolveAnonymous(vma, page, access)
		s.lock.WriteUnlock()
		return resolved, err
	}

	if pageCache == nil {
		s.lock.WriteUnlock()
		return false, errNoPageCache
	}

	file := vma.File
	offset := vma.FileOffset + uint64(page.Address()-vma.Start)
	generation := s.generation
	s.lock.WriteUnlock()

	frame, err := pageCache.GetPage(file, offset)
	if err != nil {
		return false, err
	}

	s.lock.WriteLock()
	defer s.lock.WriteUnlock()

	if s.generation != generation {
		// The mapping changed while the read was in flight; drop the
		// page and take the fault from the top.
		pageCache.PutPage(frame)
		return false, errFaultRetry
	}

	return s.installFilePage(vma, page, frame, access)
}

// growDownInto extends a stack-style area one page down when the fault
// lands directly below its start. Called with the write lock held.
func (s *AddressSpace) growDownInto(addr uintptr) *VMA {
	page := mm.PageFromAddress(addr)
	above := s.vmas.find(page.Address() + mm.PageSize)
	if above == nil || above.Flags&VMAGrowsDown == 0 || above.Start != page.Address()+mm.PageSize {
		return nil
	}

	// Refuse to grow into the preceding area.
	if s.vmas.overlaps(page.Address(), above.Start) {
		return nil
	}

	above.Start = page.Address()
	if above.File != nil {
		// growsdown areas are always anonymous; a file-backed one is a
		// mapping bug.
		return nil
	}
	atomic.AddUint64(&s.generation, 1)
	return above
}

// resolveAnonymous satisfies a fault on a not-present page of an anonymous
// area. Read faults map the shared zero frame read-only so allocation is
// deferred to the first write; write faults take a fresh zeroed frame.
// Called with the write lock held.
func (s *AddressSpace) resolveAnonymous(vma *VMA, page mm.Page, access AccessKind) (bool, *kernel.Error) {
	if access != AccessWrite {
		flags := protFlags(vma.Prot&^ProtWrite, false)
		if err := s.table.Map(page, ReservedZeroedFrame, flags); err != nil {
			return false, err
		}
		vma.SetPageState(page, PageZero)
		return true, nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return false, err
	}
	memsetFn(mm.PhysToVirt(frame.Address()), 0, mm.PageSize)

	if err = s.table.Map(page, frame, protFlags(vma.Prot, false)); err != nil {
		_, _ = mm.DecRef(frame)
		return false, err
	}

	vma.SetPageState(page, PageAnonymous)
	return true, nil
}

// resolveCowWrite handles a write fault on a present read-only page whose
// area permits writes. A frame referenced only by this mapping upgrades in
// place without a copy; a shared frame is duplicated first. Called with the
// write lock held.
func (s *AddressSpace) resolveCowWrite(vma *VMA, page mm.Page, state PageState) (bool, *kernel.Error) {
	frame, flags, err := s.table.Translate(page)
	if err != nil {
		return false, err
	}

	if flags.hasWrite() {
		// Spurious: another hart finished the upgrade already.
		return true, nil
	}

	if state == PageZero {
		// Deferred allocation: replace the shared zero frame with a
		// fresh zeroed frame.
		newFrame, allocErr := mm.AllocFrame()
		if allocErr != nil {
			return false, allocErr
		}
		memsetFn(mm.PhysToVirt(newFrame.Address()), 0, mm.PageSize)

		if mapErr := s.table.Map(page, newFrame, protFlags(vma.Prot, false)); mapErr != nil {
			_, _ = mm.DecRef(newFrame)
			return false, mapErr
		}
		vma.SetPageState(page, PageAnonymous)
		return true, nil
	}

	if flags&FlagCopyOnWrite == 0 {
		// Read-only PTE without the CoW marker: the area was made
		// writable by mprotect after the PTE went in. Upgrade in
		// place.
		if protErr := s.table.Protect(page, protFlags(vma.Prot, false)); protErr != nil {
			return false, protErr
		}
		return true, nil
	}

	if mm.RefCount(frame) == 1 {
		// Sole owner: upgrade the PTE in place without a copy.
		if protErr := s.table.Protect(page, protFlags(vma.Prot, false)); protErr != nil {
			return false, protErr
		}
		vma.SetPageState(page, PageAnonymous)
		return true, nil
	}

	newFrame, allocErr := mm.AllocFrame()
	if allocErr != nil {
		return false, allocErr
	}
	memcopyFn(mm.PhysToVirt(frame.Address()), mm.PhysToVirt(newFrame.Address()), mm.PageSize)

	if mapErr := s.table.Map(page, newFrame, protFlags(vma.Prot, false)); mapErr != nil {
		_, _ = mm.DecRef(newFrame)
		return false, mapErr
	}
	_, _ = mm.DecRef(frame)
	vma.SetPageState(page, PageAnonymous)

	// Threads sharing this space may hold a stale read-only entry for
	// the old frame.
	if atomic.LoadInt32(&s.refs) > 1 {
		s.shootdownLocked(page.Address(), page.Address()+mm.PageSize)
	}

	return true, nil
}

// installFilePage maps a frame obtained from the page cache. Shared
// writable mappings go in writable and dirty-tracked; private mappings go
// in read-only with the CoW marker. Called with the write lock held.
func (s *AddressSpace) installFilePage(vma *VMA, page mm.Page, frame mm.Frame, access AccessKind) (bool, *kernel.Error) {
	shared := vma.Flags&VMAShared != 0

	if shared {
		if err := s.table.Map(page, frame, protFlags(vma.Prot, false)); err != nil {
			pageCache.PutPage(frame)
			return false, err
		}
		_ = mm.IncRef(frame)
		if access == AccessWrite {
			vma.SetPageState(page, PageFileDirty)
		} else {
			vma.SetPageState(page, PageFileClean)
		}
		return true, nil
	}

	if err := s.table.Map(page, frame, protFlags(vma.Prot&^ProtWrite, true)); err != nil {
		pageCache.PutPage(frame)
		return false, err
	}
	_ = mm.IncRef(frame)
	vma.SetPageState(page, PageCowShared)
	return true, nil
}

// hasWrite returns true if the PTE flags grant write access.
func (f PageTableEntryFlag) hasWrite() bool {
	return f&FlagRW != 0
}
