package vmm

import (
	"sync/atomic"

	"helios/kernel"
	"helios/kernel/mm"
	"helios/kernel/sync"
)

var (
	errUnalignedRange = &kernel.Error{Module: "vmm", Message: "address range is not page-aligned"}
	errEmptyRange     = &kernel.Error{Module: "vmm", Message: "address range is empty"}

	// asidCounter hands out address-space identifiers. Identifier reuse
	// after wrap-around is handled by a full TLB flush on activation.
	asidCounter uint32
)

// AddressSpace holds the translation state shared by all tasks of one
// thread group: the page table, the VMA set and the mask of harts that
// currently run tasks attached to the space.
//
// The VMA set is read-mostly: user-pointer validation and FindVMA read it
// under the seqlock while mmap/munmap/mprotect and fault handling take the
// write side.
// Page-table edits for present pages are serialized by the write lock too.
type AddressSpace struct {
	table PageTable
	vmas  vmaSet

	lock sync.SeqLock

	// generation increments on every structural change; user-pointer
	// validation uses it to detect racing unmaps.
	generation uint64

	// hartMask tracks the harts that have the space active and must be
	// included in TLB shootdowns.
	hartMask uint64

	// refs counts the tasks sharing the space.
	refs int32
}

// NewAddressSpace allocates a root table frame and returns an empty space.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	rootFrame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	space := &AddressSpace{refs: 1}
	asid := uint16(atomic.AddUint32(&asidCounter, 1) & 0xffff)
	space.table.Init(rootFrame, asid)
	inheritKernelHalf(rootFrame)
	return space, nil
}

// Retain adds a task reference to the space (thread-style clone).
func (s *AddressSpace) Retain() {
	atomic.AddInt32(&s.refs, 1)
}

// Release drops a task reference; the last release tears down every mapping
// and frees the root page-table frame. Intermediate page-table frames are
// not freed.
func (s *AddressSpace) Release() {
	if atomic.AddInt32(&s.refs, -1) != 0 {
		return
	}

	s.lock.WriteLock()
	s.vmas.removeRange(0, ^uintptr(0), s.releasePage)
	s.lock.WriteUnlock()

	_ = mm.FreeFrame(s.table.Root())
}

// Activate installs the space's page table on the local hart and joins the
// shootdown hart mask.
func (s *AddressSpace) Activate(hartID uint32) {
	atomicOrUint64(&s.hartMask, 1<<hartID)
	s.table.Activate()
}

// Deactivate removes the local hart from the shootdown mask; the executor
// calls it when it switches to a task owning a different space.
func (s *AddressSpace) Deactivate(hartID uint32) {
	atomicAndUint64(&s.hartMask, ^(uint64(1) << hartID))
}

// Token returns the value that hal trap-restore code loads to re-enter user
// mode on this space.
func (s *AddressSpace) Token() uintptr {
	return s.table.Token()
}

// Generation returns the current structural-change counter.
func (s *AddressSpace) Generation() uint64 {
	return atomic.LoadUint64(&s.generation)
}

// Map registers a new area of length bytes at the fixed page-aligned start
// address. File-backed areas pass the file handle and its offset; anonymous
// areas pass a nil file. No frames are allocated up front unless the
// VMAPrefault flag asks for population.
func (s *AddressSpace) Map(start, length uintptr, prot Prot, flags VMAFlag, file File, fileOffset uint64) *kernel.Error {
	if start&(mm.PageSize-1) != 0 {
		return errUnalignedRange
	}
	if length == 0 {
		return errEmptyRange
	}
	length = (length + mm.PageSize - 1) &^ (mm.PageSize - 1)

	vma := &VMA{
		Start:      start,
		End:        start + length,
		Prot:       prot,
		Flags:      flags,
		File:       file,
		FileOffset: fileOffset,
	}

	s.lock.WriteLock()
	err := s.vmas.insert(vma)
	if err == nil {
		atomic.AddUint64(&s.generation, 1)
	}
	s.lock.WriteUnlock()
	if err != nil {
		return err
	}

	if flags&VMAPrefault != 0 {
		for page := mm.PageFromAddress(start); page.Address() < start+length; page++ {
			if _, faultErr := s.HandleFault(page.Address(), AccessRead, false); faultErr != nil {
				return faultErr
			}
		}
	}

	return nil
}

// Unmap removes every mapping inside [start, start+length), dropping frame
// references and shooting down remote TLBs before any freed frame can be
// reused.
func (s *AddressSpace) Unmap(start, length uintptr) *kernel.Error {
	if start&(mm.PageSize-1) != 0 {
		return errUnalignedRange
	}
	if length == 0 {
		return errEmptyRange
	}
	end := start + ((length + mm.PageSize - 1) &^ (mm.PageSize - 1))

	s.lock.WriteLock()
	s.vmas.removeRange(start, end, s.releasePage)
	atomic.AddUint64(&s.generation, 1)
	s.lock.WriteUnlock()

	s.shootdown(start, end)
	return nil
}

// releasePage tears down one resolved page while the write lock is held.
func (s *AddressSpace) releasePage(v *VMA, page mm.Page, state PageState) {
	frame, unmapErr := s.table.Unmap(page)
	if unmapErr != nil {
		return
	}

	switch state {
	case PageZero:
		// The shared zero frame is never refcounted per mapping.
	case PageFileClean, PageFileDirty:
		if state == PageFileDirty && v.File != nil && pageCache != nil {
			pageCache.Writeback(v.File, v.FileOffset+uint64(page.Address()-v.Start))
		}
		_, _ = mm.DecRef(frame)
	default:
		_, _ = mm.DecRef(frame)
	}
}

// Protect changes the protection of [start, start+length) to prot. Present
// writable pages lose their write bit immediately; a downgrade is not
// observable until every hart in the space's mask has acknowledged the
// shootdown.
func (s *AddressSpace) Protect(start, length uintptr, prot Prot) *kernel.Error {
	if start&(mm.PageSize-1) != 0 {
		return errUnalignedRange
	}
	if length == 0 {
		return errEmptyRange
	}
	end := start + ((length + mm.PageSize - 1) &^ (mm.PageSize - 1))

	s.lock.WriteLock()
	affected, err := s.vmas.protectRange(start, end, prot)
	if err != nil {
		s.lock.WriteUnlock()
		return err
	}

	for _, v := range affected {
		for page := range v.pages {
			frame, flags, trErr := s.table.Translate(page)
			if trErr != nil {
				continue
			}
			_ = frame
			s.table.Protect(page, protFlags(prot, flags&FlagCopyOnWrite != 0))
		}
	}
	atomic.AddUint64(&s.generation, 1)
	s.lock.WriteUnlock()

	s.shootdown(start, end)
	return nil
}

// protFlags converts area protection into PTE flags, preserving the CoW
// marker which forces the write bit off.
func protFlags(prot Prot, cow bool) PageTableEntryFlag {
	flags := FlagPresent | FlagAccessed
	if prot&ProtRead != 0 {
		flags |= FlagRead
	}
	if prot&ProtWrite != 0 && !cow {
		flags |= FlagRW | FlagDirty
	}
	if prot&ProtExec != 0 {
		flags |= FlagExec
	} else {
		flags |= FlagNoExecute
	}
	if prot&ProtUser != 0 {
		flags |= FlagUser
	}
	if cow {
		flags |= FlagCopyOnWrite
	}
	return flags
}

// Fork produces a copy-on-write duplicate of the space. Every present page
// of a writable private area is downgraded to read-only in BOTH spaces and
// its frame reference count incremented; file-backed shared pages remain
// writable. Clone-with-shared-memory uses Retain instead.
func (s *AddressSpace) Fork() (*AddressSpace, *kernel.Error) {
	child, err := NewAddressSpace()
	if err != nil {
		return nil, err
	}

	s.lock.WriteLock()
	defer s.lock.WriteUnlock()

	child.vmas = s.vmas.clone()

	for _, v := range child.vmas.areas {
		shared := v.Flags&VMAShared != 0
		for page, state := range v.pages {
			frame, flags, trErr := s.table.Translate(page)
			if trErr != nil {
				continue
			}

			if shared {
				// Shared pages keep their permissions in both spaces.
				if mapErr := child.table.Map(page, frame, flags); mapErr != nil {
					child.Release()
					return nil, mapErr
				}
				_ = mm.IncRef(frame)
				continue
			}

			// Private pages become CoW in both spaces.
			cowFlags := flags
			cowFlags &^= FlagRW | FlagDirty
			cowFlags |= FlagCopyOnWrite

			if state == PageZero {
				// Zero-page mappings stay read-only and unshared;
				// no refcount to adjust.
				if mapErr := child.table.Map(page, frame, flags); mapErr != nil {
					child.Release()
					return nil, mapErr
				}
				continue
			}

			if protErr := s.table.Protect(page, cowFlags); protErr != nil {
				child.Release()
				return nil, protErr
			}
			if mapErr := child.table.Map(page, frame, cowFlags); mapErr != nil {
				child.Release()
				return nil, mapErr
			}
			_ = mm.IncRef(frame)

			v.SetPageState(page, PageCowShared)
			if parentVMA := s.vmas.find(page.Address()); parentVMA != nil {
				parentVMA.SetPageState(page, PageCowShared)
			}
		}
	}

	atomic.AddUint64(&s.generation, 1)
	s.shootdownLocked(0, ^uintptr(0))
	return child, nil
}

// FindVMA returns the area covering addr, reading under the seqlock.
func (s *AddressSpace) FindVMA(addr uintptr) *VMA {
	for {
		seq := s.lock.ReadBegin()
		v := s.vmas.find(addr)
		if !s.lock.ReadRetry(seq) {
			return v
		}
	}
}

// Translate returns the frame that the page containing addr maps to.
func (s *AddressSpace) Translate(addr uintptr) (mm.Frame, PageTableEntryFlag, *kernel.Error) {
	return s.table.Translate(mm.PageFromAddress(addr))
}

// ID returns a stable identity for the space, used to key private
// futexes.
func (s *AddressSpace) ID() uintptr {
	return s.table.Root().Address()
}
