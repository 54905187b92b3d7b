package vmm

import (
	"sort"

	"helios/kernel"
	"helios/kernel/mm"
)

var (
	errVMAOverlap   = &kernel.Error{Module: "vmm", Message: "requested range overlaps an existing mapping"}
	errVMANotMapped = &kernel.Error{Module: "vmm", Message: "no mapping covers the requested range"}
)

// Prot describes the protection bits of a virtual memory area.
type Prot uint8

// Protection bits. ProtUser marks areas accessible from user mode.
const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	ProtUser
)

// Allows returns true if the protection admits the given access kind.
func (p Prot) Allows(access AccessKind) bool {
	switch access {
	case AccessRead:
		return p&ProtRead != 0
	case AccessWrite:
		return p&ProtWrite != 0
	case AccessExec:
		return p&ProtExec != 0
	}
	return false
}

// VMAFlag describes the sharing and fault-policy attributes of an area.
type VMAFlag uint16

const (
	// VMAShared propagates writes to the backing object; its absence
	// makes the area private (copy-on-write across fork).
	VMAShared VMAFlag = 1 << iota

	// VMAGrowsDown marks stack-style areas that extend downwards on
	// faults one page below their current start.
	VMAGrowsDown

	// VMAPrefault populates all pages at map time instead of lazily.
	VMAPrefault
)

// PageState tracks what backs one virtual page of an area.
type PageState uint8

// Page states. A page starts NotPresent and moves between the present
// variants as faults and explicit syscalls resolve it.
const (
	PageNotPresent PageState = iota
	PageZero
	PageAnonymous
	PageCowShared
	PageFileClean
	PageFileDirty
)

// Present returns true for states that have a frame installed in the page
// tables.
func (s PageState) Present() bool {
	return s != PageNotPresent
}

// VMA describes a virtual memory area: a half-open range [Start, End) with
// uniform protection, flags and backing. File-backed areas record the file
// handle and the offset that corresponds to Start; anonymous areas leave
// File nil.
type VMA struct {
	Start uintptr
	End   uintptr
	Prot  Prot
	Flags VMAFlag

	File       File
	FileOffset uint64

	// pages records the fault state of each resolved page.
	pages map[mm.Page]PageState
}

// Covers returns true if addr falls inside the area.
func (v *VMA) Covers(addr uintptr) bool {
	return addr >= v.Start && addr < v.End
}

// PageState returns the recorded state for the given page.
func (v *VMA) PageState(page mm.Page) PageState {
	return v.pages[page]
}

// SetPageState records the state for the given page.
func (v *VMA) SetPageState(page mm.Page, state PageState) {
	if v.pages == nil {
		v.pages = make(map[mm.Page]PageState)
	}
	if state == PageNotPresent {
		delete(v.pages, page)
		return
	}
	v.pages[page] = state
}

// canMergeWith returns true if the two areas are adjacent and identical in
// protection, flags and backing so that they can collapse into one.
func (v *VMA) canMergeWith(next *VMA) bool {
	if v.End != next.Start || v.Prot != next.Prot || v.Flags != next.Flags {
		return false
	}
	if v.File != next.File {
		return false
	}
	if v.File != nil && v.FileOffset+uint64(v.End-v.Start) != next.FileOffset {
		return false
	}
	return true
}

// split carves the area at addr returning the upper half. Page states move
// with their pages. addr must be page-aligned and strictly inside the area.
func (v *VMA) split(addr uintptr) *VMA {
	upper := &VMA{
		Start: addr,
		End:   v.End,
		Prot:  v.Prot,
		Flags: v.Flags,
		File:  v.File,
	}
	if v.File != nil {
		upper.FileOffset = v.FileOffset + uint64(addr-v.Start)
	}

	for page, state := range v.pages {
		if page.Address() >= addr {
			upper.SetPageState(page, state)
			delete(v.pages, page)
		}
	}

	v.End = addr
	return upper
}

// vmaSet is a sorted, non-overlapping collection of areas keyed by start
// address.
type vmaSet struct {
	areas []*VMA
}

// find returns the area covering addr or nil.
func (s *vmaSet) find(addr uintptr) *VMA {
	i := sort.Search(len(s.areas), func(i int) bool {
		return s.areas[i].End > addr
	})
	if i < len(s.areas) && s.areas[i].Covers(addr) {
		return s.areas[i]
	}
	return nil
}

// findRange returns the areas overlapping [start, end).
func (s *vmaSet) findRange(start, end uintptr) []*VMA {
	var out []*VMA
	i := sort.Search(len(s.areas), func(i int) bool {
		return s.areas[i].End > start
	})
	for ; i < len(s.areas) && s.areas[i].Start < end; i++ {
		out = append(out, s.areas[i])
	}
	return out
}

// overlaps returns true if any area intersects [start, end).
func (s *vmaSet) overlaps(start, end uintptr) bool {
	i := sort.Search(len(s.areas), func(i int) bool {
		return s.areas[i].End > start
	})
	return i < len(s.areas) && s.areas[i].Start < end
}

// insert adds the area keeping the set sorted and merging with identical
// neighbours.
func (s *vmaSet) insert(v *VMA) *kernel.Error {
	if s.overlaps(v.Start, v.End) {
		return errVMAOverlap
	}

	i := sort.Search(len(s.areas), func(i int) bool {
		return s.areas[i].Start > v.Start
	})
	s.areas = append(s.areas, nil)
	copy(s.areas[i+1:], s.areas[i:])
	s.areas[i] = v

	s.mergeAround(i)
	return nil
}

// mergeAround collapses the area at index i with its neighbours when
// possible.
func (s *vmaSet) mergeAround(i int) {
	if i+1 < len(s.areas) && s.areas[i].canMergeWith(s.areas[i+1]) {
		s.absorb(i, i+1)
	}
	if i > 0 && s.areas[i-1].canMergeWith(s.areas[i]) {
		s.absorb(i-1, i)
	}
}

func (s *vmaSet) absorb(dst, src int) {
	lower, upper := s.areas[dst], s.areas[src]
	lower.End = upper.End
	for page, state := range upper.pages {
		lower.SetPageState(page, state)
	}
	s.areas = append(s.areas[:src], s.areas[src+1:]...)
}

// removeRange trims [start, end) out of the set splitting boundary areas as
// needed. It invokes release for every resolved page in the removed range
// before dropping its state.
func (s *vmaSet) removeRange(start, end uintptr, release func(v *VMA, page mm.Page, state PageState)) {
	for _, v := range s.findRange(start, end) {
		if v.Start < start {
			upper := v.split(start)
			s.insertSplit(upper)
			v = upper
		}
		if v.End > end {
			upper := v.split(end)
			s.insertSplit(upper)
		}

		for page, state := range v.pages {
			if release != nil {
				release(v, page, state)
			}
		}
		s.delete(v)
	}
}

// protectRange applies prot to [start, end) splitting boundary areas so the
// change is exact. It returns the affected areas, or an error if part of the
// range is unmapped.
func (s *vmaSet) protectRange(start, end uintptr, prot Prot) ([]*VMA, *kernel.Error) {
	overlapping := s.findRange(start, end)
	if len(overlapping) == 0 {
		return nil, errVMANotMapped
	}

	// The range must be fully covered with no holes.
	expect := start
	for _, v := range overlapping {
		if v.Start > expect {
			return nil, errVMANotMapped
		}
		expect = v.End
	}
	if expect < end {
		return nil, errVMANotMapped
	}

	var out []*VMA
	for _, v := range overlapping {
		if v.Start < start {
			upper := v.split(start)
			s.insertSplit(upper)
			v = upper
		}
		if v.End > end {
			upper := v.split(end)
			s.insertSplit(upper)
		}

		v.Prot = prot
		out = append(out, v)
	}

	// Re-merge neighbours whose protection now matches again.
	for _, v := range out {
		for i, area := range s.areas {
			if area == v {
				s.mergeAround(i)
				break
			}
		}
	}

	return out, nil
}

// insertSplit places an area produced by split directly after its lower
// half; no overlap or merge checks are needed.
func (s *vmaSet) insertSplit(v *VMA) {
	i := sort.Search(len(s.areas), func(i int) bool {
		return s.areas[i].Start > v.Start
	})
	s.areas = append(s.areas, nil)
	copy(s.areas[i+1:], s.areas[i:])
	s.areas[i] = v
}

func (s *vmaSet) delete(v *VMA) {
	for i, area := range s.areas {
		if area == v {
			s.areas = append(s.areas[:i], s.areas[i+1:]...)
			return
		}
	}
}

// clone deep-copies the set including per-page states.
func (s *vmaSet) clone() vmaSet {
	out := vmaSet{areas: make([]*VMA, len(s.areas))}
	for i, v := range s.areas {
		cp := *v
		cp.pages = nil
		for page, state := range v.pages {
			cp.SetPageState(page, state)
		}
		out.areas[i] = &cp
	}
	return out
}
