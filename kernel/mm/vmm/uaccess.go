package vmm

import (
	"helios/kernel"
	"helios/kernel/errno"
	"helios/kernel/mm"
)

// UserProber touches a single user byte under scoped trap redirection so a
// page fault surfaces as a returned error instead of an unwind. The HAL
// provides the implementation; tests substitute their own.
type UserProber interface {
	ProbeReadByte(addr uintptr) (byte, *kernel.Error)
	ProbeWriteByte(addr uintptr, val byte) *kernel.Error
}

var (
	userProber UserProber

	// vmaRangeAllowsFn is mocked by tests so races between the VMA walk
	// and a concurrent unmap can be staged deterministically.
	vmaRangeAllowsFn = (*AddressSpace).vmaRangeAllows
)

// SetUserProber registers the HAL probe implementation.
func SetUserProber(p UserProber) { userProber = p }

// ValidateUserRange checks that [addr, addr+length) lies entirely within
// user-accessible areas of the space admitting the given access kind. Two
// strategies run and must agree: a VMA lookup over the known set and, when
// the set could be racing with a concurrent munmap, an explicit probe of
// the first and last page of the range. When the strategies disagree the
// range is treated as invalid: the caller sees EFAULT, never a guess.
func (s *AddressSpace) ValidateUserRange(addr, length uintptr, access AccessKind) errno.Errno {
	if length == 0 {
		return 0
	}
	end := addr + length
	if end < addr {
		// Wrap-around ranges can never be valid.
		return errno.EFAULT
	}

	generation := s.Generation()

	if !vmaRangeAllowsFn(s, addr, end, access) {
		return errno.EFAULT
	}

	if s.Generation() != generation {
		// The set changed while we walked it; fall back to probing the
		// boundary pages so a racing munmap cannot fake coverage.
		if !s.probeRange(addr, end, access) {
			return errno.EFAULT
		}
	}

	return 0
}

// vmaRangeAllows walks the VMA set verifying gap-free coverage of
// [start, end) with the required protection.
func (s *AddressSpace) vmaRangeAllows(start, end uintptr, access AccessKind) bool {
	for {
		seq := s.lock.ReadBegin()
		ok := s.vmas.rangeAllows(start, end, access)
		if !s.lock.ReadRetry(seq) {
			return ok
		}
	}
}

func (set *vmaSet) rangeAllows(start, end uintptr, access AccessKind) bool {
	expect := start
	for _, v := range set.findRange(start, end) {
		if v.Start > expect {
			return false
		}
		if !v.Prot.Allows(access) || v.Prot&ProtUser == 0 {
			return false
		}
		expect = v.End
	}
	return expect >= end
}

// probeRange touches the first and last page of the range through the HAL
// probe. A fault on either byte reports the range invalid.
func (s *AddressSpace) probeRange(start, end uintptr, access AccessKind) bool {
	if userProber == nil {
		return false
	}

	probe := func(addr uintptr) bool {
		if access == AccessWrite {
			val, err := userProber.ProbeReadByte(addr)
			if err != nil {
				return false
			}
			return userProber.ProbeWriteByte(addr, val) == nil
		}
		_, err := userProber.ProbeReadByte(addr)
		return err == nil
	}

	if !probe(start) {
		return false
	}
	return probe(end - 1)
}

// CopyFromUser copies length bytes from the user address src into the
// kernel buffer dst after validating the range.
func (s *AddressSpace) CopyFromUser(dst []byte, src uintptr) errno.Errno {
	length := uintptr(len(dst))
	if errCode := s.ValidateUserRange(src, length, AccessRead); errCode != 0 {
		return errCode
	}

	for off := uintptr(0); off < length; {
		frame, _, err := s.Translate(src + off)
		if err != nil {
			// Lazily mapped page that was never touched: fault it in.
			if resolved, faultErr := s.HandleFault(src+off, AccessRead, false); faultErr != nil || !resolved {
				return errno.EFAULT
			}
			if frame, _, err = s.Translate(src + off); err != nil {
				return errno.EFAULT
			}
		}

		pageOff := PageOffset(src + off)
		chunk := mm.PageSize - pageOff
		if remaining := length - off; chunk > remaining {
			chunk = remaining
		}

		copyFromPhys(dst[off:off+chunk], frame.Address()+pageOff)
		off += chunk
	}

	return 0
}

// CopyToUser copies the kernel buffer src to the user address dst after
// validating the range, resolving CoW and lazy pages through the regular
// fault path.
func (s *AddressSpace) CopyToUser(dst uintptr, src []byte) errno.Errno {
	length := uintptr(len(src))
	if errCode := s.ValidateUserRange(dst, length, AccessWrite); errCode != 0 {
		return errCode
	}

	for off := uintptr(0); off < length; {
		// Writes must always go through the fault path first so CoW
		// and zero-page mappings are broken before we touch the frame.
		frame, flags, err := s.Translate(dst + off)
		if err != nil || !flags.hasWrite() {
			if resolved, faultErr := s.HandleFault(dst+off, AccessWrite, false); faultErr != nil || !resolved {
				return errno.EFAULT
			}
			if frame, _, err = s.Translate(dst + off); err != nil {
				return errno.EFAULT
			}
		}

		pageOff := PageOffset(dst + off)
		chunk := mm.PageSize - pageOff
		if remaining := length - off; chunk > remaining {
			chunk = remaining
		}

		copyToPhys(frame.Address()+pageOff, src[off:off+chunk])
		off += chunk
	}

	return 0
}

// copyFromPhys and copyToPhys move data through the direct-map window; the
// indirection exists so tests can substitute buffers for physical frames.
var (
	copyFromPhys = func(dst []byte, physAddr uintptr) {
		for i := range dst {
			dst[i] = *physByte(physAddr + uintptr(i))
		}
	}
	copyToPhys = func(physAddr uintptr, src []byte) {
		for i := range src {
			*physByte(physAddr + uintptr(i)) = src[i]
		}
	}
)
