package syscall

import (
	"helios/kernel/errno"
	"helios/kernel/mm"
	"helios/kernel/mm/vmm"
	"helios/kernel/task"
)

// mmap protection and flag bits from the user ABI.
const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapShared    = 0x01
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
	mapGrowsdown = 0x100
	mapPopulate  = 0x8000
)

// mmapBase is where non-fixed mappings start probing for a free range.
const mmapBase = uintptr(0x2000000000)

// sysMmapImpl implements mmap for anonymous and file-backed mappings.
//
// Errors: EINVAL for bad alignment, zero length or flag combinations;
// ENOMEM when the range cannot be reserved; EBADF for file mappings with a
// bad descriptor.
func sysMmapImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	addr, length := args[0], args[1]
	prot, flags := args[2], args[3]
	fd, offset := int(int32(uint32(args[4]))), uint64(args[5])

	if length == 0 {
		return 0, errno.EINVAL
	}
	if flags&(mapPrivate|mapShared) == 0 || flags&mapPrivate != 0 && flags&mapShared != 0 {
		return 0, errno.EINVAL
	}
	if addr&(mm.PageSize-1) != 0 {
		if flags&mapFixed != 0 {
			return 0, errno.EINVAL
		}
		addr = 0
	}

	vmaProt := vmm.ProtUser
	if prot&protRead != 0 {
		vmaProt |= vmm.ProtRead
	}
	if prot&protWrite != 0 {
		vmaProt |= vmm.ProtWrite
	}
	if prot&protExec != 0 {
		vmaProt |= vmm.ProtExec
	}

	var vmaFlags vmm.VMAFlag
	if flags&mapShared != 0 {
		vmaFlags |= vmm.VMAShared
	}
	if flags&mapGrowsdown != 0 {
		vmaFlags |= vmm.VMAGrowsDown
	}
	if flags&mapPopulate != 0 {
		vmaFlags |= vmm.VMAPrefault
	}

	var (
		file       vmm.File
		fileOffset uint64
	)
	if flags&mapAnonymous == 0 {
		f, errCode := t.FDs.Get(fd)
		if errCode != 0 {
			return 0, errCode
		}
		mapped, ok := f.(vmm.File)
		if !ok {
			return 0, errno.EBADF
		}
		if offset&uint64(mm.PageSize-1) != 0 {
			return 0, errno.EINVAL
		}
		file, fileOffset = mapped, offset
	}

	if addr == 0 {
		addr = findFreeRange(t, length)
		if addr == 0 {
			return 0, errno.ENOMEM
		}
	}

	if err := t.Space.Map(addr, length, vmaProt, vmaFlags, file, fileOffset); err != nil {
		return 0, errno.ENOMEM
	}

	return addr, 0
}

// findFreeRange scans upward from mmapBase for a gap large enough for
// length bytes.
func findFreeRange(t *task.Task, length uintptr) uintptr {
	length = (length + mm.PageSize - 1) &^ (mm.PageSize - 1)

	addr := mmapBase
	for addr+length > addr {
		if vma := t.Space.FindVMA(addr); vma == nil {
			if next := t.Space.FindVMA(addr + length - 1); next == nil {
				return addr
			} else {
				addr = next.End
				continue
			}
		} else {
			addr = vma.End
		}
	}
	return 0
}

// sysMunmapImpl implements munmap.
//
// Errors: EINVAL for unaligned or empty ranges.
func sysMunmapImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	addr, length := args[0], args[1]

	if addr&(mm.PageSize-1) != 0 || length == 0 {
		return 0, errno.EINVAL
	}

	if err := t.Space.Unmap(addr, length); err != nil {
		return 0, errno.EINVAL
	}
	return 0, 0
}

// sysMprotectImpl implements mprotect.
//
// Errors: EINVAL for unaligned ranges; ENOMEM when part of the range is
// unmapped.
func sysMprotectImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	addr, length, prot := args[0], args[1], args[2]

	if addr&(mm.PageSize-1) != 0 || length == 0 {
		return 0, errno.EINVAL
	}

	vmaProt := vmm.ProtUser
	if prot&protRead != 0 {
		vmaProt |= vmm.ProtRead
	}
	if prot&protWrite != 0 {
		vmaProt |= vmm.ProtWrite
	}
	if prot&protExec != 0 {
		vmaProt |= vmm.ProtExec
	}

	if err := t.Space.Protect(addr, length, vmaProt); err != nil {
		return 0, errno.ENOMEM
	}
	return 0, 0
}

// sysBrkImpl implements brk. The break is the end of the heap area that
// starts at heapBase. A zero argument queries the current break;
// growing maps fresh anonymous pages, shrinking unmaps them.
func sysBrkImpl(t *task.Task, args [6]uintptr) (uintptr, errno.Errno) {
	requested := args[0]

	heap := t.Space.FindVMA(heapBase)
	cur := heapBase
	if heap != nil {
		cur = heap.End
	}

	if requested == 0 || requested == cur {
		return cur, 0
	}

	if requested < heapBase {
		return cur, 0
	}

	newEnd := (requested + mm.PageSize - 1) &^ (mm.PageSize - 1)
	switch {
	case newEnd > cur:
		if err := t.Space.Map(cur, newEnd-cur, vmm.ProtRead|vmm.ProtWrite|vmm.ProtUser, 0, nil, 0); err != nil {
			return cur, 0
		}
	case newEnd < cur:
		if err := t.Space.Unmap(newEnd, cur-newEnd); err != nil {
			return cur, 0
		}
	}

	return requested, 0
}

// heapBase anchors the brk heap above the executable image.
const heapBase = uintptr(0x1000000000)
