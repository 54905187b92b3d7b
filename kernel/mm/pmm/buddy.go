package pmm

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
	"helios/kernel/sync"
)

// MaxOrder is the largest block order tracked by the buddy allocator; the
// largest block spans 1<<MaxOrder frames (8Mb with 4Kb pages).
const MaxOrder = 11

var (
	errBuddyOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errBuddyDoubleFree  = &kernel.Error{Module: "pmm", Message: "frame is already free"}
	errBuddyUntracked   = &kernel.Error{Module: "pmm", Message: "frame does not belong to a tracked region"}
	errBuddyBadOrder    = &kernel.Error{Module: "pmm", Message: "order exceeds MaxOrder"}
)

// buddyAllocator is the standard frame allocator used once the kernel has
// bootstrapped. Free blocks are kept in per-order free lists whose link
// pointers live inside the free frames themselves, reached through the
// direct-map window; a parallel byte array tracks the order and state of
// every block so that frees can coalesce with their buddies.
type buddyAllocator struct {
	lock sync.Spinlock

	// freeHeads holds the first free block of each order.
	freeHeads [MaxOrder + 1]mm.Frame

	// blockState records, for every tracked frame, 0 when the frame is
	// not the head of a free block and order+1 when it is.
	blockState []uint8

	// firstFrame offsets the blockState index.
	firstFrame mm.Frame
}

// init sizes the allocator metadata for frames in [first, limit). The
// metadata array is carved out of boot-allocated frames by the caller.
func (alloc *buddyAllocator) init(first, limit mm.Frame, state []uint8) {
	alloc.firstFrame = first
	alloc.blockState = state[:limit-first]
	for order := 0; order <= MaxOrder; order++ {
		alloc.freeHeads[order] = mm.InvalidFrame
	}
}

func (alloc *buddyAllocator) tracked(frame mm.Frame) bool {
	return frame >= alloc.firstFrame && int(frame-alloc.firstFrame) < len(alloc.blockState)
}

// nextPtr returns the location inside a free frame where the allocator
// stores the link to the next free block of the same order.
func nextPtr(frame mm.Frame) *mm.Frame {
	return (*mm.Frame)(unsafe.Pointer(mm.PhysToVirt(frame.Address())))
}

// push inserts a free block at the head of its order list.
func (alloc *buddyAllocator) push(frame mm.Frame, order int) {
	*nextPtr(frame) = alloc.freeHeads[order]
	alloc.freeHeads[order] = frame
	alloc.blockState[frame-alloc.firstFrame] = uint8(order) + 1
}

// remove unlinks a specific free block from its order list.
func (alloc *buddyAllocator) remove(frame mm.Frame, order int) {
	cur := alloc.freeHeads[order]
	if cur == frame {
		alloc.freeHeads[order] = *nextPtr(frame)
	} else {
		for cur.Valid() {
			next := *nextPtr(cur)
			if next == frame {
				*nextPtr(cur) = *nextPtr(frame)
				break
			}
			cur = next
		}
	}
	alloc.blockState[frame-alloc.firstFrame] = 0
}

// Alloc reserves a naturally aligned block of 1<<order contiguous frames.
func (alloc *buddyAllocator) Alloc(order int) (mm.Frame, *kernel.Error) {
	if order > MaxOrder {
		return mm.InvalidFrame, errBuddyBadOrder
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	avail := order
	for avail <= MaxOrder && !alloc.freeHeads[avail].Valid() {
		avail++
	}
	if avail > MaxOrder {
		return mm.InvalidFrame, errBuddyOutOfMemory
	}

	frame := alloc.freeHeads[avail]
	alloc.freeHeads[avail] = *nextPtr(frame)
	alloc.blockState[frame-alloc.firstFrame] = 0

	// Split the block down to the requested order, pushing the upper
	// halves back on their lists.
	for avail > order {
		avail--
		alloc.push(frame+mm.Frame(1<<avail), avail)
	}

	return frame, nil
}

// Free returns a block of 1<<order frames to the allocator, coalescing it
// with its buddy at each order while possible.
func (alloc *buddyAllocator) Free(frame mm.Frame, order int) *kernel.Error {
	if order > MaxOrder {
		return errBuddyBadOrder
	}
	if !alloc.tracked(frame) {
		return errBuddyUntracked
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.blockState[frame-alloc.firstFrame] != 0 {
		kernel.Assert(false, errBuddyDoubleFree)
		return errBuddyDoubleFree
	}

	for order < MaxOrder {
		buddy := frame ^ mm.Frame(1<<order)
		if !alloc.tracked(buddy) || alloc.blockState[buddy-alloc.firstFrame] != uint8(order)+1 {
			break
		}

		alloc.remove(buddy, order)
		if buddy < frame {
			frame = buddy
		}
		order++
	}

	alloc.push(frame, order)
	return nil
}
