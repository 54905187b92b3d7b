package mm

import (
	"sync/atomic"

	"helios/kernel"
)

var (
	// frames tracks the reference count for every physical frame below
	// the maximum PFN reported at boot. The counts live in a flat array
	// parallel to the frame space so that lookups are a single index
	// operation from fault-handling code.
	frames frameTable

	errRefUnderflow    = &kernel.Error{Module: "mm", Message: "reference count underflow"}
	errFrameOutOfRange = &kernel.Error{Module: "mm", Message: "frame index exceeds the tracked physical range"}
)

type frameTable struct {
	refCounts []uint32
}

func (t *frameTable) setRefCount(frame Frame, count uint32) {
	if int(frame) < len(t.refCounts) {
		atomic.StoreUint32(&t.refCounts[frame], count)
	}
}

// InitRefCounts sizes the frame reference-count table for the given number
// of physical frames. It must be called once at boot before the first
// AllocFrame and is backed by memory obtained from the boot allocator.
func InitRefCounts(table []uint32) {
	frames.refCounts = table
}

// RefCount returns the number of page-table mappings that point at the
// given frame.
func RefCount(frame Frame) uint32 {
	if int(frame) >= len(frames.refCounts) {
		return 0
	}
	return atomic.LoadUint32(&frames.refCounts[frame])
}

// IncRef adds a mapping reference to the given frame.
func IncRef(frame Frame) *kernel.Error {
	if int(frame) >= len(frames.refCounts) {
		return errFrameOutOfRange
	}

	atomic.AddUint32(&frames.refCounts[frame], 1)
	return nil
}

// DecRef drops a mapping reference from the given frame. When the last
// reference goes away the frame is handed back to the physical allocator.
// DecRef returns the remaining reference count.
func DecRef(frame Frame) (uint32, *kernel.Error) {
	if int(frame) >= len(frames.refCounts) {
		return 0, errFrameOutOfRange
	}

	for {
		old := atomic.LoadUint32(&frames.refCounts[frame])
		if old == 0 {
			kernel.Assert(false, errRefUnderflow)
			return 0, errRefUnderflow
		}

		if !atomic.CompareAndSwapUint32(&frames.refCounts[frame], old, old-1) {
			continue
		}

		if old == 1 {
			if err := frameFreer(frame); err != nil {
				return 0, err
			}
		}

		return old - 1, nil
	}
}
