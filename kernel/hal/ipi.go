package hal

import (
	"sync/atomic"

	"helios/kernel/cpu"
)

// IPIReason identifies why an inter-processor interrupt was raised. A hart
// may be targeted for several reasons at once; the handler drains them all.
type IPIReason uint32

const (
	// IPIReschedule asks the target executor to re-poll its run queue.
	IPIReschedule IPIReason = 1 << iota

	// IPIShootdown asks the target to flush the published TLB range and
	// acknowledge.
	IPIShootdown

	// IPIHalt asks the target to park; raised on panic and shutdown.
	IPIHalt
)

// pendingIPI accumulates the reasons pending per hart.
var pendingIPI [cpu.MaxHarts]uint32

var sendIPIFn = cpu.SendIPI

// SendIPI raises an inter-processor interrupt for the given reason on every
// hart in the mask.
func SendIPI(hartMask uint64, reason IPIReason) {
	for hart := uint32(0); hart < cpu.MaxHarts; hart++ {
		if hartMask&(1<<hart) != 0 {
			orUint32(&pendingIPI[hart], uint32(reason))
		}
	}
	sendIPIFn(uintptr(hartMask))
}

func orUint32(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|bits) {
			return
		}
	}
}

// DrainIPIReasons atomically fetches and clears the pending reasons for the
// local hart; the IPI trap handler consumes the result.
func DrainIPIReasons(hartID uint32) IPIReason {
	return IPIReason(atomic.SwapUint32(&pendingIPI[hartID], 0))
}
