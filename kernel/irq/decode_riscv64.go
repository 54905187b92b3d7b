package irq

import (
	"unsafe"

	"helios/kernel/cpu"
	"helios/kernel/mm/vmm"
)

// scause exception codes.
const (
	causeInterrupt = uintptr(1) << 63

	excIllegalInstruction = 2
	excBreakpoint         = 3
	excEcallFromUser      = 8
	excInstructionFault   = 12
	excLoadFault          = 13
	excStoreFault         = 15

	intSoftware = 1
	intTimer    = 5
	intExternal = 9
)

// Decode translates the scause/stval pair of the current trap into a
// TrapInfo. The entry stub records the interrupted privilege level.
func Decode(fromUser bool) TrapInfo {
	cause := cpu.ReadTrapCause()

	if cause&causeInterrupt != 0 {
		switch cause &^ causeInterrupt {
		case intTimer:
			return TrapInfo{Kind: TrapTimer, FromUser: fromUser}
		case intSoftware:
			return TrapInfo{Kind: TrapSoftIrq, FromUser: fromUser}
		case intExternal:
			return TrapInfo{Kind: TrapExternalIrq, IrqNum: claimExternalIrq(), FromUser: fromUser}
		}
		return TrapInfo{Kind: TrapUnknown, FromUser: fromUser}
	}

	switch cause {
	case excEcallFromUser:
		return TrapInfo{Kind: TrapSyscall, FromUser: fromUser}
	case excInstructionFault:
		return TrapInfo{Kind: TrapPageFault, FaultAddr: cpu.ReadTrapValue(), FaultAccess: vmm.AccessExec, FromUser: fromUser}
	case excLoadFault:
		return TrapInfo{Kind: TrapPageFault, FaultAddr: cpu.ReadTrapValue(), FaultAccess: vmm.AccessRead, FromUser: fromUser}
	case excStoreFault:
		return TrapInfo{Kind: TrapPageFault, FaultAddr: cpu.ReadTrapValue(), FaultAccess: vmm.AccessWrite, FromUser: fromUser}
	case excIllegalInstruction:
		return TrapInfo{Kind: TrapIllegal, FromUser: fromUser}
	case excBreakpoint:
		return TrapInfo{Kind: TrapBreakpoint, FromUser: fromUser}
	}

	return TrapInfo{Kind: TrapUnknown, FromUser: fromUser}
}

// plicBase is the mapped address of the platform-level interrupt
// controller; the claim/complete register of a hart's supervisor context
// sits at a fixed stride from it.
var plicBase = uintptr(0xffffffc00c000000)

const (
	plicClaimOffset   = 0x201004
	plicContextStride = 0x2000
)

// SetPLICBase points the interrupt claim path at the controller found in
// the device tree.
func SetPLICBase(base uintptr) { plicBase = base }

func plicClaimReg() *uint32 {
	ctx := uintptr(cpu.HartID()) * plicContextStride
	return (*uint32)(unsafe.Pointer(plicBase + plicClaimOffset + ctx))
}

// claimExternalIrq reads the pending interrupt number from the PLIC claim
// register.
func claimExternalIrq() uint32 {
	return *plicClaimReg()
}

// CompleteExternalIrq signals end-of-interrupt to the PLIC.
func CompleteExternalIrq(irqNum uint32) {
	*plicClaimReg() = irqNum
}
