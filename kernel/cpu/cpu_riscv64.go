package cpu

// SBI extension and function identifiers used by the kernel. Firmware
// services are reached through the sbiCall ecall shim below.
const (
	sbiExtTimer     = 0x54494d45
	sbiExtIPI       = 0x735049
	sbiExtRfence    = 0x52464e43
	sbiExtHSM       = 0x48534d
	sbiExtSysReset  = 0x53525354
	sbiFnSetTimer   = 0
	sbiFnSendIPI    = 0
	sbiFnRemoteFence = 0
	sbiFnHartStart  = 0
)

// sbiCall performs a supervisor-to-machine ecall using the standard SBI
// calling convention (extension id in a7, function id in a6, arguments in
// a0-a2). It returns the SBI error and value registers.
func sbiCall(ext, fn uintptr, arg0, arg1, arg2 uintptr) (sbiErr, sbiVal uintptr)

// sbiCallFn is mocked by tests and is automatically inlined by the compiler.
var sbiCallFn = sbiCall

// SetTimer programs the next timer interrupt for the local hart. The
// deadline is expressed in time-base ticks.
func SetTimer(deadline uint64) {
	sbiCallFn(sbiExtTimer, sbiFnSetTimer, uintptr(deadline), 0, 0)
}

// SendIPI raises a supervisor software interrupt on the harts selected by
// the given mask. The mask base is always zero.
func SendIPI(hartMask uintptr) {
	sbiCallFn(sbiExtIPI, sbiFnSendIPI, hartMask, 0, 0)
}

// StartHart asks the firmware to release a secondary hart into the kernel
// entry point with the supplied opaque argument in a1.
func StartHart(hartID uint32, entryAddr, arg uintptr) uintptr {
	err, _ := sbiCallFn(sbiExtHSM, sbiFnHartStart, uintptr(hartID), entryAddr, arg)
	return err
}

// ReadTime returns the current value of the time CSR, the monotonic
// time-base shared by all harts.
func ReadTime() uint64

// ReadTrapValue returns the stval CSR recorded for the current trap: the
// faulting virtual address for page faults, the offending instruction bits
// for illegal-instruction traps.
func ReadTrapValue() uintptr

// ReadTrapCause returns the scause CSR for the current trap. The top bit
// distinguishes interrupts from exceptions.
func ReadTrapCause() uintptr
