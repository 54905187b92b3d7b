package cpu

// Control and status registers reached through the csrrd/csrwr shims. The
// loongarch port enters in machine mode directly; there is no firmware
// layer equivalent to SBI, so timer and IPI programming talk to the CSRs
// and the per-core IOCSR mailbox block.
const (
	csrEstat  = 0x05
	csrEra    = 0x06
	csrBadV   = 0x07
	csrTCfg   = 0x41
	csrTVal   = 0x42
	csrTIClr  = 0x44
	iocsrIPISend = 0x1040
)

// csrRead returns the value of the given control and status register.
func csrRead(csr uintptr) uintptr

// csrWrite stores val into the given control and status register.
func csrWrite(csr, val uintptr)

// iocsrWrite stores val into the given IOCSR register.
func iocsrWrite(reg uintptr, val uint32)

// csr shims mocked by tests; the compiler inlines them in kernel builds.
var (
	csrReadFn    = csrRead
	csrWriteFn   = csrWrite
	iocsrWriteFn = iocsrWrite
)

// SetTimer arms the one-shot core timer to fire at the given absolute
// time-base deadline. The core timer counts down from its initial value,
// so the deadline is converted to the remaining number of ticks; deadlines
// already passed fire after the minimum count. Bit 0 of TCFG enables the
// timer; periodic mode stays off because the timer wheel re-arms explicitly.
func SetTimer(deadline uint64) {
	delta := uint64(4)
	if now := ReadTime(); deadline > now+delta {
		delta = deadline - now
	}
	csrWriteFn(csrTCfg, uintptr(delta&^0x3)|0x1)
}

// SendIPI raises an inter-processor interrupt on every hart selected by the
// mask through the IOCSR mailbox send register.
func SendIPI(hartMask uintptr) {
	for hart := uint32(0); hartMask != 0; hart, hartMask = hart+1, hartMask>>1 {
		if hartMask&1 != 0 {
			iocsrWriteFn(iocsrIPISend, hart<<16|1)
		}
	}
}

// StartHart releases a secondary core by writing its entry address into the
// boot mailbox and kicking it with an IPI.
func StartHart(hartID uint32, entryAddr, arg uintptr) uintptr

// ReadTime returns the stable counter value shared by all cores.
func ReadTime() uint64

// ReadTrapValue returns the BADV CSR recorded for the current trap.
func ReadTrapValue() uintptr

// ReadTrapCause returns the ESTAT CSR for the current trap.
func ReadTrapCause() uintptr
