package hal

import (
	"helios/kernel"
	"helios/kernel/cpu"
)

var errProbeFault = &kernel.Error{Module: "hal", Message: "user probe faulted"}

// probeState tracks, per hart, whether a user probe is in flight. The trap
// dispatcher consults it for kernel-mode page faults: a fault with the flag
// raised is not fatal, it aborts the probe and surfaces as a returned
// error.
var probeState [cpu.MaxHarts]struct {
	active  bool
	faulted bool
}

// probeReadByte and probeWriteByte perform the actual single-byte access.
// They are implemented in the per-arch trap assembly at a known PC range so
// the fault fix-up can skip the access; a fault rewrites the result flag
// instead of unwinding.
func probeReadByte(addr uintptr) byte
func probeWriteByte(addr uintptr, val byte)

// probeReadByteFn and probeWriteByteFn are mocked by tests.
var (
	probeReadByteFn  = probeReadByte
	probeWriteByteFn = probeWriteByte
)

// UserProber is the HAL implementation of the vmm probe interface: a
// single-byte access under scoped trap redirection.
type UserProber struct{}

// ProbeReadByte reads one byte from a user virtual address. A page fault
// during the access is reported as an error instead of a panic.
func (UserProber) ProbeReadByte(addr uintptr) (byte, *kernel.Error) {
	hart := cpu.HartID()
	probeState[hart].active = true
	probeState[hart].faulted = false

	val := probeReadByteFn(addr)

	probeState[hart].active = false
	if probeState[hart].faulted {
		return 0, errProbeFault
	}
	return val, nil
}

// ProbeWriteByte writes one byte to a user virtual address. A page fault
// during the access is reported as an error instead of a panic.
func (UserProber) ProbeWriteByte(addr uintptr, val byte) *kernel.Error {
	hart := cpu.HartID()
	probeState[hart].active = true
	probeState[hart].faulted = false

	probeWriteByteFn(addr, val)

	probeState[hart].active = false
	if probeState[hart].faulted {
		return errProbeFault
	}
	return nil
}

// ProbeActive reports whether a user probe is in flight on the given hart.
// The trap dispatcher calls it to classify kernel-mode page faults.
func ProbeActive(hartID uint32) bool {
	return probeState[hartID].active
}

// ProbeFaulted marks the in-flight probe on the given hart as faulted; the
// trap dispatcher calls it before skipping the access instruction.
func ProbeFaulted(hartID uint32) {
	probeState[hartID].faulted = true
}
