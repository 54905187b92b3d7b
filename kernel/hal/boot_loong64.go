package hal

import (
	"helios/kernel/cpu"
	"helios/kernel/kfmt"
)

// secondaryEntry is the assembly entry point secondary cores start at after
// reading their mailbox; it builds a stack, programs the page-walk CSRs and
// calls into the executor.
func secondaryEntry()

var startHartFn = cpu.StartHart

// StartSecondaryHarts writes the secondary entry point into each core's
// boot mailbox and kicks it with an IPI.
func StartSecondaryHarts() {
	boot := GetBootInfo()
	entry := secondaryEntryAddr()

	for hart := uint32(0); hart < boot.HartCount; hart++ {
		if hart == boot.BootHart {
			continue
		}

		if mbErr := startHartFn(hart, entry, uintptr(hart)); mbErr != 0 {
			kfmt.Printf("[hal] core %d failed to start: mailbox error %d\n", hart, int64(mbErr))
		}
	}
}

// secondaryEntryAddr returns the physical address of the secondary entry
// stub inside the identity-mapped boot section.
func secondaryEntryAddr() uintptr
