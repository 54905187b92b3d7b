package hal

import (
	"helios/kernel/cpu"
	"helios/kernel/kfmt"
)

// secondaryEntry is the assembly entry point secondary harts start at; it
// builds a stack, enables paging with the boot page table and calls into
// the executor.
func secondaryEntry()

var startHartFn = cpu.StartHart

// StartSecondaryHarts asks the SBI hart state machine to release every
// secondary hart into the kernel. Harts that fail to start are logged and
// left to the firmware.
func StartSecondaryHarts() {
	boot := GetBootInfo()
	entry := secondaryEntryAddr()

	for hart := uint32(0); hart < boot.HartCount; hart++ {
		if hart == boot.BootHart {
			continue
		}

		if sbiErr := startHartFn(hart, entry, uintptr(hart)); sbiErr != 0 {
			kfmt.Printf("[hal] hart %d failed to start: sbi error %d\n", hart, int64(sbiErr))
		}
	}
}

// secondaryEntryAddr returns the physical address of the secondary entry
// stub. The SBI hart_start call takes physical addresses; the stub lives in
// the identity-mapped boot section.
func secondaryEntryAddr() uintptr
