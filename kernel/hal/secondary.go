package hal

import "helios/kernel/cpu"

// SecondaryEntryFn is invoked on each secondary hart once its assembly
// entry has set up a stack and paging; kmain points it at the executor
// loop before releasing the harts.
var SecondaryEntryFn func()

// secondaryStart is called from the secondary-entry assembly stub.
func secondaryStart() {
	if SecondaryEntryFn != nil {
		SecondaryEntryFn()
	}
	cpu.Halt()
}
