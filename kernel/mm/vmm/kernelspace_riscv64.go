package vmm

// Kernel virtual reservation window for the Sv39 layout. The window sits
// below the fixmap slots at the very top of the high half.
const (
	earlyReserveBottom = uintptr(0xffffffd000000000)
	earlyReserveTop    = uintptr(0xffffffd800000000)
)
