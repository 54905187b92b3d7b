package vmm

// Kernel virtual reservation window inside the high mapped window.
const (
	earlyReserveBottom = uintptr(0x9000000100000000)
	earlyReserveTop    = uintptr(0x9000000180000000)
)
