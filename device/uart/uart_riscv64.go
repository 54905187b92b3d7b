package uart

// The virt machine maps its ns16550 at a fixed address with byte-spaced
// registers; the entry code rewrites the base when the device tree says
// otherwise.
var (
	consoleBase     = uintptr(0xffffffc010000000)
	consoleRegShift = uint8(0)
)

// SetConsoleBase points the console at the port discovered in the device
// tree.
func SetConsoleBase(base uintptr, regShift uint8) {
	consoleBase, consoleRegShift = base, regShift
}
