package uart

// The la2k board maps its ns16550 behind the high window with byte-spaced
// registers.
var (
	consoleBase     = uintptr(0x900000001fe001e0)
	consoleRegShift = uint8(0)
)

// SetConsoleBase points the console at the port found during PCI/board
// discovery.
func SetConsoleBase(base uintptr, regShift uint8) {
	consoleBase, consoleRegShift = base, regShift
}
