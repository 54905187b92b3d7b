package device

import (
	"io"

	"helios/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprint.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// Detection order values for DriverInfo. Drivers with lower order values
// probe first; the console must come up before anything that logs.
const (
	DetectOrderEarly  = -100
	DetectOrderNormal = 0
	DetectOrderLast   = 100
)

// DriverInfo describes a registered driver and its detection priority.
type DriverInfo struct {
	// Order controls when the driver probes relative to the others.
	Order int

	// Probe scans for the hardware this driver manages.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers sortable by detection
// order.
type DriverInfoList []*DriverInfo

// Len returns the number of entries in the list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the list by their detection order.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds a driver to the registry consulted by hardware
// detection.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}

// ConsoleDevice is a driver for a byte-oriented console. The kernel logs
// through it and the fd 1/2 write path reaches it.
type ConsoleDevice interface {
	Driver
	io.Writer

	// ReadByte returns the next input byte, or false when no input is
	// pending.
	ReadByte() (byte, bool)
}

// BlockDevice is a driver for a block-addressed storage device. The root
// filesystem mounts from block 0 of the first device discovered.
type BlockDevice interface {
	Driver

	// ReadBlock fills buf with the contents of the given block. buf must
	// hold at least BlockSize bytes.
	ReadBlock(index uint64, buf []byte) *kernel.Error

	// WriteBlock stores buf into the given block.
	WriteBlock(index uint64, buf []byte) *kernel.Error

	// BlockSize returns the device's block size in bytes.
	BlockSize() uint32
}
