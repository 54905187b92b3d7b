// Package uart drives the ns16550-compatible serial ports that both
// supported platforms expose for their primary console.
package uart

import (
	"io"
	"unsafe"

	"helios/device"
	"helios/kernel"
)

// ns16550 register offsets.
const (
	regData          = 0
	regInterruptEn   = 1
	regFifoControl   = 2
	regLineControl   = 3
	regLineStatus    = 5
	lineStatusRxReady = 1 << 0
	lineStatusTxEmpty = 1 << 5
)

// Device drives one ns16550 port through its MMIO window.
type Device struct {
	base uintptr

	// regShift spaces the registers; some platforms map them on 32-bit
	// strides.
	regShift uint8
}

func (d *Device) reg(offset uintptr) *byte {
	return (*byte)(unsafe.Pointer(d.base + (offset << d.regShift)))
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string { return "ns16550" }

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) { return 0, 2, 0 }

// DriverInit initializes the port: FIFOs on, 8n1, interrupts off (the
// console is polled).
func (d *Device) DriverInit(_ io.Writer) *kernel.Error {
	*d.reg(regInterruptEn) = 0x00
	*d.reg(regFifoControl) = 0x07
	*d.reg(regLineControl) = 0x03
	return nil
}

// Write sends p to the port, translating bare newlines to CRLF.
func (d *Device) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			d.putByte('\r')
		}
		d.putByte(b)
	}
	return len(p), nil
}

func (d *Device) putByte(b byte) {
	for *d.reg(regLineStatus)&lineStatusTxEmpty == 0 {
	}
	*d.reg(regData) = b
}

// ReadByte returns the next input byte, or false when no input is pending.
func (d *Device) ReadByte() (byte, bool) {
	if *d.reg(regLineStatus)&lineStatusRxReady == 0 {
		return 0, false
	}
	return *d.reg(regData), true
}

func probeForDevice() device.Driver {
	if consoleBase == 0 {
		return nil
	}
	return &Device{base: consoleBase, regShift: consoleRegShift}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForDevice,
	})
}
