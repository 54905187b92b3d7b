package virtio

import (
	"unsafe"

	"helios/device"
	"helios/kernel"
)

// PCI transport: legacy I/O bar register offsets.
const (
	pciDeviceFeatures = 0x00
	pciQueueAddress   = 0x08
	pciQueueSize      = 0x0c
	pciQueueSelect    = 0x0e
	pciQueueNotify    = 0x10
	pciStatus         = 0x12

	pciVendorVirtio = 0x1af4
	pciDeviceBlk    = 0x1001

	statusAck      = 1
	statusDriver   = 2
	statusDriverOK = 4
)

// ecamBase is the PCI configuration window of the platform.
var ecamBase = uintptr(0x9000000020000000)

// SetECAMBase points PCI discovery at the configuration window.
func SetECAMBase(base uintptr) { ecamBase = base }

// pciTransport drives a virtio-blk function through its mapped BAR.
type pciTransport struct {
	bar    uintptr
	device *Device
}

func (t *pciTransport) reg16(offset uintptr) *uint16 {
	return (*uint16)(unsafe.Pointer(t.bar + offset))
}

func (t *pciTransport) reg32(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(t.bar + offset))
}

func (t *pciTransport) reg8(offset uintptr) *uint8 {
	return (*uint8)(unsafe.Pointer(t.bar + offset))
}

func (t *pciTransport) negotiate() *kernel.Error {
	*t.reg8(pciStatus) = statusAck
	*t.reg8(pciStatus) = statusAck | statusDriver
	return nil
}

func (t *pciTransport) queueSetup(ringPhys uintptr) *kernel.Error {
	*t.reg16(pciQueueSelect) = 0
	if *t.reg16(pciQueueSize) < queueSize {
		return errBlkBadDevice
	}
	*t.reg32(pciQueueAddress) = uint32(ringPhys >> 12)
	*t.reg8(pciStatus) = statusAck | statusDriver | statusDriverOK
	return nil
}

func (t *pciTransport) notify() {
	*t.reg16(pciQueueNotify) = 0
}

func (t *pciTransport) usedAdvanced(last uint16) bool {
	return *t.device.usedIdx != last
}

// confRead32 reads a PCI configuration dword for bus/dev/fn through the
// memory-mapped configuration window.
func confRead32(bus, dev, fn, offset uintptr) uint32 {
	addr := ecamBase + (bus << 20) + (dev << 15) + (fn << 12) + offset
	return *(*uint32)(unsafe.Pointer(addr))
}

func probeForDevice() device.Driver {
	// Scan bus 0 for the first virtio block function.
	for dev := uintptr(0); dev < 32; dev++ {
		id := confRead32(0, dev, 0, 0)
		if id&0xffff != pciVendorVirtio || id>>16 != pciDeviceBlk {
			continue
		}

		// BAR0 is an I/O bar the firmware has already assigned and
		// mapped into the high window.
		bar := uintptr(confRead32(0, dev, 0, 0x10) &^ 0xf)
		t := &pciTransport{bar: ecamBase&^(uintptr(0xfffffff)) + bar}
		blkDev := &Device{transport: t}
		t.device = blkDev
		return blkDev
	}
	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForDevice,
	})
}
