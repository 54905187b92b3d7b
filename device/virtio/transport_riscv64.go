package virtio

import (
	"unsafe"

	"helios/device"
	"helios/kernel"
)

// Legacy MMIO transport register offsets.
const (
	mmioMagic       = 0x000
	mmioDeviceID    = 0x008
	mmioStatus      = 0x070
	mmioQueueSel    = 0x030
	mmioQueueNumMax = 0x034
	mmioQueueNum    = 0x038
	mmioQueuePFN    = 0x040
	mmioQueueNotify = 0x050

	mmioMagicValue  = 0x74726976
	deviceIDBlock   = 2

	statusAck      = 1
	statusDriver   = 2
	statusDriverOK = 4
)

// mmioTransport drives the legacy virtio-mmio window of the virt machine.
type mmioTransport struct {
	base   uintptr
	device *Device
}

func (t *mmioTransport) reg32(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(t.base + offset))
}

func (t *mmioTransport) negotiate() *kernel.Error {
	if *t.reg32(mmioMagic) != mmioMagicValue || *t.reg32(mmioDeviceID) != deviceIDBlock {
		return errBlkBadDevice
	}

	*t.reg32(mmioStatus) = statusAck
	*t.reg32(mmioStatus) = statusAck | statusDriver
	return nil
}

func (t *mmioTransport) queueSetup(ringPhys uintptr) *kernel.Error {
	*t.reg32(mmioQueueSel) = 0
	if *t.reg32(mmioQueueNumMax) < queueSize {
		return errBlkBadDevice
	}
	*t.reg32(mmioQueueNum) = queueSize
	*t.reg32(mmioQueuePFN) = uint32(ringPhys >> 12)
	*t.reg32(mmioStatus) = statusAck | statusDriver | statusDriverOK
	return nil
}

func (t *mmioTransport) notify() {
	*t.reg32(mmioQueueNotify) = 0
}

func (t *mmioTransport) usedAdvanced(last uint16) bool {
	return *t.device.usedIdx != last
}

// mmioBases lists the virtio-mmio slots to probe. The default holds only the
// first slot of the virt machine; SetMMIOBases replaces the list.
var mmioBases = []uintptr{0xffffffc010001000}

// SetMMIOBases points the probe at the slots found in the device tree.
func SetMMIOBases(bases []uintptr) { mmioBases = bases }

func probeForDevice() device.Driver {
	for _, base := range mmioBases {
		t := &mmioTransport{base: base}
		if *t.reg32(mmioMagic) != mmioMagicValue || *t.reg32(mmioDeviceID) != deviceIDBlock {
			continue
		}
		dev := &Device{transport: t}
		t.device = dev
		return dev
	}
	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForDevice,
	})
}
