// Package hal is the architecture-neutral face of the hardware: trap
// context layout, timer and IPI access, hart identity, the user-probe
// machinery and the boot information handed up by the entry code.
package hal

import (
	"bytes"
	"sort"

	"helios/device"
	"helios/kernel/kfmt"
	"helios/kernel/mm/pmm"
)

// BootInfo carries everything the entry code discovered before the kernel
// proper took over: the usable memory map, the boot command line and the
// number of harts.
type BootInfo struct {
	// MemRanges lists the usable physical memory regions excluding the
	// kernel image.
	MemRanges []pmm.Range

	// CmdLine holds the boot command line key=value pairs.
	CmdLine map[string]string

	// HartCount is the number of harts the platform reports.
	HartCount uint32

	// BootHart identifies the hart the firmware entered on.
	BootHart uint32

	// KernelStart and KernelEnd delimit the loaded kernel image.
	KernelStart, KernelEnd uintptr

	// DirectMapOffset is the offset of the identity window established
	// by the entry code.
	DirectMapOffset uintptr

	// KernelTableRoot is the physical address of the page-table root the
	// entry code built for the kernel high half.
	KernelTableRoot uintptr
}

var bootInfo BootInfo

// SetBootInfo records the boot information. The entry code calls it once
// before kmain runs.
func SetBootInfo(info BootInfo) { bootInfo = info }

// GetBootInfo returns the recorded boot information.
func GetBootInfo() *BootInfo { return &bootInfo }

// CmdLineValue returns the value of a boot command line option.
func CmdLineValue(key string) (string, bool) {
	val, ok := bootInfo.CmdLine[key]
	return val, ok
}

// HartCount returns the number of harts the platform reports.
func HartCount() uint32 {
	if bootInfo.HartCount == 0 {
		return 1
	}
	return bootInfo.HartCount
}

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole device.ConsoleDevice
	activeBlock   []device.BlockDevice

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer
)

// ActiveConsole returns the currently active console device.
func ActiveConsole() device.ConsoleDevice {
	return devices.activeConsole
}

// BlockDevices returns the block devices discovered at boot in probe
// order; the root filesystem mounts from the first one.
func BlockDevices() []device.BlockDevice {
	return devices.activeBlock
}

// DetectHardware probes for hardware devices and initializes the
// appropriate drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is
// detected and successfully initialized. The first console found becomes
// the kfmt output sink; block devices queue up for the mount code.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case device.ConsoleDevice:
		if devices.activeConsole != nil {
			return
		}
		devices.activeConsole = drvImpl
		kfmt.SetOutputSink(drvImpl)
	case device.BlockDevice:
		devices.activeBlock = append(devices.activeBlock, drvImpl)
	}
}
