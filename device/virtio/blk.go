// Package virtio implements the minimal virtio-blk driver the kernel needs
// to mount its root filesystem: a single polled virtqueue over the legacy
// MMIO transport (riscv64 virt) or the PCI transport (loong64).
package virtio

import (
	"io"
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
)

const (
	blkSectorSize = 512

	// virtio-blk request types.
	reqTypeIn  = 0
	reqTypeOut = 1

	statusOK = 0

	// descriptor flags.
	descFlagNext  = 1
	descFlagWrite = 2

	queueSize = 8
)

var (
	errBlkIO        = &kernel.Error{Module: "virtio", Message: "block request failed"}
	errBlkShortBuf  = &kernel.Error{Module: "virtio", Message: "buffer smaller than block size"}
	errBlkBadDevice = &kernel.Error{Module: "virtio", Message: "device id mismatch during negotiation"}
)

// virtqDesc is one entry of the descriptor table, laid out per the virtio
// specification.
type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

// blkReqHeader precedes every request in guest memory.
type blkReqHeader struct {
	reqType  uint32
	reserved uint32
	sector   uint64
}

// Device is a single virtio-blk disk.
type Device struct {
	transport transport

	// The virtqueue lives in one physically contiguous frame.
	ringFrame mm.Frame
	desc      *[queueSize]virtqDesc
	availIdx  *uint16
	availRing *[queueSize]uint16
	usedIdx   *uint16

	// request staging area: header, data and status byte share a frame.
	reqFrame mm.Frame

	capacity uint64
}

// transport abstracts the MMIO and PCI register layouts.
type transport interface {
	negotiate() *kernel.Error
	queueSetup(ringPhys uintptr) *kernel.Error
	notify()
	usedAdvanced(last uint16) bool
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string { return "virtio-blk" }

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit negotiates features and installs the virtqueue.
func (d *Device) DriverInit(_ io.Writer) *kernel.Error {
	if err := d.transport.negotiate(); err != nil {
		return err
	}

	ringFrame, err := mm.AllocFrame()
	if err != nil {
		return err
	}
	d.ringFrame = ringFrame

	base := mm.PhysToVirt(ringFrame.Address())
	kernel.Memset(base, 0, mm.PageSize)
	d.desc = (*[queueSize]virtqDesc)(unsafe.Pointer(base))

	availBase := base + unsafe.Sizeof(virtqDesc{})*queueSize
	d.availIdx = (*uint16)(unsafe.Pointer(availBase + 2))
	d.availRing = (*[queueSize]uint16)(unsafe.Pointer(availBase + 4))

	usedBase := (availBase + 4 + 2*queueSize + mm.PageSize/2 - 1) &^ (mm.PageSize/2 - 1)
	d.usedIdx = (*uint16)(unsafe.Pointer(usedBase + 2))

	if d.reqFrame, err = mm.AllocFrame(); err != nil {
		return err
	}

	return d.transport.queueSetup(ringFrame.Address())
}

// BlockSize returns the device's block size in bytes.
func (d *Device) BlockSize() uint32 { return blkSectorSize }

// ReadBlock fills buf with the contents of the given block.
func (d *Device) ReadBlock(index uint64, buf []byte) *kernel.Error {
	return d.request(reqTypeIn, index, buf)
}

// WriteBlock stores buf into the given block.
func (d *Device) WriteBlock(index uint64, buf []byte) *kernel.Error {
	return d.request(reqTypeOut, index, buf)
}

// request stages a three-descriptor chain (header, data, status) and polls
// the used ring for completion. Callers already serialize through the
// page-cache locks, so the queue needs no lock of its own.
func (d *Device) request(reqType uint32, sector uint64, buf []byte) *kernel.Error {
	if len(buf) < blkSectorSize {
		return errBlkShortBuf
	}

	reqPhys := d.reqFrame.Address()
	reqVirt := mm.PhysToVirt(reqPhys)

	header := (*blkReqHeader)(unsafe.Pointer(reqVirt))
	header.reqType = reqType
	header.reserved = 0
	header.sector = sector

	dataPhys := reqPhys + uintptr(unsafe.Sizeof(blkReqHeader{}))
	data := unsafe.Slice((*byte)(unsafe.Pointer(reqVirt+unsafe.Sizeof(blkReqHeader{}))), blkSectorSize)
	statusPhys := dataPhys + blkSectorSize
	status := (*byte)(unsafe.Pointer(reqVirt + unsafe.Sizeof(blkReqHeader{}) + blkSectorSize))
	*status = 0xff

	if reqType == reqTypeOut {
		copy(data, buf[:blkSectorSize])
	}

	dataFlags := uint16(descFlagNext)
	if reqType == reqTypeIn {
		dataFlags |= descFlagWrite
	}

	d.desc[0] = virtqDesc{addr: uint64(reqPhys), len: uint32(unsafe.Sizeof(blkReqHeader{})), flags: descFlagNext, next: 1}
	d.desc[1] = virtqDesc{addr: uint64(dataPhys), len: blkSectorSize, flags: dataFlags, next: 2}
	d.desc[2] = virtqDesc{addr: uint64(statusPhys), len: 1, flags: descFlagWrite}

	last := *d.usedIdx
	d.availRing[*d.availIdx%queueSize] = 0
	*d.availIdx++
	d.transport.notify()

	for !d.transport.usedAdvanced(last) {
	}

	if *status != statusOK {
		return errBlkIO
	}

	if reqType == reqTypeIn {
		copy(buf[:blkSectorSize], data)
	}
	return nil
}
