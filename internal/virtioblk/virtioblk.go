// Package virtioblk implements the legacy VirtIO MMIO block device
// protocol: a driver half that issues 3-descriptor request chains over a
// 16-entry virtqueue, and a device half — an in-process virtio-blk device
// backing a byte-slice disk image — so the driver can be exercised against
// a faithful protocol peer instead of a mocked disk.
package virtioblk

import (
	"fmt"
	"log/slog"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/kernel"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
)

// Legacy virtio-mmio register offsets (the subset this driver touches).
const (
	RegMagicValue   = 0x000
	RegVersion      = 0x004
	RegDeviceID     = 0x008
	RegQueueSel     = 0x030
	RegQueueNumMax  = 0x034
	RegQueueNum     = 0x038
	RegQueueAlign   = 0x03c
	RegQueuePFN     = 0x040
	RegQueueNotify  = 0x050
	RegStatus       = 0x070
	RegConfig       = 0x100
)

const (
	magicValue   = 0x74726976
	version      = 1
	deviceIDBlk  = 2
)

// Device status bits.
const (
	StatusAck        = 1 << 0
	StatusDriver     = 1 << 1
	StatusDriverOK   = 1 << 2
	StatusFeaturesOK = 1 << 3
)

// SectorSize is the fixed block size of the device.
const SectorSize = 512

// QueueDepth is the fixed virtqueue capacity.
const QueueDepth = 16

const (
	reqTypeIn  = 0 // device reads: this is a read request
	reqTypeOut = 1 // device writes: this is a write request
)

const (
	descFlagNext  = 1 << 0
	descFlagWrite = 1 << 1 // device writes into the descriptor's buffer
)

const reqHeaderSize = 16 // type u32 + reserved u32 + sector u64

// MMIO is the byte-addressed register file a driver issues reads and
// writes against. Device implements it directly; nothing else needs to.
type MMIO interface {
	ReadReg32(off uint32) uint32
	WriteReg32(off uint32, val uint32)
	ReadReg64(off uint32) uint64
}

// Driver is the guest-side half of the protocol.
type Driver struct {
	mmio     MMIO
	alloc    *physmem.Allocator
	log      *slog.Logger
	vqBase   addr.Pa
	reqBase  addr.Pa
	capacity uint64 // bytes
}

// Init performs the device handshake (magic/version/id check, ACK, DRIVER,
// FEATURES_OK, virtqueue allocation, DRIVER_OK) and reads the device
// capacity, per the legacy virtio-blk init sequence. A failed handshake is
// fatal (spec.md §4.4, §7: "invalid VirtIO magic/version/device-id") and
// halts the hart through kernel.Panic rather than returning an error.
func Init(mmio MMIO, alloc *physmem.Allocator, log *slog.Logger) *Driver {
	if got := mmio.ReadReg32(RegMagicValue); got != magicValue {
		kernel.Panic(log, &kernel.Fault{Message: fmt.Sprintf("virtioblk: bad magic %#x", got)})
	}
	if got := mmio.ReadReg32(RegVersion); got != version {
		kernel.Panic(log, &kernel.Fault{Message: fmt.Sprintf("virtioblk: unsupported version %d", got)})
	}
	if got := mmio.ReadReg32(RegDeviceID); got != deviceIDBlk {
		kernel.Panic(log, &kernel.Fault{Message: fmt.Sprintf("virtioblk: unexpected device id %d", got)})
	}

	mmio.WriteReg32(RegStatus, 0)
	mmio.WriteReg32(RegStatus, StatusAck)
	mmio.WriteReg32(RegStatus, StatusAck|StatusDriver)
	mmio.WriteReg32(RegStatus, StatusAck|StatusDriver|StatusFeaturesOK)

	// Descriptor table + avail ring in the first page, used ring
	// page-aligned in the second, per the legacy layout.
	vqBase := alloc.Alloc(2 * physmem.PageSize)

	mmio.WriteReg32(RegQueueSel, 0)
	mmio.WriteReg32(RegQueueNum, QueueDepth)
	mmio.WriteReg32(RegQueueAlign, 0)
	mmio.WriteReg32(RegQueuePFN, uint32(vqBase)/physmem.PageSize)

	mmio.WriteReg32(RegStatus, StatusAck|StatusDriver|StatusFeaturesOK|StatusDriverOK)

	capacitySectors := mmio.ReadReg64(RegConfig)

	reqBase := alloc.AllocPage()

	return &Driver{
		mmio:     mmio,
		alloc:    alloc,
		log:      log,
		vqBase:   vqBase,
		reqBase:  reqBase,
		capacity: capacitySectors * SectorSize,
	}
}

// descTableOff / availOff / usedOff are byte offsets within the two-page
// virtqueue region allocated by Init.
const (
	descTableOff = 0
	availOff     = QueueDepth * 16
	usedOff      = physmem.PageSize
)

func (d *Driver) vq() []byte {
	return d.alloc.Bytes(d.vqBase, 2*physmem.PageSize)
}

// ReadWrite issues a single synchronous sector transfer. buf must be
// exactly SectorSize bytes. An out-of-range sector is logged and ignored
// (spec.md §7: a silent, non-fatal condition) — buf is left untouched and
// ReadWrite returns nil.
func (d *Driver) ReadWrite(buf []byte, sector uint64, isWrite bool) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("virtioblk: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.capacity/SectorSize {
		d.log.Warn("virtioblk: sector out of range", "sector", sector, "capacitySectors", d.capacity/SectorSize)
		return nil
	}

	req := d.alloc.Bytes(d.reqBase, uint32(reqHeaderSize+SectorSize+1))

	reqType := uint32(reqTypeIn)
	if isWrite {
		reqType = reqTypeOut
		copy(req[reqHeaderSize:reqHeaderSize+SectorSize], buf)
	}

	putU32(req[0:], reqType)
	putU32(req[4:], 0)
	putU64(req[8:], sector)

	vq := d.vq()

	dataFlags := uint16(descFlagNext)
	if !isWrite {
		dataFlags |= descFlagWrite
	}

	writeDesc(vq, descTableOff+0*16, uint64(d.reqBase), reqHeaderSize, descFlagNext, 1)
	writeDesc(vq, descTableOff+1*16, uint64(d.reqBase)+reqHeaderSize, SectorSize, dataFlags, 2)
	writeDesc(vq, descTableOff+2*16, uint64(d.reqBase)+reqHeaderSize+SectorSize, 1, descFlagWrite, 0)

	availIdx := getU16(vq[availOff+2:])
	putU16(vq[availOff+4+2*(availIdx%QueueDepth):], 0)
	putU16(vq[availOff+2:], availIdx+1)

	// sequentially-consistent fence separating the avail-ring update from
	// the notify write would go here on real hardware; single-goroutine
	// execution makes it a no-op here.

	d.mmio.WriteReg32(RegQueueNotify, 0)

	usedIdx := getU16(vq[usedOff+2:])
	for usedIdx == availIdx {
		usedIdx = getU16(vq[usedOff+2:])
	}

	status := req[reqHeaderSize+SectorSize]
	if status != 0 {
		d.log.Warn("virtioblk: device reported non-zero status", "status", status, "sector", sector)
		return nil
	}

	if !isWrite {
		copy(buf, req[reqHeaderSize:reqHeaderSize+SectorSize])
	}

	return nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU64(b []byte, v uint64) {
	putU32(b, uint32(v))
	putU32(b[4:], uint32(v>>32))
}

func getU64(b []byte) uint64 {
	return uint64(getU32(b)) | uint64(getU32(b[4:]))<<32
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func writeDesc(vq []byte, off int, addrVal uint64, length uint32, flags uint16, next uint16) {
	putU64(vq[off:], addrVal)
	putU32(vq[off+8:], length)
	putU16(vq[off+12:], flags)
	putU16(vq[off+14:], next)
}

func readDesc(vq []byte, off int) (addrVal uint64, length uint32, flags uint16, next uint16) {
	addrVal = getU64(vq[off:])
	length = getU32(vq[off+8:])
	flags = getU16(vq[off+12:])
	next = getU16(vq[off+14:])

	return
}
