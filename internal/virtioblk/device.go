package virtioblk

import (
	"fmt"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/physmem"
)

// Device is the in-process counterpart of Driver: a virtio-blk device
// backing a byte-slice disk image, sharing the guest's physical memory
// through the same *physmem.Allocator a real device would DMA into.
type Device struct {
	alloc *physmem.Allocator
	disk  []byte

	status  uint32
	queueNum uint32
	vqBase  addr.Pa

	lastAvailIdx uint16
}

// NewDevice creates a device backing disk (its length need not be a
// multiple of SectorSize; a transfer that would run past the end is not
// performed and completes with a non-zero status, and the driver's own
// capacity check already rejects any trailing partial sector).
func NewDevice(alloc *physmem.Allocator, disk []byte) *Device {
	return &Device{alloc: alloc, disk: disk}
}

// CapacitySectors is what RegConfig+0 reports: the disk size in whole
// sectors.
func (d *Device) CapacitySectors() uint64 {
	return uint64(len(d.disk)) / SectorSize
}

func (d *Device) ReadReg32(off uint32) uint32 {
	switch off {
	case RegMagicValue:
		return magicValue
	case RegVersion:
		return version
	case RegDeviceID:
		return deviceIDBlk
	case RegStatus:
		return d.status
	default:
		panic(fmt.Sprintf("virtioblk: device: unhandled 32-bit register read at %#x", off))
	}
}

func (d *Device) ReadReg64(off uint32) uint64 {
	if off != RegConfig {
		panic(fmt.Sprintf("virtioblk: device: unhandled 64-bit register read at %#x", off))
	}

	return d.CapacitySectors()
}

func (d *Device) WriteReg32(off uint32, val uint32) {
	switch off {
	case RegStatus:
		d.status = val
	case RegQueueSel:
		// single queue device, nothing to select
	case RegQueueNum:
		d.queueNum = val
	case RegQueueAlign:
		// legacy field, unused by this model
	case RegQueuePFN:
		d.vqBase = addr.Pa(val) * physmem.PageSize
	case RegQueueNotify:
		d.processQueue()
	default:
		panic(fmt.Sprintf("virtioblk: device: unhandled 32-bit register write at %#x", off))
	}
}

func (d *Device) vq() []byte {
	return d.alloc.Bytes(d.vqBase, 2*physmem.PageSize)
}

// processQueue drains every newly available descriptor chain since the
// last notify, performing the requested sector transfer against disk and
// posting a used-ring entry for each.
func (d *Device) processQueue() {
	vq := d.vq()

	availIdx := getU16(vq[availOff+2:])

	for d.lastAvailIdx != availIdx {
		ringSlot := availOff + 4 + 2*(int(d.lastAvailIdx)%QueueDepth)
		headDesc := int(getU16(vq[ringSlot:]))

		d.serviceChain(vq, headDesc)

		d.lastAvailIdx++

		usedIdx := getU16(vq[usedOff+2:])
		usedSlot := usedOff + 4 + 8*(int(usedIdx)%QueueDepth)
		putU32(vq[usedSlot:], uint32(headDesc))
		putU32(vq[usedSlot+4:], 0)
		putU16(vq[usedOff+2:], usedIdx+1)
	}
}

func (d *Device) serviceChain(vq []byte, headDesc int) {
	hdrAddr, _, _, next := readDesc(vq, headDesc*16)
	dataAddr, dataLen, dataFlags, next2 := readDesc(vq, int(next)*16)
	statusAddr, _, _, _ := readDesc(vq, int(next2)*16)

	header := d.alloc.Bytes(addr.Pa(hdrAddr), reqHeaderSize)
	reqType := getU32(header[0:])
	sector := getU64(header[8:])

	status := d.transfer(reqType, sector, addr.Pa(dataAddr), dataLen, dataFlags)

	d.alloc.Bytes(addr.Pa(statusAddr), 1)[0] = status
}

func (d *Device) transfer(reqType uint32, sector uint64, dataPA addr.Pa, dataLen uint32, dataFlags uint16) byte {
	start := sector * SectorSize
	if start+uint64(dataLen) > uint64(len(d.disk)) {
		return 1
	}

	data := d.alloc.Bytes(dataPA, dataLen)

	if reqType == reqTypeOut {
		copy(d.disk[start:start+uint64(dataLen)], data)
	} else {
		copy(data, d.disk[start:start+uint64(dataLen)])
	}

	return 0
}
