// Package bootimg is the Android boot-image loader: it validates a
// boot image's header, stages the kernel and ramdisk for hand-off, and
// inflates a compressed kernel payload when this board's on-device
// decompressor stub is disabled.
package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cheezecake/brillo-bootctl/internal/blockio"
	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

const (
	minPageSize = 2048
	maxPageSize = 16384
)

// StagedImage is the result of a successful Load: the kernel and
// ramdisk payloads, decompressed if necessary, plus the header fields
// BuildCmdline and the selector need.
type StagedImage struct {
	Kernel      []byte
	Ramdisk     []byte
	Cmdline     string
	PageSize    uint32
	KernelAddr  uint32
	RamdiskAddr uint32
}

// Loader reads and validates boot images from a block device.
type Loader struct {
	Dev blockio.Device
}

// Load reads the boot image from partition, validates its header, and
// stages the kernel/ramdisk. loadAddr is currently unused by staging
// itself (kernel hand-off address comes from the header) and is kept
// for callers that need to record where the image was read from.
func (l *Loader) Load(partition string, loadAddr uint64) (*StagedImage, error) {
	h, err := l.Dev.OpenPartition(partition)
	if err != nil {
		return nil, err
	}
	blockSize := l.Dev.BlockSize()

	// The header is at most bootImgHdrV0's size; maxPageSize safely
	// covers it plus any page padding in a single initial read.
	head := make([]byte, alignTo(maxPageSize, uint64(blockSize)))
	if err := l.Dev.ReadBlocks(h, 0, uint64(len(head))/uint64(blockSize), head); err != nil {
		return nil, fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}

	if !bytes.Equal(head[:bootMagicSize], []byte(bootMagic)) {
		return nil, fmt.Errorf("%w: bad boot image magic", bootctrl.ErrInvalid)
	}

	var hdr bootImgHdrV0
	hdr.KernelSize = binary.LittleEndian.Uint32(head[8:12])
	hdr.KernelAddr = binary.LittleEndian.Uint32(head[12:16])
	hdr.RamdiskSize = binary.LittleEndian.Uint32(head[16:20])
	hdr.RamdiskAddr = binary.LittleEndian.Uint32(head[20:24])
	hdr.SecondSize = binary.LittleEndian.Uint32(head[24:28])
	hdr.PageSize = binary.LittleEndian.Uint32(head[36:40])
	copy(hdr.Cmdline[:], head[48+bootNameSize:48+bootNameSize+bootArgsSize])

	pageSize := hdr.PageSize
	if pageSize < minPageSize || pageSize > maxPageSize || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page_size %d out of range or not a power of two", bootctrl.ErrInvalid, pageSize)
	}

	total := uint64(pageSize) +
		alignTo(uint64(hdr.KernelSize), uint64(pageSize)) +
		alignTo(uint64(hdr.RamdiskSize), uint64(pageSize)) +
		alignTo(uint64(hdr.SecondSize), uint64(pageSize)) +
		bootSignatureMaxSz
	if total > bootMaxImageSize {
		return nil, fmt.Errorf("%w: boot image size %d exceeds %d byte ceiling", bootctrl.ErrInvalid, total, bootMaxImageSize)
	}

	blocks := blocksFor(total, blockSize)
	buf := make([]byte, blocks*uint64(blockSize))
	if err := l.Dev.ReadBlocks(h, 0, blocks, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}

	kernelOff := uint64(pageSize)
	kernelEnd := kernelOff + uint64(hdr.KernelSize)
	ramdiskOff := kernelOff + alignTo(uint64(hdr.KernelSize), uint64(pageSize))
	ramdiskEnd := ramdiskOff + uint64(hdr.RamdiskSize)
	if kernelEnd > uint64(len(buf)) || ramdiskEnd > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: truncated boot image", bootctrl.ErrInvalid)
	}

	kernel := buf[kernelOff:kernelEnd]
	if f := checkFmt(kernel); compressed(f) {
		inflated, err := inflateKernel(f, kernel)
		if err != nil {
			return nil, err
		}
		if uint64(len(inflated)) > bootMaxImageSize {
			return nil, fmt.Errorf("%w: inflated kernel exceeds %d byte ceiling", bootctrl.ErrInvalid, bootMaxImageSize)
		}
		kernel = inflated
	}
	// A raw ZIMAGE_MAGIC-tagged kernel self-decompresses after hand-off
	// and is staged unmodified.

	return &StagedImage{
		Kernel:      kernel,
		Ramdisk:     append([]byte(nil), buf[ramdiskOff:ramdiskEnd]...),
		Cmdline:     cString(hdr.Cmdline[:]),
		PageSize:    pageSize,
		KernelAddr:  hdr.KernelAddr,
		RamdiskAddr: hdr.RamdiskAddr,
	}, nil
}

func blocksFor(size uint64, blockSize uint32) uint64 {
	bs := uint64(blockSize)
	return (size + bs - 1) / bs
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// BuildCmdline assembles the final kernel command line: the kernel's
// own cmdline field as base, then the pre-existing bootargs value
// appended with one space, then androidboot.slot_suffix=_a|_b with
// exactly one space.
func BuildCmdline(hdrCmdline, bootargs, suffix string) string {
	out := hdrCmdline
	if bootargs != "" {
		out += " " + bootargs
	}
	out += " androidboot.slot_suffix=" + suffix
	return out
}
