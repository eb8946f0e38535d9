// Package blockio is the block I/O adapter: read/write whole blocks of
// a named partition. Writes are issued one block at a time so a
// mid-write power loss bounds corruption to a single block.
package blockio

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// DefaultBlockSize is the block size assumed when a Device doesn't
// report a device-specific one; 512 bytes is typical for this class of
// device.
const DefaultBlockSize = 512

// Handle identifies a partition opened through Device.OpenPartition.
type Handle int

// Device is the narrow interface the rest of the boot controller uses
// to talk to the underlying eMMC-like block device. The real block
// device driver and transport live outside this module; this
// interface is the only thing the rest of this module depends on.
type Device interface {
	OpenPartition(name string) (Handle, error)
	ReadBlocks(h Handle, startBlock, count uint64, dst []byte) error
	WriteBlocks(h Handle, startBlock, count uint64, src []byte) error
	BlockSize() uint32
}

// PartitionMap describes where each named partition lives on the
// backing device, in blocks.
type PartitionMap struct {
	StartBlock uint64
	SizeBlocks uint64
}

// FileDevice is a Device backed by a single disk-image file, memory
// mapped once and sliced into rather than re-read with syscalls per
// access.
type FileDevice struct {
	file       *os.File
	mapping    mmap.MMap
	blockSize  uint32
	partitions map[string]PartitionMap
	opened     []fileHandle
}

// OpenFileDevice mmaps path read-write and returns a Device whose
// partition table is the supplied map.
func OpenFileDevice(path string, blockSize uint32, partitions map[string]PartitionMap) (*FileDevice, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bootctrl.ErrNoDevice, err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", bootctrl.ErrNoDevice, err)
	}
	return &FileDevice{file: f, mapping: m, blockSize: blockSize, partitions: partitions}, nil
}

// Close unmaps and closes the backing file.
func (d *FileDevice) Close() error {
	if err := d.mapping.Unmap(); err != nil {
		return err
	}
	return d.file.Close()
}

func (d *FileDevice) BlockSize() uint32 { return d.blockSize }

type fileHandle struct {
	name string
	pm   PartitionMap
}

// OpenPartition looks the name up in the device's partition map.
func (d *FileDevice) OpenPartition(name string) (Handle, error) {
	pm, ok := d.partitions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", bootctrl.ErrNotFound, name)
	}
	d.opened = append(d.opened, fileHandle{name: name, pm: pm})
	return Handle(len(d.opened) - 1), nil
}

func (d *FileDevice) region(h Handle, startBlock, count uint64) ([]byte, error) {
	if int(h) < 0 || int(h) >= len(d.opened) {
		return nil, fmt.Errorf("%w: bad handle", bootctrl.ErrInvalidArgument)
	}
	fh := d.opened[h]
	if startBlock+count > fh.pm.SizeBlocks {
		return nil, fmt.Errorf("%w: out of partition bounds", bootctrl.ErrIoError)
	}
	byteStart := (fh.pm.StartBlock + startBlock) * uint64(d.blockSize)
	byteLen := count * uint64(d.blockSize)
	if byteStart+byteLen > uint64(len(d.mapping)) {
		return nil, fmt.Errorf("%w: out of device bounds", bootctrl.ErrIoError)
	}
	return d.mapping[byteStart : byteStart+byteLen], nil
}

// ReadBlocks reads count blocks starting at startBlock into dst.
func (d *FileDevice) ReadBlocks(h Handle, startBlock, count uint64, dst []byte) error {
	src, err := d.region(h, startBlock, count)
	if err != nil {
		return err
	}
	if uint64(len(dst)) < count*uint64(d.blockSize) {
		return fmt.Errorf("%w: destination buffer too small", bootctrl.ErrIoError)
	}
	copy(dst, src)
	return nil
}

// WriteBlocks writes count blocks from src, one block at a time, so a
// power loss mid-write bounds damage to the block currently in
// flight.
func (d *FileDevice) WriteBlocks(h Handle, startBlock, count uint64, src []byte) error {
	for i := uint64(0); i < count; i++ {
		dst, err := d.region(h, startBlock+i, 1)
		if err != nil {
			return err
		}
		lo := i * uint64(d.blockSize)
		hi := lo + uint64(d.blockSize)
		if hi > uint64(len(src)) {
			return fmt.Errorf("%w: source buffer too small", bootctrl.ErrIoError)
		}
		copy(dst, src[lo:hi])
	}
	return nil
}
