package blockio

import (
	"fmt"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// MiscPartition is the standard name of the partition hosting the
// boot-control record.
const MiscPartition = "misc"

func blocksFor(size uint64, blockSize uint32) uint64 {
	bs := uint64(blockSize)
	return (size + bs - 1) / bs
}

// LoadRecord reads and decodes the boot-control record from the misc
// partition. Only the inability to reach the medium at all is surfaced
// as an error; a bad magic self-heals inside Decode.
func LoadRecord(dev Device) (bootctrl.Record, error) {
	h, err := dev.OpenPartition(MiscPartition)
	if err != nil {
		return bootctrl.Record{}, err
	}
	blockSize := dev.BlockSize()
	blocks := blocksFor(bootctrl.BootloaderMessageSlotSuffixSize, blockSize)
	buf := make([]byte, blocks*uint64(blockSize))
	if err := dev.ReadBlocks(h, 0, blocks, buf); err != nil {
		return bootctrl.Record{}, fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}
	return bootctrl.Decode(buf), nil
}

// StoreRecord encodes r and writes it back to the misc partition, one
// block at a time via dev.WriteBlocks.
func StoreRecord(dev Device, r bootctrl.Record) error {
	h, err := dev.OpenPartition(MiscPartition)
	if err != nil {
		return err
	}
	blockSize := dev.BlockSize()
	blocks := blocksFor(bootctrl.BootloaderMessageSlotSuffixSize, blockSize)
	buf := make([]byte, blocks*uint64(blockSize))
	r.Encode(buf)
	if err := dev.WriteBlocks(h, 0, blocks, buf); err != nil {
		return fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}
	return nil
}
