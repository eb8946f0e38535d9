package blockio

import (
	"fmt"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// SimDevice is a pure in-memory Device used by every package's tests
// and by cmd/bootctl's --sim flag. It has no relationship to real
// hardware; it exists so the retry/watchdog/selector logic can be
// exercised deterministically without a disk image or root.
type SimDevice struct {
	blockSize  uint32
	partitions map[string][]byte
	names      []string
	// WriteFail, when set, makes the next N single-block writes to the
	// named partition fail with ErrIoError — used to simulate a
	// mid-write power loss bound.
	WriteFail map[string]int
}

// NewSimDevice creates a simulated device with the given block size
// (0 defaults to DefaultBlockSize) and named partitions sized in
// blocks.
func NewSimDevice(blockSize uint32, partitionBlocks map[string]uint64) *SimDevice {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	d := &SimDevice{blockSize: blockSize, partitions: map[string][]byte{}, WriteFail: map[string]int{}}
	for name, blocks := range partitionBlocks {
		d.partitions[name] = make([]byte, blocks*uint64(blockSize))
		d.names = append(d.names, name)
	}
	return d
}

func (d *SimDevice) BlockSize() uint32 { return d.blockSize }

func (d *SimDevice) OpenPartition(name string) (Handle, error) {
	for i, n := range d.names {
		if n == name {
			return Handle(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", bootctrl.ErrNotFound, name)
}

func (d *SimDevice) nameFor(h Handle) (string, error) {
	if int(h) < 0 || int(h) >= len(d.names) {
		return "", fmt.Errorf("%w: bad handle", bootctrl.ErrInvalidArgument)
	}
	return d.names[h], nil
}

func (d *SimDevice) ReadBlocks(h Handle, startBlock, count uint64, dst []byte) error {
	name, err := d.nameFor(h)
	if err != nil {
		return err
	}
	buf := d.partitions[name]
	lo := startBlock * uint64(d.blockSize)
	hi := lo + count*uint64(d.blockSize)
	if hi > uint64(len(buf)) {
		return fmt.Errorf("%w: out of partition bounds", bootctrl.ErrIoError)
	}
	if uint64(len(dst)) < hi-lo {
		return fmt.Errorf("%w: destination buffer too small", bootctrl.ErrIoError)
	}
	copy(dst, buf[lo:hi])
	return nil
}

func (d *SimDevice) WriteBlocks(h Handle, startBlock, count uint64, src []byte) error {
	name, err := d.nameFor(h)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if n := d.WriteFail[name]; n > 0 {
			d.WriteFail[name] = n - 1
			return fmt.Errorf("%w: simulated power loss", bootctrl.ErrIoError)
		}
		buf := d.partitions[name]
		lo := (startBlock + i) * uint64(d.blockSize)
		hi := lo + uint64(d.blockSize)
		if hi > uint64(len(buf)) {
			return fmt.Errorf("%w: out of partition bounds", bootctrl.ErrIoError)
		}
		srcLo := i * uint64(d.blockSize)
		srcHi := srcLo + uint64(d.blockSize)
		if srcHi > uint64(len(src)) {
			return fmt.Errorf("%w: source buffer too small", bootctrl.ErrIoError)
		}
		copy(buf[lo:hi], src[srcLo:srcHi])
	}
	return nil
}

// Raw exposes the whole backing buffer for a partition, for tests that
// want to pre-seed or inspect metadata directly.
func (d *SimDevice) Raw(name string) []byte {
	return d.partitions[name]
}
