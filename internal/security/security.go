// Package security is the security-flags store: the locked/unlocked
// bootloader flag and the verified-boot developer key, persisted in
// the security partition.
package security

import (
	"fmt"

	"github.com/cheezecake/brillo-bootctl/internal/blockio"
	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// BVBDevKeyMax is the maximum developer key size this store accepts,
// following the surrounding AOSP avb header convention.
const BVBDevKeyMax = 256

const (
	securityPartition = "security"
	recordSize        = 1 + BVBDevKeyMax + 2 // lock byte, key bytes, uint16 key length
)

// Record is the security partition's contents as a plain value.
type Record struct {
	Lock      bool
	DevKey    [BVBDevKeyMax]byte
	DevKeyLen int
}

// Store reads and writes Record against a block device.
type Store struct{ Dev blockio.Device }

func (s *Store) load() (Record, error) {
	h, err := s.Dev.OpenPartition(securityPartition)
	if err != nil {
		return Record{}, err
	}
	blockSize := s.Dev.BlockSize()
	blocks := blocksFor(recordSize, blockSize)
	buf := make([]byte, blocks*uint64(blockSize))
	if err := s.Dev.ReadBlocks(h, 0, blocks, buf); err != nil {
		return Record{}, fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}
	var r Record
	r.Lock = buf[0] != 0
	copy(r.DevKey[:], buf[1:1+BVBDevKeyMax])
	r.DevKeyLen = int(buf[1+BVBDevKeyMax])<<8 | int(buf[1+BVBDevKeyMax+1])
	if r.DevKeyLen > BVBDevKeyMax {
		r.DevKeyLen = 0 // corrupt length self-heals to "no key"
	}
	return r, nil
}

func (s *Store) store(r Record) error {
	h, err := s.Dev.OpenPartition(securityPartition)
	if err != nil {
		return err
	}
	blockSize := s.Dev.BlockSize()
	blocks := blocksFor(recordSize, blockSize)
	buf := make([]byte, blocks*uint64(blockSize))
	if r.Lock {
		buf[0] = 1
	}
	copy(buf[1:1+BVBDevKeyMax], r.DevKey[:])
	buf[1+BVBDevKeyMax] = byte(r.DevKeyLen >> 8)
	buf[1+BVBDevKeyMax+1] = byte(r.DevKeyLen)
	if err := s.Dev.WriteBlocks(h, 0, blocks, buf); err != nil {
		return fmt.Errorf("%w: %v", bootctrl.ErrIoError, err)
	}
	return nil
}

// ReadLock reports whether the bootloader is locked.
func (s *Store) ReadLock() (bool, error) {
	r, err := s.load()
	if err != nil {
		return false, err
	}
	return r.Lock, nil
}

// WriteLock sets the locked/unlocked flag, read-modify-write.
func (s *Store) WriteLock(lock bool) error {
	r, err := s.load()
	if err != nil {
		return err
	}
	r.Lock = lock
	return s.store(r)
}

// ReadDevKey returns the stored developer key, or nil if none is set.
func (s *Store) ReadDevKey() ([]byte, error) {
	r, err := s.load()
	if err != nil {
		return nil, err
	}
	if r.DevKeyLen == 0 {
		return nil, nil
	}
	return append([]byte(nil), r.DevKey[:r.DevKeyLen]...), nil
}

// WriteDevKey stores key, rejecting an oversized one with
// ErrOutOfMemory before ever reading the record.
func (s *Store) WriteDevKey(key []byte) error {
	if len(key) > BVBDevKeyMax {
		return fmt.Errorf("%w: developer key of %d bytes exceeds %d byte maximum", bootctrl.ErrOutOfMemory, len(key), BVBDevKeyMax)
	}
	r, err := s.load()
	if err != nil {
		return err
	}
	var buf [BVBDevKeyMax]byte
	copy(buf[:], key)
	r.DevKey = buf
	r.DevKeyLen = len(key)
	return s.store(r)
}

func blocksFor(size int, blockSize uint32) uint64 {
	bs := uint64(blockSize)
	return (uint64(size) + bs - 1) / bs
}
