package gpt

import (
	"encoding/binary"
	"fmt"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

// OSIP (Intel OS Image Pointer) record constants for this board's
// MBR boot-code region.
const (
	osipMagic = 0x24534f24

	osipHeaderSize = 32 // osip struct, excluding the osii array
	osiiEntrySize  = 24 // one osii_entry

	maxOsiiEntries = 15

	osiiImageLBAMBROnly = 0x00000028
	osiiImageLBAWithGPT = 0x00000800 // 1 MiB

	osiiLoadAddress      = 0x01100000
	osiiStartAddress     = 0x01101000
	osiiImageSizeBlocks  = 0x00002800 // 5 MiB in 512-byte blocks
	osiiAttributeDefault = 0x0f
)

// osipTotalSize is the minimum MBR boot-code region PopulateOSIP
// requires: one populated header+entry plus 14 reserved, 0xFF-filled
// entries.
const osipTotalSize = osipHeaderSize + maxOsiiEntries*osiiEntrySize

// PopulateOSIP writes the OSIP record into mbrBootCode, which must be
// at least osipTotalSize bytes (the legacy MBR's boot-code region).
// gptPresent selects the image LBA: a bare MBR layout boots the OS
// image from LBA 0x28, one preceded by a GPT boots it from LBA 0x800
// (1 MiB).
func PopulateOSIP(mbrBootCode []byte, gptPresent bool) error {
	if len(mbrBootCode) < osipTotalSize {
		return fmt.Errorf("%w: boot-code region too small for OSIP (%d < %d)",
			bootctrl.ErrOutOfMemory, len(mbrBootCode), osipTotalSize)
	}

	buf := mbrBootCode[:osipTotalSize]
	for i := range buf {
		buf[i] = 0
	}

	// osip header.
	binary.LittleEndian.PutUint32(buf[0:4], osipMagic)
	buf[4] = 0 // reserved
	buf[5] = 0 // version_minor
	buf[6] = 1 // version_major
	buf[7] = 0 // header_checksum, filled in below
	buf[8] = 1 // number_of_pointers
	buf[9] = 1 // number_of_images
	binary.LittleEndian.PutUint16(buf[10:12], osipHeaderSize+osiiEntrySize)
	// buf[12:32] is reserved2, left zero.

	// osii[0].
	entry := buf[osipHeaderSize : osipHeaderSize+osiiEntrySize]
	binary.LittleEndian.PutUint16(entry[0:2], 0) // os_rev_minor
	binary.LittleEndian.PutUint16(entry[2:4], 0) // os_rev_major
	imageLBA := uint32(osiiImageLBAMBROnly)
	if gptPresent {
		imageLBA = osiiImageLBAWithGPT
	}
	binary.LittleEndian.PutUint32(entry[4:8], imageLBA)
	binary.LittleEndian.PutUint32(entry[8:12], osiiLoadAddress)
	binary.LittleEndian.PutUint32(entry[12:16], osiiStartAddress)
	binary.LittleEndian.PutUint32(entry[16:20], osiiImageSizeBlocks)
	entry[20] = osiiAttributeDefault
	// entry[21:24] reserved3, left zero.

	// Remaining 14 entries are 0xFF-filled (edison.c: memset(&osii[1], 0xff, ...)).
	for i := osipHeaderSize + osiiEntrySize; i < len(buf); i++ {
		buf[i] = 0xFF
	}

	// Header checksum is the XOR of every byte in [osip, osip+header_size),
	// i.e. the 32-byte header plus the one populated osii entry — computed
	// last, with the checksum byte itself still zero.
	headerSize := osipHeaderSize + osiiEntrySize
	var checksum byte
	for _, b := range buf[:headerSize] {
		checksum ^= b
	}
	buf[7] = checksum

	return nil
}
