// Package gpt is the partition-table verifier: it asserts that a GPT
// (or an abstract, pre-flash partition-list description of one) carries
// the mandatory three-partition prefix this board family requires
// before the flasher is allowed to write it, and it populates the MBR
// boot-code OSIP record the same flasher writes alongside a fresh GPT.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

const (
	blockSize = 512
	oneMiB    = 1024 * 1024

	gptHeaderLBA  = 1
	gptSignature  = "EFI PART"
	partitionName = 72 // bytes, UTF-16LE, 36 code units
)

// requiredPrefix is the mandatory first three partitions, in order.
var requiredPrefix = []struct {
	label   string
	sizeMiB uint64
}{
	{"u-boot", 5},
	{"factory", 1},
	{"security", 1},
}

// PartitionSpec is one entry of an abstract partition-list description
// usable as an alternative to raw MBR+GPT bytes — the in-memory
// description the flasher already holds before it ever serialises a
// GPT to disk.
type PartitionSpec struct {
	Label   string
	SizeMiB uint64
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// decodeUTF16LE decodes a UTF-16LE, NUL-terminated partition name into
// a Go string, trimming at the terminator.
func decodeUTF16LE(b []byte) string {
	s, err := utf16le.Bytes(b)
	if err != nil {
		return ""
	}
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// decodeGUID converts a GPT on-disk GUID (mixed-endian: the first
// three fields little-endian, the last two big-endian, per the UEFI
// spec) into the big-endian byte order uuid.UUID expects.
func decodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) < 16 {
		return uuid.Nil, fmt.Errorf("%w: short GUID", bootctrl.ErrInvalid)
	}
	var be [16]byte
	be[0], be[1], be[2], be[3] = b[3], b[2], b[1], b[0]
	be[4], be[5] = b[5], b[4]
	be[6], be[7] = b[7], b[6]
	copy(be[8:], b[8:16])
	return uuid.FromBytes(be[:])
}

// EntryGUIDs is the pair of GUIDs every GPT partition entry carries.
type EntryGUIDs struct {
	TypeGUID   uuid.UUID
	UniqueGUID uuid.UUID
}

// RequiredPrefixGUIDs decodes the PartitionTypeGUID/UniquePartitionGUID
// pair for each of the mandatory prefix entries, for callers that want
// to record or report them after VerifyLayout has already accepted the
// fragment (VerifyLayout itself only checks label/size/order, not
// GUIDs).
func RequiredPrefixGUIDs(frag []byte) ([]EntryGUIDs, error) {
	if len(frag) < 2*blockSize {
		return nil, fmt.Errorf("%w: fragment too small for MBR+GPT", bootctrl.ErrInvalid)
	}
	hdr := frag[gptHeaderLBA*blockSize:]
	if len(hdr) < 92 || string(hdr[0:8]) != gptSignature {
		return nil, fmt.Errorf("%w: missing GPT header signature", bootctrl.ErrInvalid)
	}
	entryLBA := binary.LittleEndian.Uint64(hdr[72:80])
	entrySize := binary.LittleEndian.Uint32(hdr[84:88])
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero-sized GPT partition entry", bootctrl.ErrInvalid)
	}

	entries := frag[entryLBA*blockSize:]
	out := make([]EntryGUIDs, len(requiredPrefix))
	for i := range requiredPrefix {
		off := uint64(i) * uint64(entrySize)
		if off+32 > uint64(len(entries)) {
			return nil, fmt.Errorf("%w: fragment too short for entry %d", bootctrl.ErrInvalid, i)
		}
		e := entries[off : off+uint64(entrySize)]
		typeGUID, err := decodeGUID(e[0:16])
		if err != nil {
			return nil, err
		}
		uniqueGUID, err := decodeGUID(e[16:32])
		if err != nil {
			return nil, err
		}
		out[i] = EntryGUIDs{TypeGUID: typeGUID, UniqueGUID: uniqueGUID}
	}
	return out, nil
}

// VerifyLayout checks a raw fragment that starts with a legacy MBR. If
// the MBR boot-signature (0xAA55) is present, the fragment is treated
// as MBR+GPT and the partition-entry array is read at the header's
// declared LBA; otherwise ErrInvalid is returned (callers with a
// software description should use VerifyAbstractLayout instead).
func VerifyLayout(frag []byte) error {
	if len(frag) < 2*blockSize {
		return fmt.Errorf("%w: fragment too small for MBR+GPT", bootctrl.ErrInvalid)
	}
	sig := binary.LittleEndian.Uint16(frag[510:512])
	if sig != 0xAA55 {
		return fmt.Errorf("%w: not an MBR (missing 0xAA55 signature)", bootctrl.ErrInvalid)
	}

	hdr := frag[gptHeaderLBA*blockSize:]
	if len(hdr) < 92 || string(hdr[0:8]) != gptSignature {
		return fmt.Errorf("%w: missing GPT header signature", bootctrl.ErrInvalid)
	}
	entryLBA := binary.LittleEndian.Uint64(hdr[72:80])
	entrySize := binary.LittleEndian.Uint32(hdr[84:88])
	if entrySize == 0 {
		return fmt.Errorf("%w: zero-sized GPT partition entry", bootctrl.ErrInvalid)
	}

	entries := frag[entryLBA*blockSize:]
	for i, want := range requiredPrefix {
		off := uint64(i) * uint64(entrySize)
		if off+128 > uint64(len(entries)) {
			return fmt.Errorf("%w: fragment too short for entry %d", bootctrl.ErrInvalid, i)
		}
		e := entries[off : off+uint64(entrySize)]
		name := decodeUTF16LE(e[56 : 56+partitionName])
		startLBA := binary.LittleEndian.Uint64(e[32:40])
		endLBA := binary.LittleEndian.Uint64(e[40:48])
		sizeMiB := (endLBA - startLBA + 1) * blockSize / oneMiB
		if name != want.label || sizeMiB != want.sizeMiB {
			return fmt.Errorf("%w: entry %d is %q/%dMiB, want %q/%dMiB",
				bootctrl.ErrInvalid, i, name, sizeMiB, want.label, want.sizeMiB)
		}
	}
	return nil
}

// VerifyAbstractLayout checks the software description of a
// not-yet-written partition table against the same mandatory prefix.
func VerifyAbstractLayout(parts []PartitionSpec) error {
	if len(parts) < len(requiredPrefix) {
		return fmt.Errorf("%w: only %d partitions, need at least %d", bootctrl.ErrInvalid, len(parts), len(requiredPrefix))
	}
	for i, want := range requiredPrefix {
		if parts[i].Label != want.label || parts[i].SizeMiB != want.sizeMiB {
			return fmt.Errorf("%w: entry %d is %q/%dMiB, want %q/%dMiB",
				bootctrl.ErrInvalid, i, parts[i].Label, parts[i].SizeMiB, want.label, want.sizeMiB)
		}
	}
	return nil
}
