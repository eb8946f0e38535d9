package gpt_test

import (
	"encoding/binary"
	"testing"

	"github.com/cheezecake/brillo-bootctl/internal/gpt"
)

func TestPopulateOSIPMBROnlyImageLBA(t *testing.T) {
	t.Log("Test PopulateOSIP selects LBA 0x28 when no GPT precedes the image")

	buf := make([]byte, 32+15*24)
	if err := gpt.PopulateOSIP(buf, false); err != nil {
		t.Fatal(err)
	}
	got := binary.LittleEndian.Uint32(buf[32+4 : 32+8])
	if got != 0x28 {
		t.Fatalf("image_lba = %#x, want 0x28", got)
	}
}

func TestPopulateOSIPWithGPTImageLBA(t *testing.T) {
	t.Log("Test PopulateOSIP selects LBA 0x800 when a GPT precedes the image")

	buf := make([]byte, 32+15*24)
	if err := gpt.PopulateOSIP(buf, true); err != nil {
		t.Fatal(err)
	}
	got := binary.LittleEndian.Uint32(buf[32+4 : 32+8])
	if got != 0x800 {
		t.Fatalf("image_lba = %#x, want 0x800", got)
	}
}

func TestPopulateOSIPMagicAndChecksum(t *testing.T) {
	t.Log("Test PopulateOSIP writes the magic and a self-consistent checksum")

	buf := make([]byte, 32+15*24)
	if err := gpt.PopulateOSIP(buf, false); err != nil {
		t.Fatal(err)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != 0x24534f24 {
		t.Fatalf("magic = %#x, want 0x24534f24", magic)
	}

	var checksum byte
	for i, b := range buf[:32+24] {
		if i == 7 {
			continue
		}
		checksum ^= b
	}
	if checksum != buf[7] {
		t.Fatalf("header_checksum = %#x, does not XOR the rest of the header to zero", buf[7])
	}
}

func TestPopulateOSIPReservedEntriesAreFFFilled(t *testing.T) {
	t.Log("Test the 14 unused osii entries are 0xFF-filled, not left zero")

	buf := make([]byte, 32+15*24)
	if err := gpt.PopulateOSIP(buf, false); err != nil {
		t.Fatal(err)
	}
	for i := 32 + 24; i < len(buf); i++ {
		if buf[i] != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xFF", i, buf[i])
		}
	}
}

func TestPopulateOSIPRejectsUndersizedBuffer(t *testing.T) {
	t.Log("Test a boot-code region too small for the full OSIP record is rejected")

	if err := gpt.PopulateOSIP(make([]byte, 64), false); err == nil {
		t.Fatal("expected an undersized buffer to be rejected")
	}
}

func TestPopulateOSIPFieldValues(t *testing.T) {
	t.Log("Test the populated entry carries the fixed load/start/size/attribute values")

	buf := make([]byte, 32+15*24)
	if err := gpt.PopulateOSIP(buf, false); err != nil {
		t.Fatal(err)
	}
	entry := buf[32 : 32+24]
	if v := binary.LittleEndian.Uint32(entry[8:12]); v != 0x01100000 {
		t.Fatalf("load_address = %#x, want 0x01100000", v)
	}
	if v := binary.LittleEndian.Uint32(entry[12:16]); v != 0x01101000 {
		t.Fatalf("start_address = %#x, want 0x01101000", v)
	}
	if v := binary.LittleEndian.Uint32(entry[16:20]); v != 0x2800 {
		t.Fatalf("image_size_blocks = %#x, want 0x2800", v)
	}
	if entry[20] != 0x0f {
		t.Fatalf("attribute = %#x, want 0x0f", entry[20])
	}
}
