package bootctrl_test

import (
	"testing"

	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
)

func TestDecodeUninitialised(t *testing.T) {
	t.Log("Test decode of a zeroed / uninitialised region self-heals to defaults")

	buf := make([]byte, bootctrl.BootloaderMessageSlotSuffixSize)
	r := bootctrl.Decode(buf)

	want := bootctrl.Default()
	if r != want {
		t.Fatalf("Decode(zeroed) = %+v, want %+v", r, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Log("Test decode(encode(r)) == r for a valid record")

	r := bootctrl.Record{
		Magic:   bootctrl.BootCtrlMagic,
		Version: bootctrl.Version,
		Slots: [2]bootctrl.SlotInfo{
			{Priority: 15, TriesRemaining: 7, SuccessfulBoot: true},
			{Priority: 14, TriesRemaining: 5, SuccessfulBoot: false},
		},
		RecoveryTriesRemaining: 7,
	}

	buf := make([]byte, bootctrl.BootloaderMessageSlotSuffixSize)
	r.Encode(buf)
	got := bootctrl.Decode(buf)

	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestEncodePadsRemainder(t *testing.T) {
	t.Log("Test bytes beyond the packed record are zeroed")

	buf := make([]byte, bootctrl.BootloaderMessageSlotSuffixSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	bootctrl.Default().Encode(buf)

	for i := bootctrl.RecordSize; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, buf[i])
		}
	}
}

func TestSetActive(t *testing.T) {
	t.Log("Test set_active lowers the other slot only when it was tied at 15")

	r := bootctrl.Record{Slots: [2]bootctrl.SlotInfo{
		{Priority: 10, TriesRemaining: 0, SuccessfulBoot: true},
		{Priority: 15, TriesRemaining: 7, SuccessfulBoot: false},
	}}
	r.SetActive(0)

	if r.Slots[0] != (bootctrl.SlotInfo{Priority: 15, TriesRemaining: 7, SuccessfulBoot: false}) {
		t.Fatalf("slot 0 not activated: %+v", r.Slots[0])
	}
	if r.Slots[1].Priority != 14 {
		t.Fatalf("other slot priority = %d, want 14", r.Slots[1].Priority)
	}
}

func TestSetActiveDoesNotTouchOtherWhenNotTied(t *testing.T) {
	t.Log("Test set_active leaves the other slot's priority untouched below 15")

	r := bootctrl.Record{Slots: [2]bootctrl.SlotInfo{
		{Priority: 12, TriesRemaining: 7, SuccessfulBoot: true},
		{Priority: 10, TriesRemaining: 0, SuccessfulBoot: true},
	}}
	r.SetActive(1)

	if r.Slots[0].Priority != 12 {
		t.Fatalf("slot 0 priority changed to %d, want unchanged 12", r.Slots[0].Priority)
	}
	if r.Slots[1] != (bootctrl.SlotInfo{Priority: 15, TriesRemaining: 7, SuccessfulBoot: false}) {
		t.Fatalf("slot 1 not activated: %+v", r.Slots[1])
	}
}

func TestBootableInvariant(t *testing.T) {
	t.Log("Test bootable invariant: priority>0 AND (successful OR tries>0)")

	cases := []struct {
		slot bootctrl.SlotInfo
		want bool
	}{
		{bootctrl.SlotInfo{Priority: 0, TriesRemaining: 7}, false},
		{bootctrl.SlotInfo{Priority: 1, TriesRemaining: 0, SuccessfulBoot: false}, false},
		{bootctrl.SlotInfo{Priority: 1, TriesRemaining: 0, SuccessfulBoot: true}, true},
		{bootctrl.SlotInfo{Priority: 1, TriesRemaining: 1, SuccessfulBoot: false}, true},
	}
	for _, c := range cases {
		if got := c.slot.Bootable(); got != c.want {
			t.Fatalf("Bootable(%+v) = %v, want %v", c.slot, got, c.want)
		}
	}
}

func TestOrderByPriorityTieFavoursSlotZero(t *testing.T) {
	t.Log("Test priority ordering ties favour slot 0")

	r := bootctrl.Record{Slots: [2]bootctrl.SlotInfo{{Priority: 5}, {Priority: 5}}}
	if order := r.OrderByPriority(); order != [2]int{0, 1} {
		t.Fatalf("OrderByPriority() = %v, want [0 1]", order)
	}
}

func TestSuffixRoundTrip(t *testing.T) {
	t.Log("Test slot index <-> suffix mapping")

	if bootctrl.Suffix(0) != bootctrl.SuffixA || bootctrl.Suffix(1) != bootctrl.SuffixB {
		t.Fatal("Suffix mapping wrong")
	}
	if bootctrl.SlotFromSuffix("_a") != 0 || bootctrl.SlotFromSuffix("_b") != 1 {
		t.Fatal("SlotFromSuffix mapping wrong")
	}
	if bootctrl.SlotFromSuffix("_c") != -1 {
		t.Fatal("SlotFromSuffix(\"_c\") should be -1")
	}
}
