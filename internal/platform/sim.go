package platform

// Sim is an in-memory Platform for tests and cmd/*'s --sim flag. It
// has no relationship to real hardware.
type Sim struct {
	mem           map[uintptr]uint8
	gpio          map[uint]bool
	ResetCalled   bool
	HangCalled    bool
	IPCCalls      []uint8
	WatchdogKicks int
	ResetErr      error
}

// NewSim returns a Sim with every GPIO bit deasserted: the "always
// normal boot" default the board falls through to when nothing forces
// recovery or fastboot.
func NewSim() *Sim {
	return &Sim{mem: map[uintptr]uint8{}, gpio: map[uint]bool{}}
}

func (s *Sim) ReadByte(addr uintptr) uint8    { return s.mem[addr] }
func (s *Sim) WriteByte(addr uintptr, v uint8) { s.mem[addr] = v }

// SetGPIO lets tests assert or deassert a bit.
func (s *Sim) SetGPIO(bit uint, asserted bool) { s.gpio[bit] = asserted }

func (s *Sim) GPIO(bit uint) bool { return s.gpio[bit] }

func (s *Sim) IPC(opcode uint8) error {
	s.IPCCalls = append(s.IPCCalls, opcode)
	return nil
}

func (s *Sim) Reset() error {
	s.ResetCalled = true
	return s.ResetErr
}

func (s *Sim) Hang() { s.HangCalled = true }

func (s *Sim) WatchdogKick() { s.WatchdogKicks++ }
