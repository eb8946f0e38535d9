// Package selector is the A/B selector: the core slot-ordering,
// retry-accounting and recovery-escalation state machine that decides
// which slot to hand off to on every boot.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/cheezecake/brillo-bootctl/internal/blockio"
	"github.com/cheezecake/brillo-bootctl/internal/bootctrl"
	"github.com/cheezecake/brillo-bootctl/internal/bootimg"
	"github.com/cheezecake/brillo-bootctl/internal/platform"
)

// DefaultWatchdogPeriod is the wall-clock bound on how long a single
// I/O burst may run before the watchdog must be re-armed.
const DefaultWatchdogPeriod = 30 * time.Second

const (
	bootPartitionA    = "boot_a"
	bootPartitionB    = "boot_b"
	recoveryPartition = "recovery"
)

func bootPartitionFor(slot int) string {
	if slot == 1 {
		return bootPartitionB
	}
	return bootPartitionA
}

// Selector orchestrates one boot attempt end to end. Besides its
// collaborators it holds only the time of the last watchdog kick: the
// in-memory bootctrl.Record is always a local value read at flow entry
// and threaded through.
type Selector struct {
	Dev      blockio.Device
	Loader   *bootimg.Loader
	Plat     platform.Platform
	Entry    bootimg.KernelEntry
	Watchdog time.Duration // default DefaultWatchdogPeriod

	lastKick time.Time
}

func (s *Selector) watchdogPeriod() time.Duration {
	if s.Watchdog > 0 {
		return s.Watchdog
	}
	return DefaultWatchdogPeriod
}

// kick re-arms the watchdog if more than the watchdog period has
// elapsed since the last kick, rate-limited so as not to flood the SCU.
func (s *Selector) kick() {
	if s.Plat == nil {
		return
	}
	now := time.Now()
	if s.lastKick.IsZero() || now.Sub(s.lastKick) > s.watchdogPeriod() {
		s.Plat.WatchdogKick()
		s.lastKick = now
	}
}

func (s *Selector) load() (bootctrl.Record, error) {
	s.kick()
	r, err := blockio.LoadRecord(s.Dev)
	s.kick()
	return r, err
}

func (s *Selector) store(r bootctrl.Record) error {
	s.kick()
	err := blockio.StoreRecord(s.Dev, r)
	s.kick()
	return err
}

// Boot runs the selector algorithm to completion: it orders slots by
// priority, attempts each in turn, demotes on failure,
// persists metadata after every load failure, successful load and
// returned hand-off (a slot demoted for having no tries left is only
// written with the next such persist), and falls back to the
// recovery sub-flow once every slot is exhausted. It returns only when
// every fallback (including recovery) has been exhausted; on real
// hardware a successful hand-off never returns at all because
// KernelEntry.Boot blocks forever.
func (s *Selector) Boot(ctx context.Context, bootargs, serial string) error {
	r, err := s.load()
	if err != nil {
		return err
	}

	prepared := bootargs
	if serial != "" {
		prepared = "androidboot.serialno=" + serial + " " + bootargs
	}

	order := r.OrderByPriority()
	for _, idx := range order {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slot := r.Slots[idx]
		if slot.Priority == 0 {
			continue
		}
		if !slot.SuccessfulBoot && slot.TriesRemaining == 0 {
			r.Slots[idx] = bootctrl.SlotInfo{}
			continue
		}

		staged, err := s.Loader.Load(bootPartitionFor(idx), 0)
		if err != nil {
			r.Slots[idx] = bootctrl.SlotInfo{}
			if err := s.store(r); err != nil {
				return err
			}
			continue
		}

		// A slot the OS has already confirmed successful keeps its
		// counter untouched; only a not-yet-confirmed slot spends one
		// try per attempt.
		if slot.TriesRemaining > 0 && !slot.SuccessfulBoot {
			slot.TriesRemaining--
		}
		r.Slots[idx] = slot
		r.RecoveryTriesRemaining = bootctrl.RecoveryBudget

		cmdline := bootimg.BuildCmdline(staged.Cmdline, prepared, bootctrl.Suffix(idx))

		if err := s.store(r); err != nil {
			return err
		}

		if err := s.handOff(staged, cmdline); err == nil {
			// Hand-off did not return: production callers never reach
			// here. Tests using a returning fake fall through below.
			return nil
		}

		// Hand-off returned: the attempt failed.
		r.Slots[idx] = bootctrl.SlotInfo{}
		if err := s.store(r); err != nil {
			return err
		}
	}

	return s.enterRecoverySubflow(ctx, r)
}

func (s *Selector) handOff(staged *bootimg.StagedImage, cmdline string) error {
	params := &bootimg.BootParams{
		KernelLoadAddr: uint64(staged.KernelAddr),
		Cmdline:        cmdline,
		CmdlinePtr:     bootimg.CmdlineStageAddr,
		CmdlineSize:    uint32(len(cmdline) + 1),
		RamdiskImage:   staged.RamdiskAddr,
		RamdiskSize:    uint32(len(staged.Ramdisk)),
	}
	return s.Entry.Boot(params)
}

// enterRecoverySubflow runs the recovery sub-flow: while budget
// remains, decrement it, persist, load recovery, and boot; a load
// failure or a hand-off return zeroes the budget.
func (s *Selector) enterRecoverySubflow(ctx context.Context, r bootctrl.Record) error {
	if r.RecoveryTriesRemaining == 0 {
		return nil
	}
	r.RecoveryTriesRemaining--
	if err := s.store(r); err != nil {
		return err
	}

	staged, err := s.Loader.Load(recoveryPartition, 0)
	if err != nil {
		r.RecoveryTriesRemaining = 0
		return s.store(r)
	}

	cmdline := bootimg.BuildCmdline(staged.Cmdline, "", "")
	if err := s.handOff(staged, cmdline); err == nil {
		return nil
	}

	r.RecoveryTriesRemaining = 0
	return s.store(r)
}

// EnterRecovery is the explicit recovery entry path: it marks every
// slot failed before running the recovery sub-flow, for when the
// arbitrator returns "recovery".
func (s *Selector) EnterRecovery(ctx context.Context) error {
	r, err := s.load()
	if err != nil {
		return err
	}
	r.Slots[0] = bootctrl.SlotInfo{}
	r.Slots[1] = bootctrl.SlotInfo{}
	if err := s.store(r); err != nil {
		return err
	}
	return s.enterRecoverySubflow(ctx, r)
}

// SetActive validates s and applies invariant 3, rejecting any other
// index with ErrInvalidArgument.
func (s *Selector) SetActive(slot int) error {
	if slot != 0 && slot != 1 {
		return fmt.Errorf("%w: slot %d, want 0 or 1", bootctrl.ErrInvalidArgument, slot)
	}
	r, err := s.load()
	if err != nil {
		return err
	}
	r.SetActive(slot)
	return s.store(r)
}

// ActiveSlot returns the suffix of the slot with strictly higher
// priority, ties favouring slot 0.
func (s *Selector) ActiveSlot() (string, error) {
	r, err := s.load()
	if err != nil {
		return "", err
	}
	return bootctrl.Suffix(r.ActiveSlot()), nil
}

func (s *Selector) slotFor(suffix string) (bootctrl.Record, int, error) {
	r, err := s.load()
	if err != nil {
		return bootctrl.Record{}, 0, err
	}
	idx := bootctrl.SlotFromSuffix(suffix)
	if idx < 0 {
		return bootctrl.Record{}, 0, fmt.Errorf("%w: unknown slot suffix %q", bootctrl.ErrInvalidArgument, suffix)
	}
	return r, idx, nil
}

// SlotRetryCount returns the matching slot's tries_remaining.
func (s *Selector) SlotRetryCount(suffix string) (uint8, error) {
	r, idx, err := s.slotFor(suffix)
	if err != nil {
		return 0, err
	}
	return r.Slots[idx].TriesRemaining, nil
}

// IsSuccessfulSlot reports whether the matching slot's successful_boot
// flag is set.
func (s *Selector) IsSuccessfulSlot(suffix string) (bool, error) {
	r, idx, err := s.slotFor(suffix)
	if err != nil {
		return false, err
	}
	return r.Slots[idx].SuccessfulBoot, nil
}

// IsUnbootableSlot reports whether the matching slot's priority is 0.
func (s *Selector) IsUnbootableSlot(suffix string) (bool, error) {
	r, idx, err := s.slotFor(suffix)
	if err != nil {
		return false, err
	}
	return r.Slots[idx].Priority == 0, nil
}
