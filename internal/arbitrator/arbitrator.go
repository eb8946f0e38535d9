// Package arbitrator decides the boot target: turning a GPIO sample
// and the persisted reboot-reason byte into one of "recovery",
// "fastboot" or "" (normal boot).
package arbitrator

import (
	"context"
	"time"

	"github.com/cheezecake/brillo-bootctl/internal/platform"
)

// confirmPollInterval and confirmTimeout bound the userdata wipe
// confirmation to polling at 10 Hz for up to 10 seconds.
const (
	confirmPollInterval = 100 * time.Millisecond
	confirmTimeout      = 10 * time.Second
)

// Target samples the "FW" GPIO pin first (asserted forces fastboot
// unconditionally), then reads and clears the persisted reboot-reason
// byte — adding its prior value to the companion byte so the running
// sum is preserved — and issues the SCU IPC acknowledgement.
func Target(plat platform.Platform) string {
	if plat.GPIO(platform.GPIOBitFW) {
		return "fastboot"
	}

	reason := plat.ReadByte(platform.RebootReasonByteAddr)
	plat.WriteByte(platform.RebootReasonByteAddr, 0)
	companion := plat.ReadByte(platform.RebootCompanionAddr)
	plat.WriteByte(platform.RebootCompanionAddr, companion+reason)

	_ = plat.IPC(platform.SCUIPCRebootOpcode)

	switch reason {
	case platform.RebootReasonRecovery:
		return "recovery"
	case platform.RebootReasonFastboot:
		return "fastboot"
	default:
		return ""
	}
}

// SetRebootFlag persists a request to boot into fastboot on the next
// reset, preserving the companion-byte sum the same way Target does.
func SetRebootFlag(plat platform.Platform) error {
	previous := plat.ReadByte(platform.RebootReasonByteAddr)
	plat.WriteByte(platform.RebootReasonByteAddr, platform.RebootReasonFastboot)
	companion := plat.ReadByte(platform.RebootCompanionAddr)
	plat.WriteByte(platform.RebootCompanionAddr, companion+previous-platform.RebootReasonFastboot)

	return plat.IPC(platform.SCUIPCRebootOpcode)
}

// ConfirmWipe polls the RM ("YES") and FW ("NO") GPIO bits at 10 Hz
// for up to 10 seconds, returning true iff RM was observed asserted
// before FW was. The first bit to read asserted wins; if neither is
// asserted before the timeout or the context is cancelled, the wipe is
// not confirmed.
func ConfirmWipe(ctx context.Context, plat platform.Platform) bool {
	deadline := time.Now().Add(confirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		if plat.GPIO(platform.GPIOBitRM) {
			return true
		}
		if plat.GPIO(platform.GPIOBitFW) {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
