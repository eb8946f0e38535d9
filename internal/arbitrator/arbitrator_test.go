package arbitrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/cheezecake/brillo-bootctl/internal/arbitrator"
	"github.com/cheezecake/brillo-bootctl/internal/platform"
)

func TestTargetReturnsFastbootWhenFWAsserted(t *testing.T) {
	t.Log("Test the FW GPIO pin forces fastboot regardless of the reboot-reason byte")

	sim := platform.NewSim()
	sim.SetGPIO(platform.GPIOBitFW, true)
	sim.WriteByte(platform.RebootReasonByteAddr, platform.RebootReasonRecovery)

	if got := arbitrator.Target(sim); got != "fastboot" {
		t.Fatalf("got %q, want fastboot", got)
	}
}

func TestTargetReadsRecoveryReason(t *testing.T) {
	t.Log("Test the reboot-reason byte 0x0c maps to recovery and is cleared")

	sim := platform.NewSim()
	sim.WriteByte(platform.RebootReasonByteAddr, platform.RebootReasonRecovery)

	if got := arbitrator.Target(sim); got != "recovery" {
		t.Fatalf("got %q, want recovery", got)
	}
	if got := sim.ReadByte(platform.RebootReasonByteAddr); got != 0 {
		t.Fatalf("reboot-reason byte not cleared, got %#x", got)
	}
}

func TestTargetPreservesCompanionSum(t *testing.T) {
	t.Log("Test the companion byte absorbs the cleared reboot-reason value")

	sim := platform.NewSim()
	sim.WriteByte(platform.RebootReasonByteAddr, platform.RebootReasonFastboot)
	sim.WriteByte(platform.RebootCompanionAddr, 10)

	arbitrator.Target(sim)

	if got := sim.ReadByte(platform.RebootCompanionAddr); got != 10+platform.RebootReasonFastboot {
		t.Fatalf("companion byte = %d, want %d", got, 10+platform.RebootReasonFastboot)
	}
}

func TestTargetDefaultsToNormal(t *testing.T) {
	t.Log("Test an unrecognised reboot-reason byte falls through to normal boot")

	sim := platform.NewSim()
	if got := arbitrator.Target(sim); got != "" {
		t.Fatalf("got %q, want empty string for normal boot", got)
	}
}

func TestSetRebootFlagPersistsFastbootReason(t *testing.T) {
	t.Log("Test SetRebootFlag writes the fastboot reboot reason")

	sim := platform.NewSim()
	if err := arbitrator.SetRebootFlag(sim); err != nil {
		t.Fatal(err)
	}
	if got := sim.ReadByte(platform.RebootReasonByteAddr); got != platform.RebootReasonFastboot {
		t.Fatalf("reboot-reason byte = %#x, want %#x", got, platform.RebootReasonFastboot)
	}
}

func TestConfirmWipeYesWhenRMAsserted(t *testing.T) {
	t.Log("Test ConfirmWipe returns true when RM is asserted")

	sim := platform.NewSim()
	sim.SetGPIO(platform.GPIOBitRM, true)

	if !arbitrator.ConfirmWipe(context.Background(), sim) {
		t.Fatal("expected ConfirmWipe to return true")
	}
}

func TestConfirmWipeNoWhenFWAsserted(t *testing.T) {
	t.Log("Test ConfirmWipe returns false when FW is asserted")

	sim := platform.NewSim()
	sim.SetGPIO(platform.GPIOBitFW, true)

	if arbitrator.ConfirmWipe(context.Background(), sim) {
		t.Fatal("expected ConfirmWipe to return false")
	}
}

func TestConfirmWipeRespectsContextCancellation(t *testing.T) {
	t.Log("Test ConfirmWipe returns false promptly when the context is cancelled")

	sim := platform.NewSim()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if arbitrator.ConfirmWipe(ctx, sim) {
		t.Fatal("expected ConfirmWipe to return false")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected ConfirmWipe to return promptly on context cancellation")
	}
}
