// Command boot_brillo is the entry driver: a single no-argument
// program run directly by the platform's boot ROM/first-stage loader.
// It arbitrates the boot target, drives the A/B selector, and falls
// back through fastboot and a hang rather than ever returning.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/cheezecake/brillo-bootctl/internal/arbitrator"
	"github.com/cheezecake/brillo-bootctl/internal/blockio"
	"github.com/cheezecake/brillo-bootctl/internal/bootimg"
	"github.com/cheezecake/brillo-bootctl/internal/platform"
	"github.com/cheezecake/brillo-bootctl/internal/selector"
)

type options struct {
	Sim bool `long:"sim" description:"run against an in-memory device and platform instead of real hardware"`
}

// env is the process-local analogue of u-boot's setenv/getenv: a
// single place that owns the bootargs value boot_brillo commits
// before a boot attempt and can restore on failure.
type env struct {
	vars map[string]string
}

func newEnv() *env { return &env{vars: map[string]string{}} }

func (e *env) get(key string) string { return e.vars[key] }

func (e *env) set(key, value string) { e.vars[key] = value }

// FastbootFunc drops into the fastboot command loop. The real
// implementation (USB gadget/DWC3 device-mode init and the command
// table itself) is an external collaborator outside this module's
// scope; the default stub always fails so the fallback chain below it
// still runs end to end off real hardware.
type FastbootFunc func() error

// ResetFunc issues a platform reset. Like FastbootFunc, the default
// stub fails so hang() is reachable without real hardware.
type ResetFunc func() error

func stubFastboot() error {
	log.Println("boot_brillo: fastboot not available on this host")
	return errNotAvailable
}

func stubReset() error {
	log.Println("boot_brillo: reset not available on this host")
	return errNotAvailable
}

var errNotAvailable = notAvailableError("not available on this host")

type notAvailableError string

func (e notAvailableError) Error() string { return string(e) }

func main() {
	opts := &options{}
	if _, err := flags.Parse(opts); err != nil {
		os.Exit(1)
	}

	plat, dev := openBackends(opts.Sim)
	entry := kernelEntryFor(opts.Sim)

	sel := &selector.Selector{
		Dev:    dev,
		Loader: &bootimg.Loader{Dev: dev},
		Plat:   plat,
		Entry:  entry,
	}

	run(sel, plat, newEnv(), stubFastboot, stubReset)
}

func openBackends(sim bool) (platform.Platform, blockio.Device) {
	if sim {
		return platform.NewSim(), blockio.NewSimDevice(blockio.DefaultBlockSize, map[string]uint64{
			blockio.MiscPartition: 4,
			"boot_a":              32768,
			"boot_b":              32768,
			"recovery":            32768,
		})
	}
	// The real eMMC block device and its partition map are an external
	// collaborator this module does not own; a production image wires a
	// FileDevice over the actual disk path here. Plain /dev/mem access
	// for the platform trait is the only real backend this binary can
	// stand up on its own.
	plat, err := platform.OpenDevMem()
	if err != nil {
		log.Fatalln("boot_brillo: opening /dev/mem:", err)
	}
	log.Fatalln("boot_brillo: no block device wired for this board; run with --sim")
	return plat, nil
}

// kernelEntryFor returns the hand-off seam. Wiring this to a real jump
// into staged kernel memory is architecture-specific assembly outside
// this module's scope; --sim uses a fake that always reports hand-off
// failure so the fallback chain can be exercised.
func kernelEntryFor(sim bool) bootimg.KernelEntry {
	return simKernelEntry{}
}

type simKernelEntry struct{}

func (simKernelEntry) Boot(params *bootimg.BootParams) error {
	return errNotAvailable
}

// run implements the ordered dispatch: arbitrate the boot target,
// drive the normal/recovery path, then fall back through fastboot and
// reset before hanging.
func run(sel *selector.Selector, plat platform.Platform, e *env, fastboot FastbootFunc, reset ResetFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch arbitrator.Target(plat) {
	case "recovery":
		if err := sel.EnterRecovery(ctx); err != nil {
			log.Println("boot_brillo: recovery entry failed:", err)
		}
	case "fastboot":
		if err := fastboot(); err == nil {
			return
		}
		if err := reset(); err == nil {
			return
		}
		hang(plat)
		return
	default:
		serial := e.get("serial#")
		bootargs := e.get("bootargs")
		prepared := bootargs
		if serial != "" {
			prepared = "androidboot.serialno=" + serial + " " + bootargs
		}

		previous := e.get("bootargs")
		e.set("bootargs", prepared)
		err := sel.Boot(ctx, bootargs, serial)
		e.set("bootargs", previous)

		if err != nil {
			log.Println("boot_brillo: selector exhausted every slot and the recovery budget:", err)
		}
	}

	// Every normal/recovery path is exhausted: fastboot serves as
	// diskless recovery, then reset, then hang.
	if err := fastboot(); err == nil {
		return
	}
	if err := reset(); err == nil {
		return
	}
	hang(plat)
}

func hang(plat platform.Platform) {
	log.Println("boot_brillo: no fallback succeeded, hanging")
	plat.Hang()
}
