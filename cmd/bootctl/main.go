// Command bootctl is the host-tool surface a flasher shells out to,
// wrapping the operations fastboot's command table invokes directly:
// set_active, the slot query accessors, the security store, GPT
// verification, and userdata wipe confirmation.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/cheezecake/brillo-bootctl/internal/arbitrator"
	"github.com/cheezecake/brillo-bootctl/internal/blockio"
	"github.com/cheezecake/brillo-bootctl/internal/bootimg"
	"github.com/cheezecake/brillo-bootctl/internal/gpt"
	"github.com/cheezecake/brillo-bootctl/internal/platform"
	"github.com/cheezecake/brillo-bootctl/internal/security"
	"github.com/cheezecake/brillo-bootctl/internal/selector"
)

type rootOptions struct {
	Sim bool `long:"sim" description:"run against an in-memory device and platform instead of real hardware"`
}

var root = &rootOptions{}

func backends() (platform.Platform, blockio.Device) {
	if root.Sim {
		return platform.NewSim(), blockio.NewSimDevice(blockio.DefaultBlockSize, map[string]uint64{
			blockio.MiscPartition: 4,
			"boot_a":              32768,
			"boot_b":              32768,
			"recovery":            32768,
			"security":            4,
		})
	}
	plat, err := platform.OpenDevMem()
	if err != nil {
		return nil, nil
	}
	_ = plat
	fmt.Fprintln(os.Stderr, "bootctl: no block device wired for real hardware; run with --sim")
	os.Exit(1)
	return nil, nil
}

func newSelector() *selector.Selector {
	plat, dev := backends()
	return &selector.Selector{
		Dev:    dev,
		Loader: &bootimg.Loader{Dev: dev},
		Plat:   plat,
	}
}

type setActiveCmd struct {
	Args struct {
		Slot int `positional-arg-name:"slot" description:"0 or 1"`
	} `positional-args:"yes" required:"yes"`
}

func (c *setActiveCmd) Execute(args []string) error {
	return newSelector().SetActive(c.Args.Slot)
}

type queryCmd struct {
	Args struct {
		Accessor string `positional-arg-name:"accessor" description:"active-slot|retry-count|successful|unbootable"`
		Suffix   string `positional-arg-name:"suffix" description:"_a or _b, unused for active-slot"`
	} `positional-args:"yes"`
}

func (c *queryCmd) Execute(args []string) error {
	sel := newSelector()
	switch c.Args.Accessor {
	case "active-slot":
		suffix, err := sel.ActiveSlot()
		if err != nil {
			return err
		}
		fmt.Println(suffix)
	case "retry-count":
		n, err := sel.SlotRetryCount(c.Args.Suffix)
		if err != nil {
			return err
		}
		fmt.Println(n)
	case "successful":
		ok, err := sel.IsSuccessfulSlot(c.Args.Suffix)
		if err != nil {
			return err
		}
		fmt.Println(ok)
	case "unbootable":
		ok, err := sel.IsUnbootableSlot(c.Args.Suffix)
		if err != nil {
			return err
		}
		fmt.Println(ok)
	default:
		return fmt.Errorf("unknown query accessor %q", c.Args.Accessor)
	}
	return nil
}

type securityCmd struct {
	Args struct {
		Op  string `positional-arg-name:"op" description:"read-lock|write-lock|read-devkey|write-devkey"`
		Val string `positional-arg-name:"value" description:"true/false for write-lock, hex for write-devkey"`
	} `positional-args:"yes"`
}

func (c *securityCmd) Execute(args []string) error {
	_, dev := backends()
	store := &security.Store{Dev: dev}
	switch c.Args.Op {
	case "read-lock":
		locked, err := store.ReadLock()
		if err != nil {
			return err
		}
		fmt.Println(locked)
	case "write-lock":
		return store.WriteLock(c.Args.Val == "true")
	case "read-devkey":
		key, err := store.ReadDevKey()
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", key)
	case "write-devkey":
		key, err := hex.DecodeString(c.Args.Val)
		if err != nil {
			return err
		}
		return store.WriteDevKey(key)
	default:
		return fmt.Errorf("unknown security op %q", c.Args.Op)
	}
	return nil
}

type verifyGPTCmd struct {
	Args struct {
		FragmentFile string `positional-arg-name:"fragment-file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *verifyGPTCmd) Execute(args []string) error {
	buf, err := os.ReadFile(c.Args.FragmentFile)
	if err != nil {
		return err
	}
	if err := gpt.VerifyLayout(buf); err != nil {
		return err
	}
	guids, err := gpt.RequiredPrefixGUIDs(buf)
	if err != nil {
		return err
	}
	for i, g := range guids {
		fmt.Printf("entry %d: type=%s unique=%s\n", i, g.TypeGUID, g.UniqueGUID)
	}
	return nil
}

type rebootFastbootCmd struct{}

func (c *rebootFastbootCmd) Execute(args []string) error {
	plat, _ := backends()
	return arbitrator.SetRebootFlag(plat)
}

type wipeUserdataCmd struct{}

func (c *wipeUserdataCmd) Execute(args []string) error {
	plat, _ := backends()
	fmt.Println("Confirm userdata wipe on the device (RM = yes, FW = no)...")
	if !arbitrator.ConfirmWipe(context.Background(), plat) {
		return fmt.Errorf("userdata wipe not confirmed")
	}
	fmt.Println("confirmed")
	return nil
}

func main() {
	parser := flags.NewParser(root, flags.Default)

	parser.AddCommand("set-active", "Set the preferred boot slot", "", &setActiveCmd{})
	parser.AddCommand("query", "Read slot metadata", "", &queryCmd{})
	parser.AddCommand("security", "Read or write the security record", "", &securityCmd{})
	parser.AddCommand("verify-gpt", "Verify a GPT fragment's required partition prefix", "", &verifyGPTCmd{})
	parser.AddCommand("reboot-fastboot", "Persist a fastboot reboot reason", "", &rebootFastbootCmd{})
	parser.AddCommand("wipe-userdata", "Prompt for physical confirmation of a userdata wipe", "", &wipeUserdataCmd{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
