// Command probe is the host-side preflight tool operators run before
// flashing the VMM image onto target hardware: it performs the
// non-mutating half of hardware_setup (§4.C2) — CPUID/MSR capability
// checks only, never VMXON — and reports whether the machine can run
// this VMM at all.
//
// Grounded on the teacher's flag/runs.go ProbeCMD, which wraps the
// analogous KVM-capability preflight (probe.KVMCapabilities) the same
// way.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/alecthomas/kong"
	"github.com/go-vtx/vtx/internal/vmcs"
)

var errUnsupportedHost = errors.New("host does not support the required VT-x/EPT features")

type cli struct {
	Verbose bool `help:"Print every checked field, not just failures." short:"v"`
}

func main() {
	var c cli

	kong.Parse(&c,
		kong.Name("probe"),
		kong.Description("report whether this host supports the VT-x/EPT features this VMM requires"),
		kong.UsageOnError())

	if err := run(c); err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		os.Exit(1)
	}
}

func run(c cli) error {
	// CPUID/RDMSR read the calling logical processor's state; pin the
	// goroutine to one OS thread for the duration of the probe so the
	// scheduler can't migrate it mid-check.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	report, err := vmcs.Probe(vmcs.HostCPU{})
	if err != nil {
		return fmt.Errorf("capability check: %w", err)
	}

	if c.Verbose {
		fmt.Printf("VT-x present:       %v\n", report.VTxPresent)
		fmt.Printf("disabled by BIOS:   %v\n", report.DisabledByBIOS)
		fmt.Printf("EPT 2 MiB pages:    %v\n", report.EPT2MBPages)
		fmt.Printf("EPT 4-level walk:   %v\n", report.EPT4LevelWalk)
		fmt.Printf("VMCS size:          %d\n", report.VMCSSize)
		fmt.Printf("VMCS revision ID:   %#x\n", report.RevisionID)
	}

	missing := !report.VTxPresent || report.DisabledByBIOS || !report.EPT2MBPages || !report.EPT4LevelWalk

	if missing {
		fmt.Println("FAIL: this host does not meet the requirements to run the VMM")

		return errUnsupportedHost
	}

	fmt.Println("OK: this host supports VT-x with EPT 4-level, 2 MiB-page walks")

	return nil
}
