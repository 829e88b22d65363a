package worldswitch_test

import (
	"testing"
)

// Run executes VMLAUNCH/VMRESUME directly; there is no safe way to
// exercise it without a VMCS already activated by VMX root operation
// (internal/vmcs.HardwareSetup + vmx.VMXOn), which in turn requires
// real VT-x hardware. Per the software-fake testing strategy, the
// arithmetic this package depends on (MSR/control negotiation, EPT
// walks, AR-byte packing) is tested in internal/vmcs, internal/ept, and
// internal/vcpu instead; this package has no pure-Go surface left to
// test in isolation.
func TestRunRequiresHardware(t *testing.T) {
	t.Skip("worldswitch.Run executes VMLAUNCH/VMRESUME and requires an activated VMCS on real VT-x hardware")
}
