package vmcs

import (
	"errors"
	"fmt"
)

// ErrNoVTx is returned when CPUID does not report the VMX feature bit.
var ErrNoVTx = errors.New("vmcs: no VT-x (CPUID.1:ECX.VMX is clear)")

// ErrDisabledByBIOS is returned when IA32_FEATURE_CONTROL is locked
// without VMXON_ENABLED_OUTSIDE_SMX set.
var ErrDisabledByBIOS = errors.New("vmcs: VMX disabled by BIOS (FEATURE_CONTROL locked)")

// ErrNoEPT2MB and ErrNoEPT4Level are returned when the EPT/VPID
// capability MSR lacks a feature this VMM requires unconditionally.
var (
	ErrNoEPT2MB    = errors.New("vmcs: no 2 MiB EPT page support")
	ErrNoEPT4Level = errors.New("vmcs: no 4-level EPT walk support")
)

// ErrVMCSTooLarge and ErrVMCSNotWriteback report a VMCS capability MSR
// this VMM's fixed-size page allocation cannot accommodate.
var (
	ErrVMCSTooLarge     = errors.New("vmcs: VMCS size exceeds 4 KiB")
	ErrVMCSNotWriteback = errors.New("vmcs: VMCS memory type is not write-back")
)

// ConfigError reports that a required control bit is not allowed by its
// capability MSR — §4.C2 step 3's "min & ~ctl is non-zero" failure.
// Grounded on original_source/vmm/vmx.c's adjust_vmx_controls, which
// panics with the class name; here it is a typed, inspectable error
// instead, so tests and the probe tool don't need to parse a string.
type ConfigError struct {
	Class     string
	Min       uint32
	Allowed0  uint32
	Allowed1  uint32
	Missing   uint32
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("vmcs: required %s control bits 0x%x not available (allowed0=0x%x allowed1=0x%x)",
		e.Class, e.Missing, e.Allowed0, e.Allowed1)
}
