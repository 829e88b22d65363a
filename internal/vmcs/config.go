package vmcs

import (
	"github.com/go-vtx/vtx/internal/vmx"
)

// Source is the capability-reading surface hardware_setup needs: CPUID
// and RDMSR. It exists so config_test.go can exercise the negotiation
// arithmetic against a fake CPU instead of requiring VT-x hardware — the
// automated-test strategy SPEC_FULL.md §8 calls for, grounded on the
// teacher's own habit of testing bootparam/bootproto/cpuid.Patch purely
// as byte/arithmetic problems, never against a live device.
type Source interface {
	ReadMSR(msr uint32) uint64
	CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
}

// HostCPU implements Source against the real CPU via internal/vmx.
type HostCPU struct{}

func (HostCPU) ReadMSR(msr uint32) uint64 { return vmx.RDMSR(msr) }

func (HostCPU) CPUID(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	return vmx.CPUID(leaf, subleaf)
}

// Config is the immutable negotiated control-word snapshot (§3 DATA
// MODEL's "VMCS configuration record").
type Config struct {
	PinBased  uint32
	CPUBased  uint32
	Secondary uint32
	VMExit    uint32
	VMEntry   uint32

	VMCSSize   uint32
	RevisionID uint32

	// PermitSCEPassthrough documents the first open question in
	// SPEC_FULL.md §9: whether EFER.SCE-stripping (and the #UD-based
	// SYSCALL/SYSRET emulation it forces) is permanent. This VMM's
	// default, matching the specification, is false — SCE is always
	// stripped. Flipping it is an unimplemented extension point, not a
	// supported configuration: nothing in internal/dispatch currently
	// consults it.
	PermitSCEPassthrough bool
}

const vmxFeatureBitECX = 1 << 5 // CPUID.1:ECX.VMX

func adjustControls(class string, min, opt uint32, capMSR uint64) (uint32, error) {
	allowed0 := uint32(capMSR)
	allowed1 := uint32(capMSR >> 32)

	ctl := (min | opt) & allowed1
	ctl |= allowed0

	if min&^ctl != 0 {
		return 0, &ConfigError{Class: class, Min: min, Allowed0: allowed0, Allowed1: allowed1, Missing: min &^ ctl}
	}

	return ctl, nil
}

// HardwareSetup runs the fixed protocol of §4.C2 against src, returning
// the negotiated Config or the first failure encountered. It does not
// execute VMXON — that is the caller's job once a Config is in hand.
func HardwareSetup(src Source) (*Config, error) {
	_, _, ecx, _ := src.CPUID(1, 0)
	if ecx&vmxFeatureBitECX == 0 {
		return nil, ErrNoVTx
	}

	fc := src.ReadMSR(MSRIA32FeatureControl)
	if fc&FeatureControlLocked != 0 && fc&FeatureControlVMXONEnabledOutsideSMX == 0 {
		return nil, ErrDisabledByBIOS
	}

	secondary, err := adjustControls("secondary",
		SecondaryEnableEPT|SecondaryEnableVPID|SecondaryUnrestrictedGuest,
		SecondaryEnableRDTSCP|SecondaryEnableInvpcid,
		src.ReadMSR(MSRIA32VMXProcbasedCtls2))
	if err != nil {
		return nil, err
	}

	cpuBased, err := adjustControls("cpu-based",
		CPUBasedUseMSRBitmaps|CPUBasedActivateSecondaryControls|CPUBasedRDTSCExiting|CPUBasedCR3LoadExiting,
		0,
		src.ReadMSR(MSRIA32VMXTrueProcbasedCtl))
	if err != nil {
		return nil, err
	}

	// CR3_STORE_EXITING/INVLPG_EXITING are not in the required set: once
	// EPT is active the guest's CR3 reads and INVLPGs need not trap.
	cpuBased &^= CPUBasedCR3StoreExiting | CPUBasedInvlpgExiting

	vmExit, err := adjustControls("vm-exit",
		VMExitHostAddrSpaceSize|VMExitSaveDebugControls|VMExitSaveIA32EFER|VMExitLoadIA32EFER,
		VMExitSaveIA32PAT|VMExitLoadIA32PAT|VMExitClearBNDCFGS,
		src.ReadMSR(MSRIA32VMXTrueExitCtls))
	if err != nil {
		return nil, err
	}

	pinBased, err := adjustControls("pin-based", 0, 0, src.ReadMSR(MSRIA32VMXTruePinbasedCtls))
	if err != nil {
		return nil, err
	}

	vmEntry, err := adjustControls("vm-entry",
		VMEntryLoadDebugControls|VMEntryLoadIA32EFER,
		VMEntryLoadIA32PAT|VMEntryLoadBNDCFGS,
		src.ReadMSR(MSRIA32VMXTrueEntryCtls))
	if err != nil {
		return nil, err
	}

	eptCap := src.ReadMSR(MSRIA32VMXEPTVPIDCap)
	if eptCap&EPTVPIDCap2MBPage == 0 {
		return nil, ErrNoEPT2MB
	}

	if eptCap&EPTVPIDCapPageWalk4 == 0 {
		return nil, ErrNoEPT4Level
	}

	basic := src.ReadMSR(MSRIA32VMXBasic)

	revisionID := uint32(basic & 0x7fffffff)
	vmcsSize := uint32((basic >> 32) & 0x1fff)
	memType := (basic >> 50) & 0xf

	if vmcsSize > 4096 {
		return nil, ErrVMCSTooLarge
	}

	if memType != 6 { // write-back
		return nil, ErrVMCSNotWriteback
	}

	return &Config{
		PinBased:   pinBased,
		CPUBased:   cpuBased,
		Secondary:  secondary,
		VMExit:     vmExit,
		VMEntry:    vmEntry,
		VMCSSize:   vmcsSize,
		RevisionID: revisionID,
	}, nil
}

// Report is the result of Probe: a side-effect-free capability summary
// for the cmd/probe preflight tool (SPEC_FULL.md §2.3/§6).
type Report struct {
	VTxPresent    bool
	DisabledByBIOS bool
	EPT2MBPages   bool
	EPT4LevelWalk bool
	VMCSSize      uint32
	RevisionID    uint32
}

// Probe runs the non-mutating subset of hardware_setup (CPUID/MSR reads
// only, never VMXON) so it can run on ordinary hardware, including
// hardware with VT-x entirely absent.
func Probe(src Source) (Report, error) {
	var r Report

	_, _, ecx, _ := src.CPUID(1, 0)
	r.VTxPresent = ecx&vmxFeatureBitECX != 0

	if !r.VTxPresent {
		return r, nil
	}

	fc := src.ReadMSR(MSRIA32FeatureControl)
	r.DisabledByBIOS = fc&FeatureControlLocked != 0 && fc&FeatureControlVMXONEnabledOutsideSMX == 0

	eptCap := src.ReadMSR(MSRIA32VMXEPTVPIDCap)
	r.EPT2MBPages = eptCap&EPTVPIDCap2MBPage != 0
	r.EPT4LevelWalk = eptCap&EPTVPIDCapPageWalk4 != 0

	basic := src.ReadMSR(MSRIA32VMXBasic)
	r.RevisionID = uint32(basic & 0x7fffffff)
	r.VMCSSize = uint32((basic >> 32) & 0x1fff)

	return r, nil
}
