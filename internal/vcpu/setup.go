package vcpu

import (
	"unsafe"

	"github.com/go-vtx/vtx/internal/ept"
	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/go-vtx/vtx/internal/vmx"
)

func phys(p unsafe.Pointer) uint64 { return uint64(uintptr(p)) }

const linkPointerNone = 0xffffffffffffffff

// cr0AlwaysOn is the set of CR0 bits this VMM's CR0 guest/host mask
// always forces: NE and WP are mandated by VT-x's "unrestricted guest"
// relaxations not covering them, PE is not forced (the guest starts in
// real mode).
const cr0AlwaysOn = 1<<5 | 1<<16 // NE | WP

// cr4AlwaysOn forces CR4.VMXE in the guest's real CR4, which VMX
// operation requires; the CR4 read shadow hides it from guest reads.
const cr4AlwaysOn = 1 << 13 // VMXE

// New allocates a fresh vCPU record, including its VMCS page stamped
// with the processor's revision identifier (IA32_VMX_BASIC bits 30:0).
func New(cfg *vmcs.Config) *VCPU {
	v := &VCPU{config: cfg}

	region := &[4096]byte{}
	*(*uint32)(unsafe.Pointer(&region[0])) = cfg.RevisionID
	v.vmcsRegion = region

	return v
}

// Activate makes this vCPU's VMCS the one current on this logical
// processor (VMCLEAR, then VMPTRLD), per §4.C2's ownership rule: a VMCS
// is current on at most one processor at a time.
func (v *VCPU) Activate() {
	region := phys(unsafe.Pointer(&v.vmcsRegion[0]))
	vmx.VMClear(region)
	vmx.VMPtrld(region)
}

// Setup programs a newly activated VMCS to the power-on reset state
// described by §4.C4. eptTables must already be built; its pointer is
// written into EPT_POINTER here and the tables are kept for later
// guest-address translation (internal/emulate's walker).
func (v *VCPU) Setup(eptTables *ept.Tables) {
	v.eptTables = eptTables

	cfg := v.config

	vmx.Write32(vmcs.PinBasedVMExecControl, cfg.PinBased)
	vmx.Write32(vmcs.CPUBasedVMExecControl, cfg.CPUBased)
	vmx.Write32(vmcs.SecondaryVMExecControl, cfg.Secondary)
	vmx.Write32(vmcs.VMExitControls, cfg.VMExit)
	vmx.Write32(vmcs.VMEntryControls, cfg.VMEntry)

	const (
		vectorUD = 1 << 6
		vectorPF = 1 << 14
	)

	vmx.Write32(vmcs.ExceptionBitmap, vectorUD|vectorPF)
	vmx.Write32(vmcs.PageFaultErrorCodeMask, 0)
	vmx.Write32(vmcs.PageFaultErrorCodeMatch, 0)
	vmx.Write32(vmcs.CR3TargetCount, 0)

	v.setupMSRAutoload()
	v.setupHostState()
	v.setupGuestState()

	vmx.Write64(vmcs.EPTPointer, eptTables.Pointer())
}

// setupMSRAutoload programs the VM-exit MSR store/load and VM-entry MSR
// load arrays. Host entries are pre-loaded with the VMM's current
// values so an exit restores them; guest entries start at zero (§4.C4).
func (v *VCPU) setupMSRAutoload() {
	for i, idx := range vmcs.SavedMSRs {
		v.guestMSRs[i] = msrPair{Index: idx, Value: 0}
		v.hostMSRs[i] = msrPair{Index: idx, Value: vmx.RDMSR(idx)}
	}

	n := uint32(autoloadCount)

	vmx.Write32(vmcs.VMExitMSRStoreCount, n)
	vmx.Write64(vmcs.VMExitMSRStoreAddr, phys(unsafe.Pointer(&v.guestMSRs[0])))
	vmx.Write32(vmcs.VMExitMSRLoadCount, n)
	vmx.Write64(vmcs.VMExitMSRLoadAddr, phys(unsafe.Pointer(&v.hostMSRs[0])))
	vmx.Write32(vmcs.VMEntryMSRLoadCount, n)
	vmx.Write64(vmcs.VMEntryMSRLoadAddr, phys(unsafe.Pointer(&v.guestMSRs[0])))
}

// setupHostState snapshots the currently executing CPU. It must run on
// the same logical processor that will later execute VMLAUNCH/VMRESUME
// for this vCPU (runtime.LockOSThread is the caller's responsibility).
func (v *VCPU) setupHostState() {
	vmx.Write16(vmcs.HostFSSelector, 0)
	vmx.Write16(vmcs.HostGSSelector, 0)
	vmx.WriteNatural(vmcs.HostFSBase, vmx.RDMSR(vmcs.MSRFSBase))
	vmx.WriteNatural(vmcs.HostGSBase, vmx.RDMSR(vmcs.MSRGSBase))

	vmx.WriteNatural(vmcs.HostCR0, vmx.ReadCR0())
	vmx.WriteNatural(vmcs.HostCR3, vmx.ReadCR3())
	vmx.WriteNatural(vmcs.HostCR4, vmx.ReadCR4())
	vmx.Write64(vmcs.HostIA32EFER, vmx.RDMSR(vmcs.MSREFER))

	vmx.Write32(vmcs.HostIA32SysenterCS, uint32(vmx.RDMSR(vmcs.MSRSysenterCS)))
	vmx.WriteNatural(vmcs.HostIA32SysenterESP, vmx.RDMSR(vmcs.MSRSysenterESP))
	vmx.WriteNatural(vmcs.HostIA32SysenterEIP, vmx.RDMSR(vmcs.MSRSysenterEIP))

	// HOST_RIP is a fixed label inside the world-switch trampoline
	// (internal/worldswitch); HOST_RSP is repatched on every entry by
	// that same trampoline, not here.
}

// setupGuestState programs the canonical power-on reset state: real
// mode, CS at the BIOS reset vector, all other segments flat, RIP at
// 0xFFF0.
func (v *VCPU) setupGuestState() {
	writeSeg := func(selField, baseField, limitField, arField uint32, seg Segment) {
		vmx.Write16(selField, seg.Selector)
		vmx.WriteNatural(baseField, seg.Base)
		vmx.Write32(limitField, seg.Limit)
		vmx.Write32(arField, seg.ARBytes())
	}

	writeSeg(vmcs.GuestCSSelector, vmcs.GuestCSBase, vmcs.GuestCSLimit, vmcs.GuestCSARBytes, realModeCodeSegment)
	writeSeg(vmcs.GuestDSSelector, vmcs.GuestDSBase, vmcs.GuestDSLimit, vmcs.GuestDSARBytes, realModeDataSegment)
	writeSeg(vmcs.GuestESSelector, vmcs.GuestESBase, vmcs.GuestESLimit, vmcs.GuestESARBytes, realModeDataSegment)
	writeSeg(vmcs.GuestSSSelector, vmcs.GuestSSBase, vmcs.GuestSSLimit, vmcs.GuestSSARBytes, realModeDataSegment)
	writeSeg(vmcs.GuestFSSelector, vmcs.GuestFSBase, vmcs.GuestFSLimit, vmcs.GuestFSARBytes, realModeDataSegment)
	writeSeg(vmcs.GuestGSSelector, vmcs.GuestGSBase, vmcs.GuestGSLimit, vmcs.GuestGSARBytes, realModeDataSegment)
	writeSeg(vmcs.GuestTRSelector, vmcs.GuestTRBase, vmcs.GuestTRLimit, vmcs.GuestTRARBytes, realModeTR)
	writeSeg(vmcs.GuestLDTRSelector, vmcs.GuestLDTRBase, vmcs.GuestLDTRLimit, vmcs.GuestLDTRARBytes, realModeLDTR)

	vmx.Write32(vmcs.GuestActivityState, uint32(Active))
	vmx.Write32(vmcs.GuestInterruptibilityInfo, 0)
	vmx.WriteNatural(vmcs.GuestPendingDebugExceptions, 0)
	vmx.Write32(vmcs.VMEntryIntrInfoField, 0)

	vmx.WriteNatural(vmcs.GuestRFLAGS, 0x2)
	vmx.WriteNatural(vmcs.GuestRIP, 0xfff0)

	vmx.WriteNatural(vmcs.GuestGDTRBase, 0)
	vmx.Write32(vmcs.GuestGDTRLimit, 0xffff)
	vmx.WriteNatural(vmcs.GuestIDTRBase, 0)
	vmx.Write32(vmcs.GuestIDTRLimit, 0xffff)

	vmx.Write64(vmcs.VMCSLinkPointer, linkPointerNone)
	vmx.Write16(vmcs.VirtualProcessorID, 1)

	const (
		cr0NW = 1 << 29
		cr0CD = 1 << 30
		cr0ET = 1 << 4
	)

	vmx.WriteNatural(vmcs.CR0GuestHostMask, cr0AlwaysOn)
	vmx.WriteNatural(vmcs.CR0ReadShadow, cr0NW|cr0CD|cr0ET)
	vmx.WriteNatural(vmcs.GuestCR0, cr0AlwaysOn|cr0NW|cr0CD|cr0ET)
	vmx.WriteNatural(vmcs.GuestCR3, 0)

	vmx.WriteNatural(vmcs.CR4GuestHostMask, cr4AlwaysOn)
	vmx.WriteNatural(vmcs.CR4ReadShadow, 0)
	vmx.WriteNatural(vmcs.GuestCR4, cr4AlwaysOn)
}

// RunFrom overrides the BIOS-reset-vector-style entry point before the
// first VMLAUNCH, per §4.C4's run_vcpu(start_ip) contract: CS.base and
// CS.selector follow the real-mode segment:offset convention, RIP holds
// the low 16 bits.
func (v *VCPU) RunFrom(startIP uint64) {
	base := startIP & 0xffff0000

	vmx.WriteNatural(vmcs.GuestCSBase, base)
	vmx.Write16(vmcs.GuestCSSelector, uint16(base>>4))
	vmx.WriteNatural(vmcs.GuestRIP, startIP&0xffff)
}
