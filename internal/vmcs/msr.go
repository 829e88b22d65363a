package vmcs

// MSR indices this VMM reads, writes, or intercepts.
const (
	MSRIA32FeatureControl = 0x3a
	MSRIA32APICBase       = 0x1b
	MSRAPICICR            = 0x830 // x2APIC ICR, APIC_BASE_MSR(0x800) + (APIC_ICR(0x300)>>4)

	MSRIA32VMXBasic            = 0x480
	MSRIA32VMXPinbasedCtls     = 0x481
	MSRIA32VMXProcbasedCtls    = 0x482
	MSRIA32VMXExitCtls         = 0x483
	MSRIA32VMXEntryCtls        = 0x484
	MSRIA32VMXMisc             = 0x485
	MSRIA32VMXProcbasedCtls2   = 0x48b
	MSRIA32VMXEPTVPIDCap       = 0x48c
	MSRIA32VMXTruePinbasedCtls = 0x48d
	MSRIA32VMXTrueProcbasedCtl = 0x48e
	MSRIA32VMXTrueExitCtls     = 0x48f
	MSRIA32VMXTrueEntryCtls    = 0x490
	MSRIA32VMXVMFunc           = 0x491 // last in the VMX MSR range intercepted wholesale

	MSREFER            = 0xc0000080
	MSRSTAR            = 0xc0000081
	MSRLSTAR           = 0xc0000082
	MSRSyscallMask      = 0xc0000084 // "FMASK" in the SYSCALL architecture
	MSRFSBase           = 0xc0000100
	MSRGSBase           = 0xc0000101
	MSRKernelGSBase     = 0xc0000102

	MSRSysenterCS  = 0x174
	MSRSysenterESP = 0x175
	MSRSysenterEIP = 0x176
)

// SavedMSRs lists the four MSRs auto-loaded/stored across VM-entry/exit
// (§3 DATA MODEL). Order matches original_source/vmm/vmx.c's MSR_SAVE_LIST.
var SavedMSRs = [4]uint32{MSRKernelGSBase, MSRSyscallMask, MSRLSTAR, MSRSTAR}

// IA32_FEATURE_CONTROL bits.
const (
	FeatureControlLocked                  = 1 << 0
	FeatureControlVMXONEnabledInsideSMX   = 1 << 1
	FeatureControlVMXONEnabledOutsideSMX  = 1 << 2
)

// CPU-based (primary processor-based) VM-execution control bits.
const (
	CPUBasedCR3LoadExiting            = 1 << 15
	CPUBasedCR3StoreExiting           = 1 << 16
	CPUBasedInvlpgExiting             = 1 << 9
	CPUBasedRDTSCExiting              = 1 << 12
	CPUBasedUseMSRBitmaps             = 1 << 28
	CPUBasedActivateSecondaryControls = 1 << 31
)

// Secondary processor-based VM-execution control bits.
const (
	SecondaryEnableEPT             = 1 << 1
	SecondaryEnableRDTSCP          = 1 << 3
	SecondaryEnableVPID            = 1 << 5
	SecondaryUnrestrictedGuest     = 1 << 7
	SecondaryEnableInvpcid         = 1 << 12
)

// VM-exit control bits.
const (
	VMExitSaveDebugControls  = 1 << 2
	VMExitHostAddrSpaceSize  = 1 << 9
	VMExitSaveIA32PAT        = 1 << 18
	VMExitLoadIA32PAT        = 1 << 19
	VMExitSaveIA32EFER       = 1 << 20
	VMExitLoadIA32EFER       = 1 << 21
	VMExitClearBNDCFGS       = 1 << 23
)

// VM-entry control bits.
const (
	VMEntryLoadDebugControls = 1 << 2
	VMEntryIA32EMode         = 1 << 9
	VMEntryLoadIA32PAT       = 1 << 14
	VMEntryLoadIA32EFER      = 1 << 15
	VMEntryLoadBNDCFGS       = 1 << 16
)

// IA32_VMX_EPT_VPID_CAP bits.
const (
	EPTVPIDCapExecuteOnly  = 1 << 0
	EPTVPIDCapPageWalk4    = 1 << 6
	EPTVPIDCapWriteBack    = 1 << 14
	EPTVPIDCap2MBPage      = 1 << 16
	EPTVPIDCap1GBPage      = 1 << 17
	EPTVPIDCapInvept       = 1 << 20
)

// EFER bits.
const (
	EFERSCE = 1 << 0
	EFERLME = 1 << 8
	EFERLMA = 1 << 10
	EFERNXE = 1 << 11
)
