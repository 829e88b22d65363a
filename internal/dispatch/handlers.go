package dispatch

import (
	"fmt"
	"log"

	"github.com/go-vtx/vtx/internal/dumpvmcs"
	"github.com/go-vtx/vtx/internal/emulate"
	"github.com/go-vtx/vtx/internal/vcpu"
	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/go-vtx/vtx/internal/vmx"
)

// VM_EXIT_INTR_INFO layout (Intel SDM Vol. 3C Table 24-15).
const (
	intrInfoVectorMask = 0xff
	intrInfoTypeShift  = 8
	intrInfoTypeMask   = 0x7

	intrTypeHardwareException = 3

	vectorUD = 6
)

func handleExceptionNMI(v *vcpu.VCPU) {
	info := vmx.Read32(vmcs.VMExitIntrInfo)
	vector := info & intrInfoVectorMask
	introType := (info >> intrInfoTypeShift) & intrInfoTypeMask

	if vector != vectorUD || introType != intrTypeHardwareException {
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: unhandled exception, VM_EXIT_INTR_INFO=0x%x", info))
	}

	guestCR3 := vmx.ReadNatural(vmcs.GuestCR3)
	rip := vmx.ReadNatural(vmcs.GuestRIP)

	insn := (*[3]byte)(emulate.TranslateGuestVirtual(v.EPT(), guestCR3, rip))

	switch {
	case insn[0] == 0x0f && insn[1] == 0x05:
		emulate.EmulateSyscall(v)
	case insn[0] == 0x48 && insn[1] == 0x0f && insn[2] == 0x07:
		emulate.EmulateSysret(v)
	default:
		dumpvmcs.Dump()
		dumpvmcs.DumpLastInstruction(insn[:], 64)
		panic("dispatch: #UD at guest RIP is neither SYSCALL nor SYSRET")
	}
}

// Exit qualification layout for CR_ACCESS (Intel SDM Vol. 3C Table 27-3).
const (
	crNumberMask   = 0xf
	crAccessShift  = 4
	crAccessMask   = 0x3
	crRegisterShift = 8
	crRegisterMask  = 0xf

	crAccessMovToCR   = 0
	crAccessMovFromCR = 1
	crAccessCLTS      = 2
	crAccessLMSW      = 3

	cr0PagingBit = 1 << 31
	cr0AlwaysOn  = 1<<5 | 1<<16 // NE | WP, matching vcpu's CR0_GUEST_HOST_MASK
	cr4VMXEBit   = 1 << 13

	trType64BitBusy = 0xb
	trTypeMask      = 0xf
)

func handleCRAccess(v *vcpu.VCPU) {
	qual := vmx.ReadNatural(vmcs.ExitQualification)
	cr := uint32(qual) & crNumberMask
	accessType := (uint32(qual) >> crAccessShift) & crAccessMask
	reg := (uint32(qual) >> crRegisterShift) & crRegisterMask

	if accessType != crAccessMovToCR {
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: unsupported CR access type %d on CR%d", accessType, cr))
	}

	value := v.GPRs[reg]

	switch cr {
	case 0:
		handleMovToCR0(value)
		vmx.WriteNatural(vmcs.CR0ReadShadow, value)
	case 3:
		vmx.WriteNatural(vmcs.GuestCR3, value)
	case 4:
		vmx.WriteNatural(vmcs.GuestCR4, value|cr4VMXEBit)
		vmx.WriteNatural(vmcs.CR4ReadShadow, value)
	default:
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: unsupported mov-to-CR%d", cr))
	}

	skipEmulatedInstruction()
}

// handleMovToCR0 applies the guest's CR0 write and, when EFER.LME is
// set, follows the long-mode-transition rule of §4.C4/§4.C6: setting
// CR0.PG enters long mode (VM_ENTRY_CONTROLS.IA32E_MODE + EFER.LMA, and
// TR's type must advance from 16-bit-busy to 64-bit-busy); clearing it
// leaves long mode.
func handleMovToCR0(value uint64) {
	vmx.WriteNatural(vmcs.GuestCR0, value|cr0AlwaysOn)

	efer := vmx.Read64(vmcs.GuestIA32EFER)
	if efer&vmcs.EFERLME == 0 {
		return
	}

	entryCtrl := vmx.Read32(vmcs.VMEntryControls)

	if value&cr0PagingBit != 0 {
		vmx.Write32(vmcs.VMEntryControls, entryCtrl|vmcs.VMEntryIA32EMode)
		vmx.Write64(vmcs.GuestIA32EFER, efer|vmcs.EFERLMA)

		ar := vmx.Read32(vmcs.GuestTRARBytes)
		vmx.Write32(vmcs.GuestTRARBytes, (ar&^uint32(trTypeMask))|trType64BitBusy)

		return
	}

	vmx.Write32(vmcs.VMEntryControls, entryCtrl&^uint32(vmcs.VMEntryIA32EMode))
	vmx.Write64(vmcs.GuestIA32EFER, efer&^uint64(vmcs.EFERLMA))
}

func handleCPUID(v *vcpu.VCPU) {
	leaf := uint32(v.GPRs[vcpu.RAX])
	subleaf := uint32(v.GPRs[vcpu.RCX])

	eax, ebx, ecx, edx := vmx.CPUID(leaf, subleaf)
	eax, ebx, ecx, edx = emulate.ApplyLeafRewrite(leaf, subleaf, eax, ebx, ecx, edx)

	v.GPRs[vcpu.RAX] = uint64(eax)
	v.GPRs[vcpu.RBX] = uint64(ebx)
	v.GPRs[vcpu.RCX] = uint64(ecx)
	v.GPRs[vcpu.RDX] = uint64(edx)

	skipEmulatedInstruction()
}

func handleRDMSR(*vcpu.VCPU) {
	// The baseline MSR bitmap intercepts reads only for the VMX MSR
	// range, which CPUID hides from the guest entirely — a guest that
	// still executes RDMSR against one either found it another way or
	// this VMM mis-programmed the bitmap. Either way, continuing is
	// unsafe.
	dumpvmcs.Dump()
	panic("dispatch: RDMSR exit should be unreachable with VMX hidden from guest CPUID")
}

// ICR delivery-mode encodings this VMM silently drops (Intel SDM Vol.
// 3A §10.6.1): INIT and STARTUP target other (non-existent) logical
// processors this single-vCPU VMM never models.
const (
	icrDeliveryModeShift = 8
	icrDeliveryModeMask  = 0x7
	icrDeliveryModeInit    = 5
	icrDeliveryModeStartup = 6
)

func handleWRMSR(v *vcpu.VCPU) {
	msr := uint32(v.GPRs[vcpu.RCX])
	value := (v.GPRs[vcpu.RDX] << 32) | (v.GPRs[vcpu.RAX] & 0xffffffff)

	switch msr {
	case vmcs.MSRIA32APICBase:
		const apicGlobalEnable = 1 << 11

		if value&apicGlobalEnable == 0 {
			dumpvmcs.Dump()
			panic("dispatch: guest cleared IA32_APIC_BASE.ENABLE")
		}

		const apicExtdX2APIC = 1 << 10
		if value&apicExtdX2APIC != 0 {
			log.Printf("dispatch: guest enabled x2APIC mode")
		}

		vmx.WRMSR(msr, value)

	case vmcs.MSRAPICICR:
		mode := (value >> icrDeliveryModeShift) & icrDeliveryModeMask
		if mode != icrDeliveryModeInit && mode != icrDeliveryModeStartup {
			vmx.WRMSR(msr, value)
		}

	case vmcs.MSREFER:
		vmx.Write64(vmcs.GuestIA32EFER, value&^uint64(vmcs.EFERSCE))

	default:
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: unhandled WRMSR to 0x%x", msr))
	}

	skipEmulatedInstruction()
}

func handleRDTSC(v *vcpu.VCPU) {
	tsc := vmx.RDTSC()

	v.GPRs[vcpu.RAX] = tsc & 0xffffffff
	v.GPRs[vcpu.RDX] = tsc >> 32

	skipEmulatedInstruction()
}

func handleEPTViolation(v *vcpu.VCPU) {
	if v.EPTViolationHandler == nil {
		dumpvmcs.Dump()
		panic("dispatch: EPT violation with no handler registered")
	}

	v.EPTViolationHandler(vmx.Read64(vmcs.GuestPhysicalAddr))
}
