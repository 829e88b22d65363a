// Package dumpvmcs prints the full guest-state side of the current
// VMCS plus a disassembly of the instruction at the last GUEST_RIP, for
// use when the dispatcher hits an exit reason it cannot handle.
//
// Grounded on original_source/vmm/vmx.c's dump_vmcs/vmx_dump_sel/
// vmx_dump_dtsel, using the teacher's own plain stdlib log.Printf
// style (machine/machine.go logs the same way) rather than a
// structured logger — the corpus never reaches for one.
package dumpvmcs

import (
	"log"

	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/go-vtx/vtx/internal/vmx"
	"golang.org/x/arch/x86/x86asm"
)

func dumpSelector(name string, selField uint32) {
	base := selField - vmcs.GuestESSelector

	log.Printf("%s sel=0x%04x attr=0x%05x limit=0x%08x base=0x%016x",
		name,
		vmx.Read16(selField),
		vmx.Read32(vmcs.GuestESARBytes+base),
		vmx.Read32(vmcs.GuestESLimit+base),
		vmx.ReadNatural(vmcs.GuestESBase+base),
	)
}

func dumpDescriptorTable(name string, limitField uint32) {
	base := limitField - vmcs.GuestGDTRLimit

	log.Printf("%s limit=0x%08x base=0x%016x", name,
		vmx.Read32(limitField),
		vmx.ReadNatural(vmcs.GuestGDTRBase+base),
	)
}

// Dump prints the guest-visible VMCS state: control registers, segment
// registers, the GDTR/IDTR, RIP/RSP/RFLAGS, and the five negotiated
// control words.
func Dump() {
	log.Printf("*** Guest State ***")
	log.Printf("CR0: actual=0x%016x shadow=0x%016x gh_mask=0x%016x",
		vmx.ReadNatural(vmcs.GuestCR0), vmx.ReadNatural(vmcs.CR0ReadShadow), vmx.ReadNatural(vmcs.CR0GuestHostMask))
	log.Printf("CR4: actual=0x%016x shadow=0x%016x gh_mask=0x%016x",
		vmx.ReadNatural(vmcs.GuestCR4), vmx.ReadNatural(vmcs.CR4ReadShadow), vmx.ReadNatural(vmcs.CR4GuestHostMask))
	log.Printf("CR3 = 0x%016x", vmx.ReadNatural(vmcs.GuestCR3))
	log.Printf("RSP = 0x%016x  RIP = 0x%016x", vmx.ReadNatural(vmcs.GuestRSP), vmx.ReadNatural(vmcs.GuestRIP))
	log.Printf("RFLAGS = 0x%08x  DR7 = 0x%016x", vmx.ReadNatural(vmcs.GuestRFLAGS), vmx.ReadNatural(vmcs.GuestDR7))

	dumpSelector("CS:  ", vmcs.GuestCSSelector)
	dumpSelector("DS:  ", vmcs.GuestDSSelector)
	dumpSelector("SS:  ", vmcs.GuestSSSelector)
	dumpSelector("ES:  ", vmcs.GuestESSelector)
	dumpSelector("FS:  ", vmcs.GuestFSSelector)
	dumpSelector("GS:  ", vmcs.GuestGSSelector)
	dumpDescriptorTable("GDTR:", vmcs.GuestGDTRLimit)
	dumpSelector("LDTR:", vmcs.GuestLDTRSelector)
	dumpDescriptorTable("IDTR:", vmcs.GuestIDTRLimit)
	dumpSelector("TR:  ", vmcs.GuestTRSelector)

	log.Printf("EFER = 0x%016x", vmx.Read64(vmcs.GuestIA32EFER))
	log.Printf("PinBased=0x%08x CPUBased=0x%08x Secondary=0x%08x VMExit=0x%08x VMEntry=0x%08x",
		vmx.Read32(vmcs.PinBasedVMExecControl), vmx.Read32(vmcs.CPUBasedVMExecControl),
		vmx.Read32(vmcs.SecondaryVMExecControl), vmx.Read32(vmcs.VMExitControls), vmx.Read32(vmcs.VMEntryControls))
	log.Printf("ExitReason=%d ExitQualification=0x%016x VMInstructionError=%d",
		vmx.Read32(vmcs.VMExitReason), vmx.ReadNatural(vmcs.ExitQualification), vmx.Read32(vmcs.VMInstructionError))
}

// DumpLastInstruction disassembles the bytes at the guest's current RIP
// (already translated to a host-virtual slice by the caller, since only
// the EPT-aware walker in internal/emulate can resolve guest-linear to
// host-virtual addresses) and logs the decoded instruction, falling back
// to a raw hex dump if x86asm cannot decode it.
func DumpLastInstruction(code []byte, mode int) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		log.Printf("last instruction: (undecodable) % x", code[:min(16, len(code))])

		return
	}

	log.Printf("last instruction: %s", x86asm.GNUSyntax(inst, 0, nil))
}
