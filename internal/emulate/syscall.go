package emulate

import (
	"github.com/go-vtx/vtx/internal/vcpu"
	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/go-vtx/vtx/internal/vmx"
)

// rflagsReservedMask clears the bits SYSRET must never let the guest
// set: the reserved RFLAGS bits plus RF and VM, per the SDM's SYSRET
// description.
const rflagsReservedMask = 0x3c7fd7

// syscallCSType is the 64-bit code-segment type (execute/read,
// accessed) SYSCALL's target CS always gets; syscallSSType mirrors it
// for the paired stack segment (read/write, accessed).
const (
	syscallCSType = 0xb
	syscallSSType = 0x3
)

func longModeCodeSegment(selector uint16, dpl uint8) vcpu.Segment {
	return vcpu.Segment{
		Selector: selector, Base: 0, Limit: 0xfffff,
		Type: syscallCSType, S: true, DPL: dpl, Present: true,
		L: true, Granularity: true,
	}
}

func longModeDataSegment(selector uint16, dpl uint8) vcpu.Segment {
	return vcpu.Segment{
		Selector: selector, Base: 0, Limit: 0xfffff,
		Type: syscallSSType, S: true, DPL: dpl, Present: true,
		DB: true, Granularity: true,
	}
}

func writeSegment(selField, baseField, limitField, arField uint32, seg vcpu.Segment) {
	vmx.Write16(selField, seg.Selector)
	vmx.WriteNatural(baseField, seg.Base)
	vmx.Write32(limitField, seg.Limit)
	vmx.Write32(arField, seg.ARBytes())
}

// EmulateSyscall reproduces the architectural effect of the SYSCALL
// instruction the guest cannot execute natively, since this VMM
// intercepts EFER writes and strips SCE before they ever reach the
// real MSR (§4.C6's WRMSR handler) — so the CPU always takes the #UD
// path SYSCALL would otherwise skip.
//
// Grounded on original_source/vmm/vmx.c's handle_syscall and the SDM's
// SYSCALL pseudocode: RCX <- RIP, R11 <- RFLAGS, RIP <- LSTAR,
// RFLAGS &= ~FMASK, CS from STAR[47:32] (masked to a GDT-relative,
// RPL-0 selector), SS immediately above it.
func EmulateSyscall(v *vcpu.VCPU) {
	star := v.GuestMSR(vmcs.MSRSTAR)
	lstar := v.GuestMSR(vmcs.MSRLSTAR)
	fmask := v.GuestMSR(vmcs.MSRSyscallMask)

	rip := vmx.ReadNatural(vmcs.GuestRIP)
	rflags := vmx.ReadNatural(vmcs.GuestRFLAGS)

	// RCX gets the return address, not the trapping #UD's own RIP: the
	// real SYSCALL instruction is 2 bytes (0F 05) and always leaves RCX
	// pointing just past itself.
	v.GPRs[vcpu.RCX] = rip + 2
	v.GPRs[vcpu.R11] = rflags

	vmx.WriteNatural(vmcs.GuestRIP, lstar)
	vmx.WriteNatural(vmcs.GuestRFLAGS, rflags&^fmask)

	csSel := uint16(star>>32) & 0xfffc
	writeSegment(vmcs.GuestCSSelector, vmcs.GuestCSBase, vmcs.GuestCSLimit, vmcs.GuestCSARBytes,
		longModeCodeSegment(csSel, 0))
	writeSegment(vmcs.GuestSSSelector, vmcs.GuestSSBase, vmcs.GuestSSLimit, vmcs.GuestSSARBytes,
		longModeDataSegment(csSel+8, 0))
}

// EmulateSysret reproduces SYSRET's architectural effect: RIP <- RCX,
// RFLAGS <- R11 (forced bit 1, reserved bits cleared), CS and SS built
// from STAR[63:48] with RPL 3, per the SDM's SYSRET pseudocode (64-bit
// operand size — this VMM never emulates the legacy 32-bit form).
func EmulateSysret(v *vcpu.VCPU) {
	star := v.GuestMSR(vmcs.MSRSTAR)

	rip := v.GPRs[vcpu.RCX]
	rflags := (v.GPRs[vcpu.R11] | 1<<1) & rflagsReservedMask

	vmx.WriteNatural(vmcs.GuestRIP, rip)
	vmx.WriteNatural(vmcs.GuestRFLAGS, rflags)

	csSel := (uint16(star>>48) + 16) | 3
	writeSegment(vmcs.GuestCSSelector, vmcs.GuestCSBase, vmcs.GuestCSLimit, vmcs.GuestCSARBytes,
		longModeCodeSegment(csSel, 3))
	writeSegment(vmcs.GuestSSSelector, vmcs.GuestSSBase, vmcs.GuestSSLimit, vmcs.GuestSSARBytes,
		longModeDataSegment((uint16(star>>48)+8)|3, 3))
}
