// Package vcpu owns the per-vCPU state record and the VMCS programming
// that brings a freshly loaded VMCS up to the power-on reset state
// (§4.C4), grounded on original_source/vmm/vmx.c's vmx_vcpu_setup and
// vmx_vcpu_reset.
package vcpu

import (
	"github.com/go-vtx/vtx/internal/ept"
	"github.com/go-vtx/vtx/internal/vmcs"
)

// GPR indexes the 16 general-purpose registers by their canonical x86-64
// order, matching the world-switch trampoline's save/restore layout.
type GPR int

const (
	RAX GPR = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	gprCount
)

// ActivityState mirrors the VMCS GUEST_ACTIVITY_STATE encoding.
type ActivityState uint32

const (
	Active ActivityState = iota
	HLT
	Shutdown
	WaitForSIPI
)

// msrPair is one (index, value) entry in an MSR autoload array.
type msrPair struct {
	Index uint32
	Value uint64
}

const autoloadCount = len(vmcs.SavedMSRs)

// VCPU is the per-logical-processor guest state record (§3 DATA MODEL).
// It is owned by the physical CPU that enabled VMX on it and is never
// shared; nothing in this VMM locks it.
type VCPU struct {
	GPRs [gprCount]uint64
	CR2  uint64

	Activity  ActivityState
	SIPIVector uint8

	Launched bool
	Fail     bool

	HostRSP uint64

	guestMSRs [autoloadCount]msrPair
	hostMSRs  [autoloadCount]msrPair

	vmcsRegion *[4096]byte
	config     *vmcs.Config
	eptTables  *ept.Tables

	// EPTViolationHandler, if set, is invoked by the dispatcher on an
	// EPT_VIOLATION exit instead of panicking (§4.C6).
	EPTViolationHandler func(gpa uint64)
}

// VMCSRegion returns the raw 4 KiB VMCS page backing this vCPU, whose
// first 32 bits New has already stamped with the revision identifier.
func (v *VCPU) VMCSRegion() *[4096]byte { return v.vmcsRegion }

// EPT returns the page tables this vCPU runs under.
func (v *VCPU) EPT() *ept.Tables { return v.eptTables }
