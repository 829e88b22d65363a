package vmx

import "fmt"

// vmInstructionError is the one VMCS field this package needs to read
// itself, to explain a failed VMWRITE/VMPTRLD/VMCLEAR/VMXON. The rest of
// the field catalogue lives in internal/vmcs, which imports this package
// rather than the other way around.
const vmInstructionError = 0x4400

// Raw instruction primitives. Each is declared with no body here and
// implemented in asm_amd64.s, following the cpuid_low shape already used
// one layer up the stack in cpuid/cpuid.go. Every primitive below clobbers
// only what its comment says; callers that need anything else preserved
// must save it themselves.

// vmread executes VMREAD and returns the field value.
func vmread(field uint32) uint64

// vmwriteRaw executes VMWRITE and reports success via the returned bool
// (false means CF or ZF was set).
func vmwriteRaw(field uint32, value uint64) bool

// vmxon executes VMXON against the given VMXON-region physical address.
func vmxon(phys uint64) bool

// vmxoff executes VMXOFF.
func vmxoff()

// vmclearRaw executes VMCLEAR against the given VMCS physical address.
func vmclearRaw(phys uint64) bool

// vmptrldRaw executes VMPTRLD against the given VMCS physical address.
func vmptrldRaw(phys uint64) bool

// invept executes INVEPT with the given type and descriptor (eptp, 0).
func invept(typ uint64, eptp uint64) bool

// rdmsr executes RDMSR and returns the 64-bit value (EDX:EAX).
func rdmsr(msr uint32) uint64

// wrmsr executes WRMSR with the given 64-bit value split into EDX:EAX.
func wrmsr(msr uint32, value uint64)

// cpuidLow executes CPUID for (leaf, subleaf) and returns the four
// result registers. Named to mirror cpuid.cpuid_low in the corpus.
func cpuidLow(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// rdtsc executes RDTSC and returns the 64-bit timestamp (EDX:EAX).
func rdtsc() uint64

// readCR0/readCR2/readCR3/readCR4 read the named control register.
func readCR0() uint64
func readCR2() uint64
func readCR3() uint64
func readCR4() uint64

// writeCR0/writeCR2/writeCR3/writeCR4 write the named control register.
func writeCR0(v uint64)
func writeCR2(v uint64)
func writeCR3(v uint64)
func writeCR4(v uint64)

// FailureError reports a VMWRITE/VMCLEAR/VMPTRLD/VMXON failure together
// with the VM-instruction error code, when one is available (VMXON
// failures before any VMCS is current have no VM_INSTRUCTION_ERROR to
// read).
type FailureError struct {
	Op    string
	Field uint32
	Value uint64
	Code  uint32
}

func (e *FailureError) Error() string {
	if e.Field != 0 {
		return fmt.Sprintf("%s(field=0x%04x, value=0x%x) failed: VM_INSTRUCTION_ERROR=%d", e.Op, e.Field, e.Value, e.Code)
	}

	return fmt.Sprintf("%s failed: VM_INSTRUCTION_ERROR=%d", e.Op, e.Code)
}

// VMWrite writes a VMCS field, panicking on hardware failure. Per
// original_source/vmm/vmx.c's __vmcs_write, a failed VMWRITE is always a
// programmer error (a field not valid for the current VMCS state, or a
// VMCS not current on this CPU) and is never guest-visible.
func VMWrite(field uint32, value uint64) {
	if !vmwriteRaw(field, value) {
		panic(&FailureError{Op: "VMWRITE", Field: field, Value: value, Code: uint32(vmread(vmInstructionError))})
	}
}

// VMClear clears (deactivates) the VMCS at the given physical address.
func VMClear(phys uint64) {
	if !vmclearRaw(phys) {
		panic(&FailureError{Op: "VMCLEAR", Code: uint32(vmread(vmInstructionError))})
	}
}

// VMPtrld loads the VMCS at the given physical address as current.
func VMPtrld(phys uint64) {
	if !vmptrldRaw(phys) {
		panic(&FailureError{Op: "VMPTRLD", Code: uint32(vmread(vmInstructionError))})
	}
}

// VMXOn enters VMX root operation using the given VMXON-region physical
// address. Before any VMCS is loaded there is no VM_INSTRUCTION_ERROR
// field to read back, so failure carries only the opcode's own flags.
func VMXOn(phys uint64) {
	if !vmxon(phys) {
		panic(&FailureError{Op: "VMXON"})
	}
}

// VMXOff leaves VMX root operation.
func VMXOff() {
	vmxoff()
}

// INVEPT invalidates EPT-derived TLB/paging-structure caches associated
// with eptp. typ selects single-context (1) or global (2) invalidation
// per the Intel SDM.
const (
	InveptSingleContext = 1
	InveptGlobal        = 2
)

func INVEPT(typ uint64, eptp uint64) {
	if !invept(typ, eptp) {
		panic(&FailureError{Op: "INVEPT", Code: uint32(vmread(vmInstructionError))})
	}
}

// RDMSR reads the named MSR.
func RDMSR(msr uint32) uint64 { return rdmsr(msr) }

// WRMSR writes the named MSR.
func WRMSR(msr uint32, value uint64) { wrmsr(msr, value) }

// CPUID executes CPUID(leaf, subleaf) on the host CPU.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) {
	return cpuidLow(leaf, subleaf)
}

// RDTSC reads the host's own time-stamp counter, for the RDTSC exit
// handler to hand the guest a monotonically increasing value.
func RDTSC() uint64 { return rdtsc() }

// ReadCR0 through WriteCR4 read/write the host's own control registers;
// internal/vcpu's Setup reads CR0/CR3/CR4 to snapshot host state. The
// CR_ACCESS handler does not use them: it only writes guest VMCS fields.
func ReadCR0() uint64     { return readCR0() }
func ReadCR2() uint64     { return readCR2() }
func ReadCR3() uint64     { return readCR3() }
func ReadCR4() uint64     { return readCR4() }
func WriteCR0(v uint64)   { writeCR0(v) }
func WriteCR2(v uint64)   { writeCR2(v) }
func WriteCR3(v uint64)   { writeCR3(v) }
func WriteCR4(v uint64)   { writeCR4(v) }
