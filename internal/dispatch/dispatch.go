// Package dispatch implements the single-threaded exit loop of §4.C6:
// run the vCPU, read VM_EXIT_REASON, invoke the matching handler,
// repeat. Grounded on original_source/vmm/vmx.c's vmx_handle_exit and
// its per-reason handler table.
package dispatch

import (
	"fmt"

	"github.com/go-vtx/vtx/internal/dumpvmcs"
	"github.com/go-vtx/vtx/internal/vcpu"
	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/go-vtx/vtx/internal/vmx"
)

// handlers is keyed by VM_EXIT_REASON. A missing key means "unhandled":
// RunOnce dumps the VMCS and panics rather than running the guest forward
// with unknown host state.
var handlers = map[uint32]func(*vcpu.VCPU){
	vmcs.ExitReasonExceptionNMI: handleExceptionNMI,
	vmcs.ExitReasonCRAccess:     handleCRAccess,
	vmcs.ExitReasonCPUID:        handleCPUID,
	vmcs.ExitReasonRDMSR:        handleRDMSR,
	vmcs.ExitReasonWRMSR:        handleWRMSR,
	vmcs.ExitReasonRDTSC:        handleRDTSC,
	vmcs.ExitReasonEPTViolation: handleEPTViolation,
}

// RunOnce executes one VMLAUNCH/VMRESUME and handles whatever exit
// reason it produces. The caller loops this forever (§4.C6's "run();
// handle_exit(); repeat").
func RunOnce(v *vcpu.VCPU) {
	v.Run()

	if v.Fail {
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: VM-entry failed, VM_INSTRUCTION_ERROR=%d", vmx.Read32(vmcs.VMInstructionError)))
	}

	reason := vmx.Read32(vmcs.VMExitReason) & 0xffff // bit 31 (VM-entry failure) already handled above

	handler, ok := handlers[reason]
	if !ok {
		dumpvmcs.Dump()
		panic(fmt.Sprintf("dispatch: unhandled VM_EXIT_REASON=%d", reason))
	}

	handler(v)
}

// skipEmulatedInstruction advances RIP past the instruction that caused
// the current exit and clears the STI/MOV-SS interrupt-blocking window,
// per §4.C6's shared postlude for every fully-emulated instruction.
func skipEmulatedInstruction() {
	length := vmx.Read32(vmcs.VMExitInstructionLen)
	rip := vmx.ReadNatural(vmcs.GuestRIP)
	vmx.WriteNatural(vmcs.GuestRIP, rip+uint64(length))

	const stiAndMovSSBlocking = 1<<0 | 1<<1

	info := vmx.Read32(vmcs.GuestInterruptibilityInfo)
	vmx.Write32(vmcs.GuestInterruptibilityInfo, info&^stiAndMovSSBlocking)
}
