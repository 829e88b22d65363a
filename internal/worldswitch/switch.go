// Package worldswitch runs the VMLAUNCH/VMRESUME trampoline for one
// vCPU (§4.C5). It is the one place in this VMM that transfers control
// to guest code.
package worldswitch

// worldSwitchRaw is implemented in switch_amd64.s.
func worldSwitchRaw(gprs *[16]uint64, cr2 *uint64, hostRSP *uint64, launched uint64) (fail bool)

// Record is the subset of the vCPU state the trampoline touches
// directly. internal/vcpu.VCPU.Run fills it with pointers to its own
// fields — it is a plain struct here so this package does not import
// internal/vcpu and create a cycle (vcpu imports worldswitch, not the
// reverse).
type Record struct {
	GPRs     *[16]uint64
	CR2      *uint64
	HostRSP  *uint64
	Launched bool
}

// Run executes one VMLAUNCH (first call) or VMRESUME (subsequent calls)
// for rec, reporting whether the instruction itself failed validity
// checks (CF or ZF set). A false return does not mean the guest ran
// successfully to completion — only that control returned here via a
// normal VM-exit rather than an instruction-level failure.
func Run(rec Record) (fail bool) {
	launched := uint64(0)
	if rec.Launched {
		launched = 1
	}

	return worldSwitchRaw(rec.GPRs, rec.CR2, rec.HostRSP, launched)
}
