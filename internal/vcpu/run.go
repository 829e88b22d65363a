package vcpu

import "github.com/go-vtx/vtx/internal/worldswitch"

// Run executes one VMLAUNCH (the first call) or VMRESUME (every call
// after) against this vCPU's currently activated VMCS, per the
// world-switch contract of §4.C5. It does not panic itself: if the
// instruction failed validity checks it sets Fail, and the caller
// (internal/dispatch.RunOnce) reads VM_INSTRUCTION_ERROR and panics.
func (v *VCPU) Run() {
	fail := worldswitch.Run(worldswitch.Record{
		GPRs:     &v.GPRs,
		CR2:      &v.CR2,
		HostRSP:  &v.HostRSP,
		Launched: v.Launched,
	})

	v.Fail = fail
	v.Launched = true
}
