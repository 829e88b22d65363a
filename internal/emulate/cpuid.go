// Package emulate holds the per-vCPU emulation helpers C6's dispatcher
// calls into: CPUID leaf rewriting, the guest-virtual-to-host-virtual
// walker, and SYSCALL/SYSRET software emulation (§4.C7).
package emulate

import (
	"encoding/binary"

	"github.com/go-vtx/vtx/cpuid"
)

const (
	cpuidLeafFeatures  = 1
	cpuidLeafCoreTopo  = 4
	cpuidLeafHVBase    = 0x40000000
	cpuidLeafHVFeature = 0x40000001
)

// hypervisorSignature is the fixed 12-byte string this VMM reports at
// leaf 0x40000000, split into three little-endian dwords — the same
// "KVMKVMKVM\0\0\0" signature real KVM reports, since guest kernels
// already know to look for it.
var hypervisorSignature = [12]byte{'K', 'V', 'M', 'K', 'V', 'M', 'K', 'V', 'M', 0, 0, 0}

// ApplyLeafRewrite rewrites a host CPUID result for guest consumption,
// per §4.C6's CPUID handler table. Leaves not named here pass through
// unchanged.
func ApplyLeafRewrite(leaf, _ uint32, eax, ebx, ecx, edx uint32) (uint32, uint32, uint32, uint32) {
	switch leaf {
	case cpuidLeafFeatures:
		ecx &^= 1 << cpuid.F1EcxVMX
		ecx |= 1 << cpuid.F1EcxX2APIC
		ecx |= 1 << cpuid.F1EcxHYPERVISOR

		return eax, ebx, ecx, edx

	case cpuidLeafCoreTopo:
		return 0, 0, 0, 0

	case cpuidLeafHVBase:
		return cpuidLeafHVFeature,
			binary.LittleEndian.Uint32(hypervisorSignature[0:4]),
			binary.LittleEndian.Uint32(hypervisorSignature[4:8]),
			binary.LittleEndian.Uint32(hypervisorSignature[8:12])

	case cpuidLeafHVFeature:
		return 0, 0, 0, 0

	default:
		return eax, ebx, ecx, edx
	}
}
