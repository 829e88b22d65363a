package emulate_test

import (
	"testing"

	"github.com/go-vtx/vtx/internal/emulate"
	"github.com/stretchr/testify/require"
)

func TestApplyLeafRewriteHidesVMXAndSetsHypervisorBits(t *testing.T) {
	t.Parallel()

	const (
		vmxBit        = 1 << 5
		x2apicBit     = 1 << 21
		hypervisorBit = 1 << 31
	)

	_, _, ecx, _ := emulate.ApplyLeafRewrite(1, 0, 0, 0, vmxBit, 0)

	require.Zero(t, ecx&vmxBit, "VMX bit must be cleared")
	require.NotZero(t, ecx&x2apicBit, "X2APIC bit must be set")
	require.NotZero(t, ecx&hypervisorBit, "HYPERVISOR bit must be set")
}

func TestApplyLeafRewriteZeroesCoreTopologyLeaf(t *testing.T) {
	t.Parallel()

	eax, ebx, ecx, edx := emulate.ApplyLeafRewrite(4, 0, 0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff)

	require.Zero(t, eax)
	require.Zero(t, ebx)
	require.Zero(t, ecx)
	require.Zero(t, edx)
}

func TestApplyLeafRewriteReportsHypervisorSignature(t *testing.T) {
	t.Parallel()

	eax, ebx, ecx, edx := emulate.ApplyLeafRewrite(0x40000000, 0, 0, 0, 0, 0)

	require.Equal(t, uint32(0x40000001), eax)

	sig := make([]byte, 0, 12)
	for _, v := range []uint32{ebx, ecx, edx} {
		sig = append(sig, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}

	require.Equal(t, "KVMKVMKVM\x00\x00\x00", string(sig))
}

func TestApplyLeafRewriteZeroesHypervisorFeatureLeaf(t *testing.T) {
	t.Parallel()

	eax, ebx, ecx, edx := emulate.ApplyLeafRewrite(0x40000001, 0, 1, 1, 1, 1)

	require.Zero(t, eax)
	require.Zero(t, ebx)
	require.Zero(t, ecx)
	require.Zero(t, edx)
}

func TestApplyLeafRewritePassesThroughUnknownLeaves(t *testing.T) {
	t.Parallel()

	eax, ebx, ecx, edx := emulate.ApplyLeafRewrite(2, 0, 1, 2, 3, 4)

	require.Equal(t, [4]uint32{1, 2, 3, 4}, [4]uint32{eax, ebx, ecx, edx})
}
