package vmcs_test

import (
	"errors"
	"testing"

	"github.com/go-vtx/vtx/internal/vmcs"
	"github.com/stretchr/testify/require"
)

// fakeCPU is a software stand-in for a physical CPU's CPUID/RDMSR
// surface, letting the negotiation arithmetic in HardwareSetup/Probe run
// in CI without VT-x hardware.
type fakeCPU struct {
	vmxBit bool
	msrs   map[uint32]uint64
}

func (f fakeCPU) ReadMSR(msr uint32) uint64 { return f.msrs[msr] }

func (f fakeCPU) CPUID(leaf, _ uint32) (uint32, uint32, uint32, uint32) {
	if leaf == 1 && f.vmxBit {
		return 0, 0, 1 << 5, 0
	}

	return 0, 0, 0, 0
}

// allowAll packs a capability MSR that permits every bit in both the
// allowed-0 and allowed-1 halves, i.e. "anything goes".
func allowAll() uint64 {
	return uint64(0xffffffff)<<32 | 0
}

func fullCapabilityCPU() fakeCPU {
	return fakeCPU{
		vmxBit: true,
		msrs: map[uint32]uint64{
			vmcs.MSRIA32FeatureControl:     vmcs.FeatureControlLocked | vmcs.FeatureControlVMXONEnabledOutsideSMX,
			vmcs.MSRIA32VMXProcbasedCtls2:  allowAll(),
			vmcs.MSRIA32VMXTrueProcbasedCtl: allowAll(),
			vmcs.MSRIA32VMXTrueExitCtls:    allowAll(),
			vmcs.MSRIA32VMXTruePinbasedCtls: allowAll(),
			vmcs.MSRIA32VMXTrueEntryCtls:   allowAll(),
			vmcs.MSRIA32VMXEPTVPIDCap:      vmcs.EPTVPIDCap2MBPage | vmcs.EPTVPIDCapPageWalk4,
			vmcs.MSRIA32VMXBasic:           (uint64(6) << 50) | (uint64(2048) << 32) | 0x1234,
		},
	}
}

func TestHardwareSetupSucceedsWithFullCapability(t *testing.T) {
	t.Parallel()

	cfg, err := vmcs.HardwareSetup(fullCapabilityCPU())
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), cfg.RevisionID)
	require.Equal(t, uint32(2048), cfg.VMCSSize)
	require.NotZero(t, cfg.Secondary&vmcs.SecondaryEnableEPT)
	require.NotZero(t, cfg.CPUBased&vmcs.CPUBasedUseMSRBitmaps)
	require.Zero(t, cfg.CPUBased&vmcs.CPUBasedCR3StoreExiting, "CR3-store exiting must be cleared once EPT is active")
}

func TestHardwareSetupRejectsMissingVMXBit(t *testing.T) {
	t.Parallel()

	_, err := vmcs.HardwareSetup(fakeCPU{vmxBit: false, msrs: map[uint32]uint64{}})
	require.ErrorIs(t, err, vmcs.ErrNoVTx)
}

func TestHardwareSetupRejectsBIOSDisabled(t *testing.T) {
	t.Parallel()

	cpu := fullCapabilityCPU()
	cpu.msrs[vmcs.MSRIA32FeatureControl] = vmcs.FeatureControlLocked

	_, err := vmcs.HardwareSetup(cpu)
	require.ErrorIs(t, err, vmcs.ErrDisabledByBIOS)
}

func TestHardwareSetupRejectsMissingRequiredSecondaryControl(t *testing.T) {
	t.Parallel()

	cpu := fullCapabilityCPU()
	cpu.msrs[vmcs.MSRIA32VMXProcbasedCtls2] = 0 // nothing allowed

	_, err := vmcs.HardwareSetup(cpu)

	var cfgErr *vmcs.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "secondary", cfgErr.Class)
}

func TestHardwareSetupRejectsMissingEPT2MBPages(t *testing.T) {
	t.Parallel()

	cpu := fullCapabilityCPU()
	cpu.msrs[vmcs.MSRIA32VMXEPTVPIDCap] = vmcs.EPTVPIDCapPageWalk4 // 2 MiB bit cleared

	_, err := vmcs.HardwareSetup(cpu)
	require.ErrorIs(t, err, vmcs.ErrNoEPT2MB)
}

func TestHardwareSetupRejectsVMCSTooLarge(t *testing.T) {
	t.Parallel()

	cpu := fullCapabilityCPU()
	cpu.msrs[vmcs.MSRIA32VMXBasic] = (uint64(6) << 50) | (uint64(5000) << 32)

	_, err := vmcs.HardwareSetup(cpu)
	require.ErrorIs(t, err, vmcs.ErrVMCSTooLarge)
}

func TestProbeReportsAbsentVTx(t *testing.T) {
	t.Parallel()

	r, err := vmcs.Probe(fakeCPU{vmxBit: false, msrs: map[uint32]uint64{}})
	require.NoError(t, err)
	require.False(t, r.VTxPresent)
}

func TestProbeDoesNotMutateOrFailOnMissingCapability(t *testing.T) {
	t.Parallel()

	cpu := fullCapabilityCPU()
	cpu.msrs[vmcs.MSRIA32VMXEPTVPIDCap] = 0

	r, err := vmcs.Probe(cpu)
	require.NoError(t, err)
	require.True(t, r.VTxPresent)
	require.False(t, r.EPT2MBPages)
	require.False(t, r.EPT4LevelWalk)
}
