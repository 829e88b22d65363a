package vmx_test

import (
	"testing"

	"github.com/go-vtx/vtx/internal/vmx"
	"github.com/stretchr/testify/require"
)

func TestFieldWidth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		field uint32
		want  vmx.Width
	}{
		{"GUEST_CS_SELECTOR", 0x0802, vmx.Width16},
		{"VM_EXIT_CONTROLS", 0x400c, vmx.Width32},
		{"EPT_POINTER", 0x201a, vmx.Width64},
		{"GUEST_RIP", 0x681e, vmx.WidthNatural},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, vmx.FieldWidth(tc.field))
		})
	}
}

func TestAccessorsPanicOnWidthMismatch(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { vmx.Read32(0x0802) })   // a 16-bit field read as 32-bit
	require.Panics(t, func() { vmx.Write16(0x201a, 0) }) // a 64-bit field written as 16-bit
}
