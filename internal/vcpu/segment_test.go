package vcpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRealModeDataSegmentARBytes(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint32(0x93), realModeDataSegment.ARBytes())
}

func TestRealModeCodeSegmentARBytes(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint32(0x9b), realModeCodeSegment.ARBytes())
}

func TestRealModeTRARBytes(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint32(0x8b), realModeTR.ARBytes())
}

func TestRealModeLDTRARBytes(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint32(0x82), realModeLDTR.ARBytes())
}

func TestUnusableSegmentARBytes(t *testing.T) {
	t.Parallel()
	s := Segment{Unusable: true}
	require.Equal(t, uint32(1<<16), s.ARBytes())
}
