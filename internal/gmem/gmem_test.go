package gmem_test

import (
	"testing"

	"github.com/go-vtx/vtx/internal/gmem"
	"github.com/stretchr/testify/require"
)

func TestNewPoisonsAboveLowMem(t *testing.T) {
	t.Parallel()

	a, err := gmem.New(4 << 20)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, []byte(gmem.Poison), a.Bytes()[0x100000:0x100000+len(gmem.Poison)])
	require.NotEqual(t, []byte(gmem.Poison), a.Bytes()[0:len(gmem.Poison)], "low 1 MiB must stay zero")
}

func TestPhysAddrTracksBackingSlice(t *testing.T) {
	t.Parallel()

	a, err := gmem.New(4 << 20)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, a.PhysAddr(0)+0x100, a.PhysAddr(0x100))
}

func TestReservationsRejectOverlap(t *testing.T) {
	t.Parallel()

	rs := &gmem.Reservations{}
	require.NoError(t, rs.Reserve("firmware", 0, 2<<20))
	require.NoError(t, rs.Reserve("kernel", 4<<20, 2<<20))
	require.Error(t, rs.Reserve("bad", 1<<20, 2<<20))
}

func TestReservationsAllowAdjacentRanges(t *testing.T) {
	t.Parallel()

	rs := &gmem.Reservations{}
	require.NoError(t, rs.Reserve("firmware", 0, 2<<20))
	require.NoError(t, rs.Reserve("adjacent", 2<<20, 2<<20))
}
