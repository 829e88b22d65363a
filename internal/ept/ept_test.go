package ept_test

import (
	"testing"
	"unsafe"

	"github.com/go-vtx/vtx/internal/ept"
	"github.com/stretchr/testify/require"
)

func TestBuildMapsFirmwareAndKernelFrames(t *testing.T) {
	t.Parallel()

	// A 2 MiB leaf holds a 2 MiB-aligned host frame, so carve aligned
	// frames out of larger buffers.
	frame := func() []byte {
		buf := make([]byte, 4<<20)
		off := -int(uintptr(unsafe.Pointer(&buf[0]))) & (2<<20 - 1)

		return buf[off : off+2<<20]
	}

	firmware := frame()
	kernel := frame()

	const kernelGPA = 4 << 20 // third 2 MiB frame

	tables := ept.Build(unsafe.Pointer(&firmware[0]), unsafe.Pointer(&kernel[0]), kernelGPA)

	got := tables.Walk(0)
	require.Equal(t, unsafe.Pointer(&firmware[0]), got)

	got = tables.Walk(kernelGPA + 0x123)
	require.Equal(t, unsafe.Pointer(&kernel[0x123]), got)
}

func TestWalkPanicsOnUnmappedFrame(t *testing.T) {
	t.Parallel()

	firmware := make([]byte, 2<<20)
	kernel := make([]byte, 2<<20)

	tables := ept.Build(unsafe.Pointer(&firmware[0]), unsafe.Pointer(&kernel[0]), 4<<20)

	require.Panics(t, func() { tables.Walk(8 << 20) })
}

func TestPointerEncodesWritebackAndFourLevelWalk(t *testing.T) {
	t.Parallel()

	firmware := make([]byte, 2<<20)
	kernel := make([]byte, 2<<20)

	tables := ept.Build(unsafe.Pointer(&firmware[0]), unsafe.Pointer(&kernel[0]), 4<<20)

	eptp := tables.Pointer()
	require.Equal(t, uint64(6), eptp&0x7)
	require.Equal(t, uint64(3<<3), eptp&(7<<3))
}
