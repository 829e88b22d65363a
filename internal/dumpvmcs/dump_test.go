package dumpvmcs_test

import (
	"testing"

	"github.com/go-vtx/vtx/internal/dumpvmcs"
)

func TestDumpLastInstructionDecodesKnownBytes(t *testing.T) {
	t.Parallel()

	// 0f 05 is SYSCALL.
	dumpvmcs.DumpLastInstruction([]byte{0x0f, 0x05}, 64)
}

func TestDumpLastInstructionFallsBackOnGarbage(t *testing.T) {
	t.Parallel()

	dumpvmcs.DumpLastInstruction([]byte{0x0f, 0xff, 0xff, 0xff}, 64)
}
