package firmware

import (
	"errors"
	"fmt"

	"github.com/go-vtx/vtx/bootproto"
)

// linuxKernelLoadAddr is where a bzImage's protected-mode kernel is
// loaded when it carries no preferred address of its own — the
// historical "high memory" convention the Linux boot protocol
// documents, same constant the teacher's machine package uses.
const linuxKernelLoadAddr = 0x100000

// loadLinuxBootProtocol is §4.C8 step 3: attempted whenever the
// multiboot1 search comes up empty (the image is not tried as a bare
// ELF first). It copies the protected-mode portion of a bzImage (the part
// after the real-mode setup sectors) to linuxKernelLoadAddr, per
// https://www.kernel.org/doc/html/latest/x86/boot.html#loading-the-rest-of-the-kernel,
// the same rule the teacher's machine.LoadLinux bzImage branch follows.
func loadLinuxBootProtocol(mem []byte, image []byte) (LoadResult, error) {
	hdr, err := bootproto.Parse(image)
	if err != nil {
		if errors.Is(err, bootproto.ErrorSignatureNotMatch) {
			return LoadResult{}, ErrNoLoader
		}

		return LoadResult{}, err
	}

	setupSects := hdr.SetupSects
	if setupSects == 0 {
		setupSects = 4
	}

	setupSize := int(setupSects+1) * 512
	if setupSize > len(image) {
		return LoadResult{}, fmt.Errorf("firmware: bzImage shorter than its own setup header claims")
	}

	kernSize := copy(mem[linuxKernelLoadAddr:], image[setupSize:])

	return LoadResult{
		EntryPoint:  linuxKernelLoadAddr,
		KernelStart: linuxKernelLoadAddr,
		KernelEnd:   linuxKernelLoadAddr + uint64(kernSize),
	}, nil
}
