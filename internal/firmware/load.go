package firmware

import "fmt"

const (
	realModeIVTBegin = 0x0
	ebdaStart        = 0x9fc00
	biosHighMemBase  = 0x100000

	initrdAlign = 0x200000 // load the initrd on its own 2 MiB frame
)

// defaultE820Map builds the sanitized memory map Load writes into the
// guest parameters blob: the conventional low-memory/EBDA
// split below 1 MiB, then one RAM region spanning the rest of the
// arena. Grounded on the teacher's machine.LoadLinux E820 construction
// (itself citing kvmtool's x86/bios.c), simplified to this VMM's single
// contiguous arena (no PCI hole, no VGA RAM carve-out below 1 MiB,
// since this spec has no device model to place there).
func defaultE820Map(arenaSize uint64) []E820Entry {
	return []E820Entry{
		{Addr: realModeIVTBegin, Size: ebdaStart - realModeIVTBegin, Type: E820Ram},
		{Addr: ebdaStart, Size: biosHighMemBase - ebdaStart, Type: E820Reserved},
		{Addr: biosHighMemBase, Size: arenaSize - biosHighMemBase, Type: E820Ram},
	}
}

// Load runs §4.C8 step 2/3's loader sequence against a guest-memory
// arena already backing an EPT-mapped region: search for a multiboot1
// header; on AOUT_KLUDGE raw-copy, otherwise parse as ELF; if no
// header is found at all, fall back to the Linux boot-protocol loader.
// On success it also places the initrd (if any) and writes the guest
// parameters blob at FirmwareStart, so C4's run_vcpu has everything it
// needs to start the guest directly at the translated entry point.
func Load(mem []byte, kernelImage, initrdImage []byte, cmdline string) (LoadResult, error) {
	res, found, err := loadMultiboot(mem, kernelImage)
	if !found {
		res, err = loadLinuxBootProtocol(mem, kernelImage)
	}

	if err != nil {
		return LoadResult{}, fmt.Errorf("firmware: loading kernel image: %w", err)
	}

	var initrdStart, initrdEnd uint64

	if len(initrdImage) > 0 {
		initrdStart = (res.KernelEnd + initrdAlign - 1) &^ (initrdAlign - 1)
		initrdEnd = initrdStart + uint64(len(initrdImage))

		if initrdEnd > uint64(len(mem)) {
			return LoadResult{}, fmt.Errorf("firmware: initrd does not fit in the guest arena")
		}

		copy(mem[initrdStart:], initrdImage)
	}

	params := NewGuestParams(res.KernelStart, res.KernelEnd, initrdStart, initrdEnd, cmdline, defaultE820Map(uint64(len(mem))))
	if err := params.WriteTo(mem); err != nil {
		return LoadResult{}, fmt.Errorf("firmware: writing guest parameters blob: %w", err)
	}

	return res, nil
}
