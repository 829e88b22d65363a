package firmware

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	multibootMagic        = 0x1badb002
	multibootSearchWindow = 8192
	multibootHeaderSize   = 32 // magic, flags, checksum + 5 AOUT_KLUDGE fields

	multibootFlagAOUTKludge = 1 << 16
)

// MultibootHeader is the fixed-size header a multiboot1-compliant
// kernel image carries somewhere in its first 8 KiB, 4-byte aligned.
// Grounded on original_source/firmware/multiboot.c's struct
// multiboot_header.
type MultibootHeader struct {
	Magic      uint32
	Flags      uint32
	Checksum   uint32
	HeaderAddr uint32
	LoadAddr   uint32
	LoadEndAddr uint32
	BSSEndAddr uint32
	EntryAddr  uint32
}

// searchMultibootHeader scans the first 8 KiB of image for the
// multiboot1 magic, 4-byte aligned, and validates the mandatory
// checksum (magic+flags+checksum == 0 mod 2^32). Returns the decoded
// header and its byte offset within image.
func searchMultibootHeader(image []byte) (MultibootHeader, int, bool) {
	window := min(len(image), multibootSearchWindow)

	for off := 0; off+multibootHeaderSize <= window; off += 4 {
		if binary.LittleEndian.Uint32(image[off:]) != multibootMagic {
			continue
		}

		var hdr MultibootHeader
		if err := binary.Read(bytes.NewReader(image[off:off+multibootHeaderSize]), binary.LittleEndian, &hdr); err != nil {
			continue
		}

		if hdr.Magic+hdr.Flags+hdr.Checksum != 0 {
			continue
		}

		return hdr, off, true
	}

	return MultibootHeader{}, 0, false
}

// LoadResult is what the loader hands back to C4's run_vcpu: the
// translated entry point and the kernel's occupied guest-physical
// range (the latter feeds EPT frame selection and the guest-parameters
// blob). Grounded on SPEC_FULL.md's "Firmware load result" addition.
type LoadResult struct {
	EntryPoint  uint64
	KernelStart uint64
	KernelEnd   uint64
}

var (
	// ErrNoLoader is returned when a kernel image matches none of the
	// three recognized formats: multiboot1/AOUT_KLUDGE, ELF, or the
	// Linux boot-protocol fallback.
	ErrNoLoader = errors.New("firmware: kernel image matches no recognized loader")

	errTruncatedSegment = errors.New("firmware: kernel image truncated mid load segment")
)

// loadAOUTKludge raw-copies the kernel image to LoadAddr and zeroes the
// BSS tail, per §4.C8 step 2's AOUT_KLUDGE branch. fileOffset is the
// byte offset within image the multiboot header itself was found at;
// the kludge fields let the loader work backward from there to the
// start of the load image, since AOUT_KLUDGE kernels have no separate
// section table to consult.
func loadAOUTKludge(mem []byte, image []byte, hdr MultibootHeader, headerOffset int) (LoadResult, error) {
	fileStart := headerOffset - int(hdr.HeaderAddr-hdr.LoadAddr)
	if fileStart < 0 {
		return LoadResult{}, fmt.Errorf("%w: AOUT_KLUDGE header/load address mismatch", errTruncatedSegment)
	}

	loadSize := int(hdr.LoadEndAddr - hdr.LoadAddr)
	if hdr.LoadEndAddr == 0 {
		loadSize = len(image) - fileStart
	}

	if fileStart+loadSize > len(image) {
		return LoadResult{}, fmt.Errorf("%w: load range exceeds image size", errTruncatedSegment)
	}

	copy(mem[hdr.LoadAddr:], image[fileStart:fileStart+loadSize])

	bssStart := uint64(hdr.LoadAddr) + uint64(loadSize)
	for i := bssStart; i < uint64(hdr.BSSEndAddr); i++ {
		mem[i] = 0
	}

	return LoadResult{
		EntryPoint:  uint64(hdr.EntryAddr),
		KernelStart: uint64(hdr.LoadAddr),
		KernelEnd:   uint64(hdr.BSSEndAddr),
	}, nil
}

// loadELF loads every PT_LOAD segment of a 32- or 64-bit ELF image to
// its physical address, translating a virtual entry point back to
// physical using the first load segment's virtual/physical delta — the
// same convention original_source/firmware/multiboot.c's ELF path and
// the teacher's machine.LoadLinux both rely on.
func loadELF(mem []byte, image []byte) (LoadResult, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return LoadResult{}, err
	}

	var (
		kernelStart = ^uint64(0)
		kernelEnd   uint64
		entryDelta  int64
		haveDelta   bool
	)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		if !haveDelta {
			entryDelta = int64(prog.Vaddr) - int64(prog.Paddr)
			haveDelta = true
		}

		n, err := prog.ReadAt(mem[prog.Paddr:prog.Paddr+prog.Filesz], 0)
		if err != nil && uint64(n) != prog.Filesz {
			return LoadResult{}, fmt.Errorf("firmware: ELF segment at %#x: %w", prog.Paddr, err)
		}

		if prog.Paddr < kernelStart {
			kernelStart = prog.Paddr
		}

		if end := prog.Paddr + prog.Memsz; end > kernelEnd {
			kernelEnd = end
		}
	}

	if kernelEnd == 0 {
		return LoadResult{}, fmt.Errorf("firmware: ELF image has no PT_LOAD segments")
	}

	return LoadResult{
		EntryPoint:  uint64(int64(f.Entry) - entryDelta),
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
	}, nil
}

// loadMultiboot is the entry point for the multiboot1 path of §4.C8
// step 2: search the header, then dispatch to the AOUT_KLUDGE raw copy
// or the ELF loader depending on the header's flags.
func loadMultiboot(mem []byte, image []byte) (LoadResult, bool, error) {
	hdr, offset, found := searchMultibootHeader(image)
	if !found {
		return LoadResult{}, false, nil
	}

	if hdr.Flags&multibootFlagAOUTKludge != 0 {
		res, err := loadAOUTKludge(mem, image, hdr, offset)

		return res, true, err
	}

	res, err := loadELF(mem, image)

	return res, true, err
}
