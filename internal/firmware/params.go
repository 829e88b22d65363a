// Package firmware loads a guest kernel image into a gmem.Arena and
// produces the register/entry-point state C4's run_vcpu needs to start
// the guest, per §4.C8. This implementation takes the host-side-loader
// alternative §6 explicitly allows: there is no guest-resident real-mode
// firmware blob executing the multiboot/ELF/bzImage parsing itself —
// the parsing runs here, in Go, before the first VMLAUNCH, directly
// against the arena's backing slice.
//
// Grounded on original_source/firmware/multiboot.c for the parsing
// algorithm and on the teacher's machine.LoadLinux/bootparam/bootproto
// packages for the analogous host-side loading they already do for a
// KVM-ioctl-driven boot flow.
package firmware

import (
	"bytes"
	"encoding/binary"
)

// FirmwareStart is the guest-physical address the guest parameters
// blob is placed at — also the landing page a guest-resident firmware
// blob would have executed from, were one used.
const FirmwareStart = 0x1000

const (
	cmdlineSize    = 1024
	maxE820Entries = 128
)

// E820 entry types (BIOS INT 15h, E820h convention).
const (
	E820Ram      = 1
	E820Reserved = 2
)

// E820Entry is one packed memory-map entry: 20 bytes of data padded to
// 24 so the table's stride matches the spec's `{u64 addr; u64 size;
// u32 type; u8 pad[4]}` layout.
type E820Entry struct {
	Addr uint64
	Size uint64
	Type uint32
	_    [4]byte
}

// GuestParams is the packed structure placed at guest-physical
// FirmwareStart, per §6's "Guest parameters blob layout". Every field
// is fixed-size so binary.Write produces exactly
// 3+5+8+8+8+8+1024+4+128*24 = 4140 bytes with no implicit padding.
type GuestParams struct {
	JumpPrefix  [3]byte
	MagicPad    [5]byte
	KernelStart uint64
	KernelEnd   uint64
	InitrdStart uint64
	InitrdEnd   uint64
	Cmdline     [cmdlineSize]byte
	E820Count   uint32
	E820Table   [maxE820Entries]E820Entry
}

// guestParamsSize is computed once from the zero value rather than
// hand-counted, so it can never drift from the struct definition above.
var guestParamsSize = binary.Size(GuestParams{})

// NewGuestParams builds the blob the loader writes to guest memory. The
// jump-prefix invariant (§8: "the first three bytes ... jump to exactly
// sizeof(guest_params)-3 bytes forward") is computed here, not hardcoded,
// so it tracks the struct's actual size.
func NewGuestParams(kernelStart, kernelEnd, initrdStart, initrdEnd uint64, cmdline string, e820 []E820Entry) GuestParams {
	if len(e820) > maxE820Entries {
		e820 = e820[:maxE820Entries]
	}

	p := GuestParams{
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
		InitrdStart: initrdStart,
		InitrdEnd:   initrdEnd,
		E820Count:   uint32(len(e820)),
	}

	copy(p.Cmdline[:], cmdline)
	copy(p.E820Table[:], e820)

	disp := uint16(guestParamsSize - 3)
	p.JumpPrefix = [3]byte{0xe9, byte(disp), byte(disp >> 8)}

	return p
}

// Bytes serializes the blob in the packed little-endian layout §6
// specifies.
func (p GuestParams) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteTo copies the serialized blob into mem at FirmwareStart.
func (p GuestParams) WriteTo(mem []byte) error {
	b, err := p.Bytes()
	if err != nil {
		return err
	}

	copy(mem[FirmwareStart:], b)

	return nil
}
