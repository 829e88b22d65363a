// Package vmx exposes the raw VT-x primitives: VMCS field accessors,
// VMXON/VMPTRLD/VMCLEAR/INVEPT, MSR access, CPUID, and control-register
// moves. Everything below the Go/assembly boundary lives in asm_amd64.s;
// this file is the typed layer original_source/vmm/vmx.c calls
// __vmcs_read/__vmcs_write and the vmcs_check16/32/64/checkl macros.
package vmx

import "fmt"

// Width classifies a VMCS field encoding per Intel SDM Vol. 3C, Appendix
// B.1: bits [14:13] of the field encoding give the field's access width.
type Width uint8

const (
	Width16 Width = iota
	Width64
	Width32
	WidthNatural
)

// FieldWidth extracts the width class encoded in a VMCS field index.
func FieldWidth(field uint32) Width {
	return Width((field >> 13) & 0x3)
}

// WrongWidthError is a programmer error: an accessor was used against a
// field of a different width. It is never guest-visible — the caller is
// always a component of this VMM mis-encoding a field constant.
type WrongWidthError struct {
	Field uint32
	Want  Width
	Got   Width
}

func (e *WrongWidthError) Error() string {
	return fmt.Sprintf("vmcs field 0x%04x: accessor width %v does not match field width %v", e.Field, e.Want, e.Got)
}

func (w Width) String() string {
	switch w {
	case Width16:
		return "16-bit"
	case Width32:
		return "32-bit"
	case Width64:
		return "64-bit"
	case WidthNatural:
		return "natural-width"
	default:
		return "unknown"
	}
}

func checkWidth(field uint32, want Width) {
	if got := FieldWidth(field); got != want {
		panic(&WrongWidthError{Field: field, Want: want, Got: got})
	}
}

// Read16 reads a 16-bit VMCS field (e.g. a segment selector).
func Read16(field uint32) uint16 {
	checkWidth(field, Width16)

	return uint16(vmread(field))
}

// Write16 writes a 16-bit VMCS field.
func Write16(field uint32, value uint16) {
	checkWidth(field, Width16)
	VMWrite(field, uint64(value))
}

// Read32 reads a 32-bit VMCS field (control words, limits, AR bytes, ...).
func Read32(field uint32) uint32 {
	checkWidth(field, Width32)

	return uint32(vmread(field))
}

// Write32 writes a 32-bit VMCS field.
func Write32(field uint32, value uint32) {
	checkWidth(field, Width32)
	VMWrite(field, uint64(value))
}

// Read64 reads a 64-bit VMCS field (MSR bitmap pointer, EPT pointer, ...).
// In 64-bit mode the full value is read in a single VMREAD; there is no
// separate *_HIGH access the way there is in 32-bit mode.
func Read64(field uint32) uint64 {
	checkWidth(field, Width64)

	return vmread(field)
}

// Write64 writes a 64-bit VMCS field.
func Write64(field uint32, value uint64) {
	checkWidth(field, Width64)
	VMWrite(field, value)
}

// ReadNatural reads a natural-width VMCS field (CR shadows, RIP, RSP, ...).
func ReadNatural(field uint32) uint64 {
	checkWidth(field, WidthNatural)

	return vmread(field)
}

// WriteNatural writes a natural-width VMCS field.
func WriteNatural(field uint32, value uint64) {
	checkWidth(field, WidthNatural)
	VMWrite(field, value)
}
