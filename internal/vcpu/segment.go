package vcpu

// Segment is a guest segment descriptor in the unpacked form convenient
// to build reset-state values from, matching Intel's struct kvm_segment
// as used by original_source/vmm/vmx.c's vmx_get_segment/vmx_set_segment.
type Segment struct {
	Selector uint16
	Base     uint64
	Limit    uint32
	Type     uint8
	S        bool // descriptor type: 1 = code/data, 0 = system
	DPL      uint8
	Present  bool
	AVL      bool
	L        bool // 64-bit long mode
	DB       bool // default operand size
	Granularity bool
	Unusable bool
}

// ARBytes packs Segment into the VMCS access-rights-bytes encoding,
// grounded on original_source/vmm/vmx.c's vmx_segment_access_rights.
func (s Segment) ARBytes() uint32 {
	if s.Unusable {
		return 1 << 16
	}

	ar := uint32(s.Type) & 0xf
	if s.S {
		ar |= 1 << 4
	}

	ar |= uint32(s.DPL&0x3) << 5

	if s.Present {
		ar |= 1 << 7
	}

	if s.AVL {
		ar |= 1 << 12
	}

	if s.L {
		ar |= 1 << 13
	}

	if s.DB {
		ar |= 1 << 14
	}

	if s.Granularity {
		ar |= 1 << 15
	}

	return ar
}

// realModeDataSegment is the canonical reset-state data segment shared
// by DS/ES/SS/FS/GS (§4.C4): selector 0, base 0, limit 0xFFFF, type
// 0x93 (present, S=1, type=3 read/write accessed).
var realModeDataSegment = Segment{
	Selector: 0,
	Base:     0,
	Limit:    0xffff,
	Type:     0x3,
	S:        true,
	Present:  true,
}

// realModeCodeSegment is GUEST_CS's reset state: selector 0xF000, base
// 0xFFFF0000, limit 0xFFFF, AR bytes 0x9b (present, S=1, type=0xb
// execute/read accessed).
var realModeCodeSegment = Segment{
	Selector: 0xf000,
	Base:     0xffff0000,
	Limit:    0xffff,
	Type:     0xb,
	S:        true,
	Present:  true,
}

// realModeTR is the 32-bit busy-TSS type both Bochs and QEMU use at
// reset, per the teacher's own comment on this exact constant.
var realModeTR = Segment{
	Selector: 0,
	Base:     0,
	Limit:    0xffff,
	Type:     0xb,
	Present:  true,
}

var realModeLDTR = Segment{
	Selector: 0,
	Base:     0,
	Limit:    0xffff,
	Type:     0x2,
	Present:  true,
}

// LongModeTRType is the 64-bit busy-TSS type (11) the CR_ACCESS handler
// fixes TR up to when the guest enters long mode (§4.C6).
const LongModeTRType = 0xb
