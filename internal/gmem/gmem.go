// Package gmem manages the guest-physical RAM arena: a single flat,
// non-growable mmap'd region backing both the firmware and kernel 2 MiB
// frames that internal/ept maps into the guest.
//
// Grounded on the teacher's memory package (memory/memory.go's
// syscall.Mmap-and-poison allocator), adapted to golang.org/x/sys/unix
// and to this VMM's single-arena, two-reservation model — there is no
// KVM memory-slot/ioctl layer here, so MemorySlot's bookkeeping for
// that is dropped.
package gmem

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Poison fills RAM past the low 1 MiB boundary so that a guest that
// stumbles into unmapped instruction memory faults immediately instead
// of executing a run of zero bytes (ADD [rax],al) and silently limping
// along. mov eax,0xcafebabe; nop; ud2 — recognizable in a disassembly,
// unconditionally trapping.
const Poison = "\xB8\xBE\xBA\xFE\xCA\x90\x0F\x0B"

const highMemBase = 0x100000

var ErrArenaTooSmall = errors.New("gmem: arena smaller than one 2 MiB frame")

// Arena is a guest-physical RAM region. Its backing slice never moves
// or grows after New returns, so addresses taken from it (and baked
// into EPT leaves) stay valid for the arena's lifetime.
type Arena struct {
	buf []byte
}

// New mmaps a size-byte anonymous, shared arena and poison-fills it
// above the low 1 MiB (the conventional reset-vector/BIOS region, which
// is left zero-filled).
func New(size int) (*Arena, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}

	for i := highMemBase; i+len(Poison) <= len(buf); i += len(Poison) {
		copy(buf[i:], Poison)
	}

	return &Arena{buf: buf}, nil
}

// Bytes returns the full backing slice for direct guest-memory access
// (firmware loading, parameter-blob writes).
func (a *Arena) Bytes() []byte { return a.buf }

// Frame returns a size-byte slice of the arena starting at the
// guest-physical offset gpa — used to get the two 2 MiB frame pointers
// internal/ept.Build needs.
func (a *Arena) Frame(gpa uint64, size int) []byte {
	return a.buf[gpa : gpa+uint64(size)]
}

// PhysAddr returns the host-virtual address of a byte within the arena
// as a uint64 — this VMM's stand-in for a host-physical address (see
// internal/ept's phys helper for why that substitution is sound here).
func (a *Arena) PhysAddr(gpa uint64) uint64 {
	return uint64(uintptr(unsafe.Pointer(&a.buf[gpa])))
}

// Close unmaps the arena. Safe to call once; the VMM calls it only at
// process exit, since vCPU teardown means the guest is gone anyway.
func (a *Arena) Close() error {
	return unix.Munmap(a.buf)
}

var errReservationOverlap = errors.New("gmem: reservation overlaps an existing one")

// Reservation names a byte range within an Arena — the firmware frame,
// the kernel frame, and (were this extended) any future guest-visible
// region. Reservations exist purely to catch a loader bug that would
// place the kernel on top of the firmware frame or vice versa; nothing
// else consults them.
type Reservation struct {
	Name  string
	Start uint64
	Size  uint64
}

func (r Reservation) overlaps(o Reservation) bool {
	return r.Start < o.Start+o.Size && o.Start < r.Start+r.Size
}

// Reservations tracks the set of ranges claimed within one Arena.
type Reservations struct {
	entries []Reservation
}

// Reserve claims [start, start+size) for name, failing if it overlaps
// any reservation already held.
//
// The teacher's equivalent (memory/addressSpace.go's IsFree) compares
// each existing entry against itself — addr.InRange(addr) — which can
// never detect a real overlap; this compares the candidate against each
// existing entry instead.
func (rs *Reservations) Reserve(name string, start, size uint64) error {
	cand := Reservation{Name: name, Start: start, Size: size}

	for _, existing := range rs.entries {
		if cand.overlaps(existing) {
			return errReservationOverlap
		}
	}

	rs.entries = append(rs.entries, cand)

	return nil
}
