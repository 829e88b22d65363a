// Package bootproto decodes the Linux x86 boot protocol header embedded at
// offset 0x1F1 of a bzImage. The guest firmware loader falls back to this
// path when a kernel module carries no multiboot1 header.
package bootproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
)

const (
	BootProtoMagicSignature = 0x53726448
)

// https://www.kernel.org/doc/html/latest/x86/boot.html
type BootProto struct {
	SetupSects          uint8
	RootFlags           uint16
	SysSize             uint32
	RAMSize             uint16
	VidMode             uint16
	RootDev             uint16
	BootFlag            uint16
	Jump                uint16
	Header              uint32
	Version             uint16
	ReadModeSwitch      uint32
	StartSysSeg         uint16
	KernelVersion       uint16
	TypeOfLoader        uint8
	LoadFlags           uint8
	SetupMoveSize       uint16
	Code32Start         uint32
	RamdiskImage        uint32
	RamdiskSize         uint32
	BootsectKludge      uint32
	HeapEndPtr          uint16
	ExtLoaderVer        uint8
	ExtLoaderType       uint8
	CmdlinePtr          uint32
	InitrdAddrMax       uint32
	KernelAlignment     uint32
	RelocatableKernel   uint8
	MinAlignment        uint8
	XloadFlags          uint16
	CmdlineSize         uint32
	HardwareSubarch     uint32
	HardwareSubarchData uint64
	PayloadOffset       uint32
	PayloadLength       uint32
	SetupData           uint64
	PrefAddress         uint64
	InitSize            uint32
	HandoverOffset      uint32
	KernelInfoOffset    uint32
}

var ErrorSignatureNotMatch = errors.New("signature not match in bzImage")

// HeaderOffset is the fixed byte offset of the boot protocol header within
// any bzImage, real-mode kernel or not.
const HeaderOffset = 0x01F1

func New(bzImagePath string) (*BootProto, error) {
	bzImage, err := os.ReadFile(bzImagePath)
	if err != nil {
		return &BootProto{}, err
	}

	return Parse(bzImage)
}

// Parse decodes the boot protocol header out of an in-memory kernel image,
// as handed to the firmware loader by the multiboot module it was given.
func Parse(image []byte) (*BootProto, error) {
	b := &BootProto{}

	if len(image) < HeaderOffset {
		return b, ErrorSignatureNotMatch
	}

	reader := bytes.NewReader(image[HeaderOffset:])
	if err := binary.Read(reader, binary.LittleEndian, b); err != nil {
		return b, err
	}

	if b.Header != BootProtoMagicSignature {
		return b, ErrorSignatureNotMatch
	}

	return b, nil
}

// NOTE: base address for boot protocol is 0x01F1 in guest physical memory.
func (b *BootProto) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, b); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}
