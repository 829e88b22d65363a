package firmware_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-vtx/vtx/bootproto"
	"github.com/go-vtx/vtx/internal/firmware"
	"github.com/stretchr/testify/require"
)

func TestNewGuestParamsJumpPrefixSkipsExactlyTheBlob(t *testing.T) {
	t.Parallel()

	p := firmware.NewGuestParams(0x100000, 0x200000, 0, 0, "console=ttyS0", nil)

	encoded, err := p.Bytes()
	require.NoError(t, err)

	require.Equal(t, byte(0xe9), encoded[0], "jump prefix must be a near JMP opcode")

	disp := int(int16(binary.LittleEndian.Uint16(encoded[1:3])))
	require.Equal(t, len(encoded)-3, disp)
}

func TestNewGuestParamsEmbedsCmdlineAndE820Table(t *testing.T) {
	t.Parallel()

	e820 := []firmware.E820Entry{{Addr: 0, Size: 0x9fc00, Type: firmware.E820Ram}}
	p := firmware.NewGuestParams(0x100000, 0x200000, 0x300000, 0x310000, "root=/dev/sda1", e820)

	require.EqualValues(t, 1, p.E820Count)
	require.Equal(t, uint64(0x9fc00), p.E820Table[0].Size)
	require.True(t, bytes.HasPrefix(p.Cmdline[:], []byte("root=/dev/sda1\x00")))
}

func syntheticMultibootImage(t *testing.T, flags, loadAddr, loadEndAddr, bssEndAddr, entryAddr uint32, payload []byte) []byte {
	t.Helper()

	const headerOffset = 64

	magic := uint32(0x1badb002)
	checksum := -(magic + flags)

	image := make([]byte, headerOffset+32+len(payload))
	binary.LittleEndian.PutUint32(image[headerOffset:], magic)
	binary.LittleEndian.PutUint32(image[headerOffset+4:], flags)
	binary.LittleEndian.PutUint32(image[headerOffset+8:], uint32(checksum))
	binary.LittleEndian.PutUint32(image[headerOffset+12:], headerOffset) // header_addr
	binary.LittleEndian.PutUint32(image[headerOffset+16:], loadAddr)
	binary.LittleEndian.PutUint32(image[headerOffset+20:], loadEndAddr)
	binary.LittleEndian.PutUint32(image[headerOffset+24:], bssEndAddr)
	binary.LittleEndian.PutUint32(image[headerOffset+28:], entryAddr)
	copy(image[headerOffset+32:], payload)

	return image
}

func TestLoadAOUTKludgeCopiesRawImageAndZeroesBSS(t *testing.T) {
	t.Parallel()

	const aoutKludge = 1 << 16

	payload := bytes.Repeat([]byte{0xab}, 16)
	// load_addr == header_addr so fileStart lands exactly at headerOffset-0 = 64,
	// i.e. the multiboot header itself is the first byte of the "load image".
	image := syntheticMultibootImage(t, aoutKludge, 64, 64+32+uint32(len(payload)), 64+32+uint32(len(payload))+8, 0x1000, payload)

	mem := make([]byte, 1<<20)

	bssStart := 64 + 32 + len(payload)
	for i := bssStart; i < bssStart+8; i++ {
		mem[i] = 0xff // pre-existing garbage the BSS zeroing must clear
	}

	res, err := firmware.Load(mem, image, nil, "")
	require.NoError(t, err)
	require.EqualValues(t, 0x1000, res.EntryPoint)
	require.EqualValues(t, 64, res.KernelStart)

	loadSize := 32 + len(payload)
	require.Equal(t, image[64:64+loadSize], mem[64:64+loadSize])

	for i := 64 + loadSize; i < 64+loadSize+8; i++ {
		require.Zerof(t, mem[i], "byte %d should have been zeroed as BSS", i)
	}
}

func TestSearchMultibootHeaderRejectsBadChecksum(t *testing.T) {
	t.Parallel()

	const aoutKludge = 1 << 16

	image := syntheticMultibootImage(t, aoutKludge, 64, 96, 104, 0x1000, nil)
	image[64+8]++ // corrupt the checksum

	_, err := firmware.Load(make([]byte, 1<<20), image, nil, "")
	// With the checksum corrupted, the multiboot search never matches;
	// this image also isn't a valid ELF or bzImage, so loading fails.
	require.Error(t, err)
}

func syntheticBzImage(t *testing.T, setupSects uint8, kernelPayload []byte) []byte {
	t.Helper()

	hdr := bootproto.BootProto{
		Header:     bootproto.BootProtoMagicSignature,
		SetupSects: setupSects,
	}

	buf := new(bytes.Buffer)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &hdr))

	setupSize := int(setupSects+1) * 512

	image := make([]byte, bootproto.HeaderOffset+buf.Len())
	copy(image[bootproto.HeaderOffset:], buf.Bytes())

	if len(image) < setupSize {
		image = append(image, make([]byte, setupSize-len(image))...)
	}

	image = append(image, kernelPayload...)

	return image
}

func TestLoadFallsBackToLinuxBootProtocolWhenNoMultibootHeader(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x90}, 256)
	image := syntheticBzImage(t, 4, payload)

	mem := make([]byte, 4<<20)

	res, err := firmware.Load(mem, image, nil, "")
	require.NoError(t, err)
	require.EqualValues(t, 0x100000, res.EntryPoint)

	setupSize := 5 * 512
	require.Equal(t, payload, mem[0x100000:0x100000+len(payload)])
	require.Equal(t, image[setupSize:], mem[0x100000:0x100000+len(image)-setupSize])
}

func TestLoadReturnsErrorWhenNothingMatches(t *testing.T) {
	t.Parallel()

	garbage := bytes.Repeat([]byte{0x00}, 4096)

	_, err := firmware.Load(make([]byte, 1<<20), garbage, nil, "")
	require.Error(t, err)
}

func TestLoadPlacesInitrdAfterKernelOnA2MiBBoundary(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x90}, 256)
	image := syntheticBzImage(t, 4, payload)
	initrd := bytes.Repeat([]byte{0xcd}, 128)

	mem := make([]byte, 8<<20)

	res, err := firmware.Load(mem, image, initrd, "")
	require.NoError(t, err)

	const initrdAlign = 0x200000

	wantStart := (res.KernelEnd + initrdAlign - 1) &^ (initrdAlign - 1)
	require.Zero(t, wantStart%initrdAlign, "initrd start must be 2 MiB aligned")
	require.Equal(t, initrd, mem[wantStart:wantStart+uint64(len(initrd))])
}
