package spill

import (
	"encoding/binary"

	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/id"
)

// MAGIC and HeaderLen implement spec.md §3's fixed 24-byte segment header:
//
//	u32 magic | u16 version | u8 codec | u8 reserved | u64 uncompressed_len LE | u64 compressed_len LE
const (
	Magic      uint32 = 0x45534D51 // "ESMQ"
	Version    uint16 = 1
	HeaderLen         = 4 + 2 + 1 + 1 + 8 + 8
	MaxSegmentBytes   = 100 * 1024 * 1024
)

type SegmentHeader struct {
	Magic            uint32
	Version          uint16
	Codec            Codec
	UncompressedLen  uint64
	CompressedLen    uint64
}

func NewSegmentHeader(c Codec, uncompressedLen, compressedLen uint64) SegmentHeader {
	return SegmentHeader{Magic: Magic, Version: Version, Codec: c, UncompressedLen: uncompressedLen, CompressedLen: compressedLen}
}

func (h SegmentHeader) Bytes() []byte {
	out := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(out[0:4], h.Magic)
	binary.LittleEndian.PutUint16(out[4:6], h.Version)
	out[6] = byte(h.Codec)
	out[7] = 0
	binary.LittleEndian.PutUint64(out[8:16], h.UncompressedLen)
	binary.LittleEndian.PutUint64(out[16:24], h.CompressedLen)
	return out
}

func ParseSegmentHeader(b []byte) (SegmentHeader, error) {
	if len(b) < HeaderLen {
		return SegmentHeader{}, cmn.Errf(cmn.KindStorageFatal, nil, "short segment header: %d bytes", len(b))
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	version := binary.LittleEndian.Uint16(b[4:6])
	codec, err := CodecFromByte(b[6])
	if err != nil {
		return SegmentHeader{}, err
	}
	uncompressed := binary.LittleEndian.Uint64(b[8:16])
	compressed := binary.LittleEndian.Uint64(b[16:24])
	if magic != Magic || version != Version {
		return SegmentHeader{}, cmn.Errf(cmn.KindStorageFatal, nil, "bad magic/version (magic=%#x version=%d)", magic, version)
	}
	return SegmentHeader{Magic: magic, Version: version, Codec: codec, UncompressedLen: uncompressed, CompressedLen: compressed}, nil
}

// ValidateSizes enforces the sanity limits of spec.md §6: both lengths
// capped at 100 MiB, and compressed > uncompressed rejected except for
// codec None (stored, not compressed).
func (h SegmentHeader) ValidateSizes() error {
	if h.UncompressedLen > MaxSegmentBytes {
		return cmn.Errf(cmn.KindStorageFatal, nil, "uncompressed_len %d exceeds %d", h.UncompressedLen, MaxSegmentBytes)
	}
	if h.CompressedLen > MaxSegmentBytes {
		return cmn.Errf(cmn.KindStorageFatal, nil, "compressed_len %d exceeds %d", h.CompressedLen, MaxSegmentBytes)
	}
	if h.Codec != CodecNone && h.CompressedLen > h.UncompressedLen {
		return cmn.Errf(cmn.KindStorageFatal, nil, "compressed_len %d exceeds uncompressed_len %d for codec %d", h.CompressedLen, h.UncompressedLen, h.Codec)
	}
	return nil
}

// SegmentName is "spill<S>_run<R>", the human-friendly handle for one
// spilled segment.
type SegmentName string

func NewSegmentName(sid id.SpillId, runIndex uint32) SegmentName {
	return SegmentName(formatSegmentName(sid, runIndex))
}

func formatSegmentName(sid id.SpillId, runIndex uint32) string {
	return "spill" + itoa(uint64(sid)) + "_run" + itoa(uint64(runIndex))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// SegmentMeta is the metadata the spill manager retains for one segment.
type SegmentMeta struct {
	Name            SegmentName
	Path            string
	Codec           Codec
	UncompressedLen uint64
	CompressedLen   uint64
	Checksum        [32]byte
	Etag            string
}
