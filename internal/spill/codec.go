// Package spill implements the spill manager and segment codec (spec.md
// §4.2, §3 SegmentHeader/SegmentMeta).
package spill

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v3"

	"github.com/NVIDIA/emsqrt/internal/cmn"
)

// Codec identifies the payload compression scheme of a segment.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLz4  Codec = 2
)

func CodecFromByte(v byte) (Codec, error) {
	switch Codec(v) {
	case CodecNone, CodecZstd, CodecLz4:
		return Codec(v), nil
	default:
		return 0, cmn.Errf(cmn.KindCodec, nil, "unknown codec byte %d", v)
	}
}

func Compress(c Codec, in []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return in, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "zstd writer")
		}
		defer enc.Close()
		return enc.EncodeAll(in, nil), nil
	case CodecLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(in); err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "lz4 write")
		}
		if err := w.Close(); err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "lz4 close")
		}
		return buf.Bytes(), nil
	default:
		return nil, cmn.Errf(cmn.KindCodec, nil, "unsupported codec %d", c)
	}
}

func Decompress(c Codec, in []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return in, nil
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "zstd reader")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(in, nil)
		if err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "zstd decode")
		}
		return out, nil
	case CodecLz4:
		r := lz4.NewReader(bytes.NewReader(in))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, cmn.Errf(cmn.KindCodec, err, "lz4 decode")
		}
		return out, nil
	default:
		return nil, cmn.Errf(cmn.KindCodec, nil, "unsupported codec %d", c)
	}
}
