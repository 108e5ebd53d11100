package spill

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// EncodeBatch serializes a RowBatch to a canonical byte form: column
// count, then per column (name, tag-tagged values). This is the "payload"
// that gets compressed and checksummed by the spill manager - distinct
// from (but as deterministic as) the plan/TE hashing canonical form in
// internal/manifest, since both must round-trip byte-identically (P5, P7).
func EncodeBatch(b schema.RowBatch) []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(b.Columns)))
	for _, c := range b.Columns {
		writeString(&buf, c.Name)
		writeU32(&buf, uint32(len(c.Values)))
		for _, v := range c.Values {
			writeScalar(&buf, v)
		}
	}
	return buf.Bytes()
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(data []byte) (schema.RowBatch, error) {
	r := bytes.NewReader(data)
	numCols, err := readU32(r)
	if err != nil {
		return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "decode batch: column count")
	}
	cols := make([]schema.Column, numCols)
	for i := range cols {
		name, err := readString(r)
		if err != nil {
			return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "decode batch: column %d name", i)
		}
		n, err := readU32(r)
		if err != nil {
			return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "decode batch: column %d length", i)
		}
		vals := make([]schema.Scalar, n)
		for j := range vals {
			v, err := readScalar(r)
			if err != nil {
				return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "decode batch: column %d row %d", i, j)
			}
			vals[j] = v
		}
		cols[i] = schema.Column{Name: name, Values: vals}
	}
	return schema.RowBatch{Columns: cols}, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeScalar(buf *bytes.Buffer, v schema.Scalar) {
	buf.WriteByte(byte(v.Tag()))
	switch v.Tag() {
	case schema.TagNull:
	case schema.TagBool:
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case schema.TagI32:
		writeU32(buf, uint32(v.I32()))
	case schema.TagI64:
		writeU64(buf, uint64(v.I64()))
	case schema.TagF32:
		writeU32(buf, math.Float32bits(v.F32()))
	case schema.TagF64:
		writeU64(buf, math.Float64bits(v.F64()))
	case schema.TagUtf8:
		writeString(buf, v.Str())
	case schema.TagBinary:
		writeU32(buf, uint32(len(v.Bytes())))
		buf.Write(v.Bytes())
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readScalar(r *bytes.Reader) (schema.Scalar, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return schema.Scalar{}, err
	}
	switch schema.Tag(tagByte) {
	case schema.TagNull:
		return schema.Null(), nil
	case schema.TagBool:
		b, err := r.ReadByte()
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.Bool(b != 0), nil
	case schema.TagI32:
		v, err := readU32(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.I32(int32(v)), nil
	case schema.TagI64:
		v, err := readU64(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.I64(int64(v)), nil
	case schema.TagF32:
		v, err := readU32(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.F32(math.Float32frombits(v)), nil
	case schema.TagF64:
		v, err := readU64(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.F64(math.Float64frombits(v)), nil
	case schema.TagUtf8:
		s, err := readString(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		return schema.Utf8(s), nil
	case schema.TagBinary:
		n, err := readU32(r)
		if err != nil {
			return schema.Scalar{}, err
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return schema.Scalar{}, err
		}
		return schema.Binary(buf), nil
	default:
		return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "unknown scalar tag %d", tagByte)
	}
}
