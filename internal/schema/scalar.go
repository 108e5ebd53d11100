// Package schema is the engine's data model: Scalar, Column, RowBatch,
// and the logical Schema/Field/DataType used for planning.
package schema

import (
	"math"
	"strconv"
)

// Tag orders Scalar variants when comparing across distinct types.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagI32
	TagI64
	TagF32
	TagF64
	TagUtf8
	TagBinary
)

// Scalar is a tagged union over {null, bool, i32, i64, f32, f64, utf8, binary}.
type Scalar struct {
	tag  Tag
	b    bool
	i    int64
	f    float64
	s    string
	bin  []byte
}

func Null() Scalar           { return Scalar{tag: TagNull} }
func Bool(v bool) Scalar     { return Scalar{tag: TagBool, b: v} }
func I32(v int32) Scalar     { return Scalar{tag: TagI32, i: int64(v)} }
func I64(v int64) Scalar     { return Scalar{tag: TagI64, i: v} }
func F32(v float32) Scalar   { return Scalar{tag: TagF32, f: float64(v)} }
func F64(v float64) Scalar   { return Scalar{tag: TagF64, f: v} }
func Utf8(v string) Scalar   { return Scalar{tag: TagUtf8, s: v} }
func Binary(v []byte) Scalar { return Scalar{tag: TagBinary, bin: v} }

func (s Scalar) Tag() Tag        { return s.tag }
func (s Scalar) IsNull() bool    { return s.tag == TagNull }
func (s Scalar) Bool() bool      { return s.b }
func (s Scalar) I32() int32      { return int32(s.i) }
func (s Scalar) I64() int64      { return s.i }
func (s Scalar) F32() float32    { return float32(s.f) }
func (s Scalar) F64() float64    { return s.f }
func (s Scalar) Str() string     { return s.s }
func (s Scalar) Bytes() []byte   { return s.bin }

func (s Scalar) isFloat() bool { return s.tag == TagF32 || s.tag == TagF64 }
func (s Scalar) isNaN() bool   { return s.isFloat() && math.IsNaN(s.f) }

// Compare implements the total ordering of spec.md §3: nulls sort first;
// across distinct types, ordering falls back to the Tag order; within a
// type, natural order; NaN floats group at the top (greater than all
// finite values) and compare equal to each other.
func Compare(a, b Scalar) int {
	if a.tag == TagNull && b.tag == TagNull {
		return 0
	}
	if a.tag == TagNull {
		return -1
	}
	if b.tag == TagNull {
		return 1
	}
	if a.tag != b.tag {
		if a.tag < b.tag {
			return -1
		}
		return 1
	}
	switch a.tag {
	case TagBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case TagI32, TagI64:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case TagF32, TagF64:
		aNaN, bNaN := a.isNaN(), b.isNaN()
		switch {
		case aNaN && bNaN:
			return 0
		case aNaN:
			return 1
		case bNaN:
			return -1
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	case TagUtf8:
		switch {
		case a.s < b.s:
			return -1
		case a.s > b.s:
			return 1
		default:
			return 0
		}
	case TagBinary:
		return compareBytes(a.bin, b.bin)
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Equal reports value equality under the same ordering rules as Compare
// (NaNs equal each other).
func Equal(a, b Scalar) bool { return Compare(a, b) == 0 }

// String stringifies a Scalar for operators that need text (LateralExplode).
// Nulls become the empty string.
func (s Scalar) String() string {
	switch s.tag {
	case TagNull:
		return ""
	case TagBool:
		if s.b {
			return "true"
		}
		return "false"
	case TagI32, TagI64:
		return strconv.FormatInt(s.i, 10)
	case TagF32, TagF64:
		return strconv.FormatFloat(s.f, 'g', -1, 64)
	case TagUtf8:
		return s.s
	case TagBinary:
		return string(s.bin)
	default:
		return ""
	}
}
