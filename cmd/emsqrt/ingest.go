package main

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/pipeline"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pipelineSpec is the CLI's on-disk pipeline description: a schema.Schema
// per declared input, a row file per input, and the Step list/root index
// pipeline.Compile expects. Parsing a pipeline definition language is a
// spec.md §4 Non-goal; this is the "already-structured form" the engine
// accepts, given a filesystem shape a human can still hand-write.
type pipelineSpec struct {
	Inputs map[string]inputSpec `json:"inputs"`
	Steps  []pipeline.Step      `json:"steps"`
	Root   int                  `json:"root"`
}

type inputSpec struct {
	Schema schema.Schema `json:"schema"`
	Rows   string        `json:"rows_file"`
}

// decodeRows turns a JSON array of objects (one per row, keyed by field
// name) into a schema.RowBatch, converting each value with sch's declared
// DataType so the resulting batch carries typed Scalars rather than raw
// JSON numbers/strings.
func decodeRows(buf []byte, sch schema.Schema) (schema.RowBatch, error) {
	var raw []map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "decode input rows")
	}
	cols := make([]schema.Column, len(sch.Fields))
	for i, f := range sch.Fields {
		cols[i] = schema.Column{Name: f.Name, Values: make([]schema.Scalar, len(raw))}
	}
	for r, row := range raw {
		for i, f := range sch.Fields {
			v, ok := row[f.Name]
			if !ok || v == nil {
				cols[i].Values[r] = schema.Null()
				continue
			}
			s, err := scalarFromJSON(v, f.Type)
			if err != nil {
				return schema.RowBatch{}, cmn.Errf(cmn.KindCodec, err, "row %d field %q", r, f.Name)
			}
			cols[i].Values[r] = s
		}
	}
	return schema.NewRowBatch(cols)
}

func scalarFromJSON(v any, dt schema.DataType) (schema.Scalar, error) {
	switch dt {
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected bool, got %T", v)
		}
		return schema.Bool(b), nil
	case schema.TypeI32:
		f, ok := v.(float64)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected number, got %T", v)
		}
		return schema.I32(int32(f)), nil
	case schema.TypeI64, schema.TypeDate64:
		f, ok := v.(float64)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected number, got %T", v)
		}
		return schema.I64(int64(f)), nil
	case schema.TypeF32:
		f, ok := v.(float64)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected number, got %T", v)
		}
		return schema.F32(float32(f)), nil
	case schema.TypeF64, schema.TypeDecimal128:
		f, ok := v.(float64)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected number, got %T", v)
		}
		return schema.F64(f), nil
	case schema.TypeUtf8:
		s, ok := v.(string)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected string, got %T", v)
		}
		return schema.Utf8(s), nil
	case schema.TypeBinary:
		s, ok := v.(string)
		if !ok {
			return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "expected string, got %T", v)
		}
		return schema.Binary([]byte(s)), nil
	default:
		return schema.Scalar{}, cmn.Errf(cmn.KindCodec, nil, "unsupported data type %v", dt)
	}
}
