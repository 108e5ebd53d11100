package operator

import (
	"context"
	"strings"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// LateralExplode splits a delimited string column into one output row
// per fragment, duplicating the rest of the row's columns (spec.md
// §4.5's lateral-explode).
type LateralExplode struct {
	Column string
	Alias  string
	Delim  string
}

func NewLateralExplode(column, alias, delim string) *LateralExplode {
	if delim == "" {
		delim = ","
	}
	return &LateralExplode{Column: column, Alias: alias, Delim: delim}
}

func (l *LateralExplode) Name() string { return "lateral" }

func (l *LateralExplode) MemoryNeed(rows, bytes int64) MemoryNeed {
	perRow := int64(8)
	if rows > 0 {
		perRow = (bytes / rows) * 3
	}
	return MemoryNeed{BytesPerRow: perRow, OverheadBytes: 0}
}

func (l *LateralExplode) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "lateral: want 1 input schema, got %d", len(inputSchemas))
	}
	in := inputSchemas[0]
	out := schema.Schema{Fields: append(append([]schema.Field{}, in.Fields...), schema.Field{Name: l.Alias, Type: schema.TypeUtf8, Nullable: true})}
	return OpPlan{OutputSchema: out}, nil
}

func (l *LateralExplode) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "lateral: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]
	src, ok := in.Column(l.Column)
	if !ok {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "lateral: unknown column %q", l.Column)
	}

	guard, err := bud.MustAcquire(in.ByteSize()*4, "lateral_output")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	names := append(append([]string{}, in.ColumnNames()...), l.Alias)
	cols := make([]schema.Column, len(names))
	for i, n := range names {
		cols[i] = schema.Column{Name: n}
	}

	for i := 0; i < in.NumRows(); i++ {
		v := src.Values[i]
		var parts []string
		if v.IsNull() {
			parts = []string{""}
		} else {
			parts = strings.Split(v.String(), l.Delim)
		}
		for _, part := range parts {
			for ci, c := range in.Columns {
				cols[ci].Values = append(cols[ci].Values, c.Values[i])
			}
			cols[len(names)-1].Values = append(cols[len(names)-1].Values, schema.Utf8(part))
		}
	}
	return schema.NewRowBatch(cols)
}
