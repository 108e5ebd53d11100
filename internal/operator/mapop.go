package operator

import (
	"context"
	"strings"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// MapOp applies a rename list "old AS new, ..." to the input batch.
// Unrecognized clauses pass through untouched; values are never changed,
// only column names (spec.md §4.5).
type MapOp struct {
	Expr string
}

func NewMapOp(expr string) *MapOp { return &MapOp{Expr: expr} }

func (m *MapOp) Name() string { return "map" }

func (m *MapOp) MemoryNeed(rows, bytes int64) MemoryNeed {
	perRow := int64(8)
	if rows > 0 {
		perRow = bytes / rows
	}
	return MemoryNeed{BytesPerRow: perRow, OverheadBytes: 0}
}

// renameClause is one "old AS new" pair from the rename list.
type renameClause struct {
	old, renamed string
}

// parseRenameList splits a comma-separated "old AS new, ..." list.
// Clauses that don't match the "old AS new" shape are skipped (pass-through).
func parseRenameList(expr string) []renameClause {
	var out []renameClause
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(strings.ToUpper(part), " AS ")
		if idx < 0 {
			continue
		}
		old := strings.TrimSpace(part[:idx])
		renamed := strings.TrimSpace(part[idx+len(" AS "):])
		if old == "" || renamed == "" {
			continue
		}
		out = append(out, renameClause{old: old, renamed: renamed})
	}
	return out
}

// renamedFields returns the output fields for in after applying clauses,
// preserving field order. Unrecognized/unmatched columns pass through
// under their original name.
func renamedFields(in schema.Schema, clauses []renameClause) []schema.Field {
	rename := make(map[string]string, len(clauses))
	for _, c := range clauses {
		rename[c.old] = c.renamed
	}
	out := make([]schema.Field, len(in.Fields))
	for i, f := range in.Fields {
		if newName, ok := rename[f.Name]; ok {
			f.Name = newName
		}
		out[i] = f
	}
	return out
}

func (m *MapOp) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "map: want 1 input schema, got %d", len(inputSchemas))
	}
	in := inputSchemas[0]
	clauses := parseRenameList(m.Expr)
	out := schema.Schema{Fields: renamedFields(in, clauses)}
	return OpPlan{OutputSchema: out}, nil
}

func (m *MapOp) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "map: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]
	clauses := parseRenameList(m.Expr)
	rename := make(map[string]string, len(clauses))
	for _, c := range clauses {
		rename[c.old] = c.renamed
	}

	cols := make([]schema.Column, len(in.Columns))
	for i, col := range in.Columns {
		name := col.Name
		if newName, ok := rename[name]; ok {
			name = newName
		}
		cols[i] = schema.Column{Name: name, Values: col.Values}
	}
	return schema.NewRowBatch(cols)
}
