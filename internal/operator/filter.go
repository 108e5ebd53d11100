package operator

import (
	"context"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// Filter keeps rows matching a single "col OP literal" predicate. It is
// stateless across blocks: eval_block never sees more than one input
// block at a time and produces at most that many rows (spec.md §4.5).
type Filter struct {
	Expr string
}

func NewFilter(expr string) *Filter { return &Filter{Expr: expr} }

func (f *Filter) Name() string { return "filter" }

func (f *Filter) MemoryNeed(rows, bytes int64) MemoryNeed {
	perRow := int64(8)
	if rows > 0 {
		perRow = bytes / rows
	}
	return MemoryNeed{BytesPerRow: perRow, OverheadBytes: 0}
}

func (f *Filter) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "filter: want 1 input schema, got %d", len(inputSchemas))
	}
	return OpPlan{OutputSchema: inputSchemas[0]}, nil
}

func (f *Filter) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "filter: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]
	pred, ok := parsePredicate(f.Expr)
	if !ok {
		return schema.RowBatch{}, cmn.Errf(cmn.KindPlan, nil, "filter: unparsable expression %q", f.Expr)
	}

	guard, err := bud.MustAcquire(in.ByteSize(), "filter_output")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	out := in.EmptyLike()
	for i := 0; i < in.NumRows(); i++ {
		keep, err := evalPredicate(pred, in, i)
		if err != nil {
			return schema.RowBatch{}, err
		}
		if !keep {
			continue
		}
		for ci, c := range in.Columns {
			out.Columns[ci].Values = append(out.Columns[ci].Values, c.Values[i])
		}
	}
	return out, nil
}
