package operator

import (
	"context"

	"github.com/NVIDIA/emsqrt/internal/budget"
	"github.com/NVIDIA/emsqrt/internal/cmn"
	"github.com/NVIDIA/emsqrt/internal/schema"
)

// Project narrows a batch to a named column subset, preserving order.
type Project struct {
	Columns []string
}

func NewProject(columns []string) *Project { return &Project{Columns: columns} }

func (p *Project) Name() string { return "project" }

func (p *Project) MemoryNeed(rows, bytes int64) MemoryNeed {
	return MemoryNeed{BytesPerRow: bytes, OverheadBytes: 0}
}

func (p *Project) Plan(inputSchemas []schema.Schema) (OpPlan, error) {
	if len(inputSchemas) != 1 {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "project: want 1 input schema, got %d", len(inputSchemas))
	}
	out, ok := inputSchemas[0].Project(p.Columns)
	if !ok {
		return OpPlan{}, cmn.Errf(cmn.KindPlan, nil, "project: unknown column in %v", p.Columns)
	}
	return OpPlan{OutputSchema: out}, nil
}

func (p *Project) EvalBlock(ctx context.Context, inputs []schema.RowBatch, bud *budget.Budget) (schema.RowBatch, error) {
	if len(inputs) != 1 {
		return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "project: want 1 input block, got %d", len(inputs))
	}
	in := inputs[0]

	guard, err := bud.MustAcquire(in.ByteSize(), "project_output")
	if err != nil {
		return schema.RowBatch{}, err
	}
	defer guard.Release()

	cols := make([]schema.Column, len(p.Columns))
	for i, name := range p.Columns {
		c, ok := in.Column(name)
		if !ok {
			return schema.RowBatch{}, cmn.Errf(cmn.KindExec, nil, "project: unknown column %q", name)
		}
		cols[i] = c
	}
	return schema.NewRowBatch(cols)
}
